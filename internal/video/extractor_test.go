package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// createTestVideo creates a small test video using an ffmpeg lavfi source.
// rate and duration control the expected frame count (rate * duration).
func createTestVideo(t *testing.T, path string, duration float64, rate int) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=size=64x48:rate=%d:duration=%.1f", rate, duration),
		"-pix_fmt", "yuv420p",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestNewExtractor(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		e := NewExtractor()
		if e.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default ffmpeg path, got %q", e.ffmpegPath)
		}
		if e.ffprobePath != "ffprobe" {
			t.Errorf("expected default ffprobe path, got %q", e.ffprobePath)
		}
		if e.vsync != "0" {
			t.Errorf("expected passthrough vsync, got %q", e.vsync)
		}
		if e.logLevel != "error" {
			t.Errorf("expected error loglevel, got %q", e.logLevel)
		}
	})

	t.Run("options", func(t *testing.T) {
		e := NewExtractor(
			WithFFmpegPath("/opt/ffmpeg"),
			WithFFprobePath("/opt/ffprobe"),
			WithVsync("cfr"),
			WithLogLevel("warning"),
		)
		if e.ffmpegPath != "/opt/ffmpeg" || e.ffprobePath != "/opt/ffprobe" {
			t.Errorf("binary paths not applied: %q %q", e.ffmpegPath, e.ffprobePath)
		}
		if e.vsync != "cfr" || e.logLevel != "warning" {
			t.Errorf("vsync/loglevel not applied: %q %q", e.vsync, e.logLevel)
		}
	})
}

func TestParseDimensions(t *testing.T) {
	banner := "  Stream #0:0(und): Video: h264 (High) (avc1 / 0x31637661), " +
		"yuv420p(progressive), 1280x720 [SAR 1:1 DAR 16:9], 1003 kb/s, 25 fps"

	w, h, err := parseDimensions(banner)
	if err != nil {
		t.Fatalf("parseDimensions failed: %v", err)
	}
	if w != 1280 || h != 720 {
		t.Errorf("expected 1280x720, got %dx%d", w, h)
	}

	t.Run("no video line", func(t *testing.T) {
		_, _, err := parseDimensions("Stream #0:0: Audio: aac, 44100 Hz, mono")
		if !errors.Is(err, ErrNoVideoStream) {
			t.Errorf("expected ErrNoVideoStream, got %v", err)
		}
	})
}

func TestParsePTS(t *testing.T) {
	stderr := strings.Join([]string{
		"[Parsed_showinfo_0 @ 0x55] n:   0 pts:      0 pts_time:0        duration_time:0.04",
		"[Parsed_showinfo_0 @ 0x55] n:   1 pts:   3600 pts_time:0.04     duration_time:0.04",
		"[Parsed_showinfo_0 @ 0x55] n:   2 pts:   7200 pts_time:0.08     duration_time:0.04",
	}, "\n")

	pts := parsePTS(stderr)
	if len(pts) != 3 {
		t.Fatalf("expected 3 timestamps, got %d", len(pts))
	}
	want := []float64{0, 0.04, 0.08}
	for i, v := range want {
		if math.Abs(pts[i]-v) > 1e-9 {
			t.Errorf("pts[%d]: expected %v, got %v", i, v, pts[i])
		}
	}

	t.Run("empty input", func(t *testing.T) {
		if got := parsePTS(""); len(got) != 0 {
			t.Errorf("expected no timestamps, got %v", got)
		}
	})
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1.5, "1.5"},
		{0.04, "0.04"},
		{120, "120"},
	}
	for _, tc := range tests {
		if got := formatSeconds(tc.in); got != tc.want {
			t.Errorf("formatSeconds(%v): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 30000.0 / 1001.0},
		{"0/0", 0},
		{"", 0},
		{"24", 24},
	}
	for _, tc := range tests {
		if got := parseFrameRate(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("parseFrameRate(%q): expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Args:   []string{"-i", "input.mp4"},
		Stderr: "No such file or directory",
		Err:    fmt.Errorf("exit status 1"),
	}

	if !strings.Contains(err.Error(), "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(err.Error(), "No such file or directory") {
		t.Error("Error() should contain stderr")
	}
	if err.Unwrap() == nil {
		t.Error("Unwrap() returned nil")
	}
}

func TestProbe(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "probe.mp4")
	createTestVideo(t, path, 1.0, 10)

	e := NewExtractor()
	ctx := context.Background()

	meta, err := e.Probe(ctx, path)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if meta.Width != 64 || meta.Height != 48 {
		t.Errorf("expected 64x48, got %dx%d", meta.Width, meta.Height)
	}
	if meta.Duration < 0.9 || meta.Duration > 1.1 {
		t.Errorf("expected duration ~1.0s, got %v", meta.Duration)
	}
	if math.Abs(meta.FrameRate-10) > 0.1 {
		t.Errorf("expected frame rate ~10, got %v", meta.FrameRate)
	}

	t.Run("non-existent file", func(t *testing.T) {
		_, err := e.Probe(ctx, filepath.Join(tmpDir, "missing.mp4"))
		if !errors.Is(err, ErrFFprobeExecution) {
			t.Errorf("expected ErrFFprobeExecution, got %v", err)
		}
	})
}

func TestFrameAtTime(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "seek.mp4")
	createTestVideo(t, path, 1.0, 10)

	e := NewExtractor()
	ctx := context.Background()

	t.Run("known dimensions", func(t *testing.T) {
		f, err := e.FrameAtTime(ctx, path, 0.5, 64, 48)
		if err != nil {
			t.Fatalf("FrameAtTime failed: %v", err)
		}
		if len(f.Data) != 64*48*3 {
			t.Errorf("expected %d bytes, got %d", 64*48*3, len(f.Data))
		}
		if f.PTS != 0.5 {
			t.Errorf("expected PTS 0.5, got %v", f.PTS)
		}
	})

	t.Run("dimensions from stream banner", func(t *testing.T) {
		f, err := e.FrameAtTime(ctx, path, 0, 0, 0)
		if err != nil {
			t.Fatalf("FrameAtTime failed: %v", err)
		}
		if f.Width != 64 || f.Height != 48 {
			t.Errorf("expected 64x48, got %dx%d", f.Width, f.Height)
		}
	})

	t.Run("past end of file", func(t *testing.T) {
		_, err := e.FrameAtTime(ctx, path, 100, 64, 48)
		if !errors.Is(err, ErrNoFrame) {
			t.Errorf("expected ErrNoFrame, got %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.FrameAtTime(ctx, path, 0, 64, 48)
		if err == nil {
			t.Error("expected error for cancelled context, got nil")
		}
	})
}

func TestPTSList(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "pts.mp4")
	createTestVideo(t, path, 1.0, 10)

	e := NewExtractor()
	pts, err := e.PTSList(context.Background(), path)
	if err != nil {
		t.Fatalf("PTSList failed: %v", err)
	}
	if len(pts) != 10 {
		t.Errorf("expected 10 timestamps, got %d", len(pts))
	}
	if !sort.Float64sAreSorted(pts) {
		t.Error("timestamps are not monotonically increasing")
	}
}

func TestFrames(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "all.mp4")
	createTestVideo(t, path, 1.0, 10)

	e := NewExtractor()
	frames, err := e.Frames(context.Background(), path)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 10 {
		t.Errorf("expected 10 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f.Data) != 64*48*3 {
			t.Fatalf("frame %d: expected %d bytes, got %d", i, 64*48*3, len(f.Data))
		}
		if f.PTS < 0 {
			t.Errorf("frame %d: missing PTS", i)
		}
	}
}

func TestStream(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "stream.mp4")
	createTestVideo(t, path, 1.0, 10)

	e := NewExtractor()
	ctx := context.Background()

	t.Run("iterates all frames", func(t *testing.T) {
		s, err := e.Stream(ctx, path, 0, 0)
		if err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		defer s.Close()

		n := 0
		for {
			f, err := s.Next()
			if err != nil {
				break
			}
			if len(f.Data) != 64*48*3 {
				t.Fatalf("frame %d: expected %d bytes, got %d", n, 64*48*3, len(f.Data))
			}
			n++
		}
		if n != 10 {
			t.Errorf("expected 10 frames, got %d", n)
		}
	})

	t.Run("stays at EOF once drained", func(t *testing.T) {
		s, err := e.Stream(ctx, path, 64, 48)
		if err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		defer s.Close()

		for {
			if _, err := s.Next(); err != nil {
				if !errors.Is(err, io.EOF) {
					t.Fatalf("expected io.EOF at end of stream, got %v", err)
				}
				break
			}
		}
		for i := 0; i < 3; i++ {
			if _, err := s.Next(); !errors.Is(err, io.EOF) {
				t.Fatalf("call %d after drain: expected io.EOF, got %v", i, err)
			}
		}
	})

	t.Run("close before end kills decoder", func(t *testing.T) {
		s, err := e.Stream(ctx, path, 64, 48)
		if err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		if _, err := s.Next(); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if _, err := s.Next(); !errors.Is(err, ErrStreamClosed) {
			t.Errorf("expected ErrStreamClosed after Close, got %v", err)
		}
	})
}

func TestExtractToFiles(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "files.mp4")
	createTestVideo(t, path, 2.0, 10)

	e := NewExtractor()
	ctx := context.Background()

	t.Run("fps sampling", func(t *testing.T) {
		outDir := t.TempDir()
		frames, err := e.ExtractToFiles(ctx, path, outDir, 2, 0, "png")
		if err != nil {
			t.Fatalf("ExtractToFiles failed: %v", err)
		}
		// 2 seconds at 2 fps
		if len(frames) < 3 || len(frames) > 5 {
			t.Errorf("expected ~4 frames, got %d", len(frames))
		}
	})

	t.Run("max frames cap", func(t *testing.T) {
		outDir := t.TempDir()
		frames, err := e.ExtractToFiles(ctx, path, outDir, 10, 3, "png")
		if err != nil {
			t.Fatalf("ExtractToFiles failed: %v", err)
		}
		if len(frames) != 3 {
			t.Errorf("expected 3 frames, got %d", len(frames))
		}
	})

	t.Run("invalid fps", func(t *testing.T) {
		if _, err := e.ExtractToFiles(ctx, path, t.TempDir(), 0, 0, "png"); err == nil {
			t.Error("expected error for zero fps, got nil")
		}
	})
}
