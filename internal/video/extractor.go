package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// Static errors for extraction.
var (
	// ErrNoFrame is returned when no frame exists at or after the requested
	// time (the seek landed past the last presentation timestamp).
	ErrNoFrame = errors.New("no frame at or after the requested time")
	// ErrNoFramesExtracted is returned when a file-based extraction produced
	// no output images.
	ErrNoFramesExtracted = errors.New("no frames extracted from video")
)

// dimensionsRe matches the "Video: ..., WxH," fragment of the ffmpeg stream
// banner on stderr, used when the caller does not know the frame dimensions.
var dimensionsRe = regexp.MustCompile(`Video:.*, (\d+)x(\d+)`)

// ptsRe matches pts_time values logged by the showinfo filter.
var ptsRe = regexp.MustCompile(`pts_time:([0-9]+(?:\.[0-9]+)?)`)

// Extractor runs ffmpeg and ffprobe to pull frames and timestamp metadata
// out of video files. The zero-ish default extractor finds both binaries
// via PATH, decodes with vsync passthrough and logs at "error" level.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
	// vsync is the video sync method passed to ffmpeg. "0" (passthrough)
	// keeps a one-to-one mapping between decoded and emitted frames.
	vsync    string
	logLevel string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithFFmpegPath sets the path to the ffmpeg binary.
func WithFFmpegPath(path string) Option {
	return func(e *Extractor) {
		if path != "" {
			e.ffmpegPath = path
		}
	}
}

// WithFFprobePath sets the path to the ffprobe binary.
func WithFFprobePath(path string) Option {
	return func(e *Extractor) {
		if path != "" {
			e.ffprobePath = path
		}
	}
}

// WithVsync sets the ffmpeg video sync method (default "0", passthrough).
func WithVsync(mode string) Option {
	return func(e *Extractor) {
		if mode != "" {
			e.vsync = mode
		}
	}
}

// WithLogLevel sets the ffmpeg loglevel used when stderr is not parsed.
func WithLogLevel(level string) Option {
	return func(e *Extractor) {
		if level != "" {
			e.logLevel = level
		}
	}
}

// NewExtractor creates an Extractor with the given options applied.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		vsync:       "0",
		logLevel:    "error",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FrameAtTime decodes the first frame with presentation time >= t seconds.
// When width or height is unknown (<= 0) the dimensions are recovered from
// the ffmpeg stream banner on stderr. Returns ErrNoFrame when t lies past
// the last frame of the file.
func (e *Extractor) FrameAtTime(ctx context.Context, path string, t float64, width, height int) (*Frame, error) {
	args := []string{"-ss", formatSeconds(t)}
	needDims := width <= 0 || height <= 0
	if !needDims {
		// The stream banner is only needed to recover dimensions.
		args = append(args, "-hide_banner", "-loglevel", e.logLevel)
	}
	args = append(args,
		"-i", path,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)

	stdout, stderr, err := e.run(ctx, args)
	if err != nil {
		return nil, err
	}

	if needDims {
		width, height, err = parseDimensions(string(stderr))
		if err != nil {
			return nil, err
		}
	}

	if len(stdout) == 0 {
		return nil, ErrNoFrame
	}

	return NewFrame(width, height, t, stdout)
}

// Frames decodes every frame of the file into memory, attaching the
// presentation timestamp reported by the showinfo filter to each frame.
// Frames past the end of the parsed timestamp list carry PTS -1.
func (e *Extractor) Frames(ctx context.Context, path string) ([]Frame, error) {
	meta, err := e.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.framesSized(ctx, path, meta.Width, meta.Height)
}

// framesSized is Frames with dimensions already known, avoiding a probe.
func (e *Extractor) framesSized(ctx context.Context, path string, width, height int) ([]Frame, error) {
	args := []string{
		"-vsync", e.vsync,
		"-hide_banner",
		"-i", path,
		"-vf", "showinfo",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}

	stdout, stderr, err := e.run(ctx, args)
	if err != nil {
		return nil, err
	}

	pts := parsePTS(string(stderr))

	frameSize := width * height * 3
	if frameSize <= 0 || len(stdout)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d frames", ErrBadFrameData, len(stdout), width, height)
	}

	n := len(stdout) / frameSize
	frames := make([]Frame, n)
	for i := 0; i < n; i++ {
		p := -1.0
		if i < len(pts) {
			p = pts[i]
		}
		frames[i] = Frame{
			Width:  width,
			Height: height,
			PTS:    p,
			Data:   stdout[i*frameSize : (i+1)*frameSize],
		}
	}
	return frames, nil
}

// PTSList returns the presentation timestamp of every frame without
// decoding pixel data to memory: the decode goes to a null muxer and only
// the showinfo log on stderr is parsed.
func (e *Extractor) PTSList(ctx context.Context, path string) ([]float64, error) {
	args := []string{
		"-vsync", e.vsync,
		"-hide_banner",
		"-i", path,
		"-vf", "showinfo",
		"-f", "null",
		"-",
	}

	_, stderr, err := e.run(ctx, args)
	if err != nil {
		return nil, err
	}

	return parsePTS(string(stderr)), nil
}

// ExtractToFiles decodes frames sampled at the given fps into numbered image
// files under outDir and returns their paths sorted by frame number.
// maxFrames limits the output when > 0. format is the image extension
// without a dot, e.g. "png" or "jpg".
func (e *Extractor) ExtractToFiles(ctx context.Context, path, outDir string, fps float64, maxFrames int, format string) ([]string, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps: %v", fps)
	}
	if format == "" {
		format = "png"
	}

	pattern := filepath.Join(outDir, fmt.Sprintf("frame_%%04d.%s", format))
	args := []string{
		"-hide_banner",
		"-loglevel", e.logLevel,
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g", fps),
	}
	if maxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(maxFrames))
	}
	args = append(args, "-y", pattern)

	if _, _, err := e.run(ctx, args); err != nil {
		return nil, err
	}

	frames, err := filepath.Glob(filepath.Join(outDir, fmt.Sprintf("frame_*.%s", format)))
	if err != nil {
		return nil, fmt.Errorf("glob frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, ErrNoFramesExtracted
	}
	sort.Strings(frames)
	return frames, nil
}

// run executes ffmpeg with the given arguments, capturing both pipes.
// Failures are wrapped in an FFmpegError carrying the stderr output.
func (e *Extractor) run(ctx context.Context, args []string) (stdout, stderr []byte, err error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return nil, nil, &FFmpegError{
			Args:   args,
			Stderr: errBuf.String(),
			Err:    err,
		}
	}

	return outBuf.Bytes(), errBuf.Bytes(), nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// parseDimensions recovers the frame dimensions from the ffmpeg stream
// banner, e.g. "Stream #0:0: Video: h264, yuv420p, 1280x720, 25 fps".
func parseDimensions(stderr string) (width, height int, err error) {
	m := dimensionsRe.FindStringSubmatch(stderr)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: no dimensions in ffmpeg output", ErrNoVideoStream)
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: parsed %dx%d", ErrNoVideoStream, width, height)
	}
	return width, height, nil
}

// parsePTS collects every pts_time value from showinfo filter output.
func parsePTS(stderr string) []float64 {
	matches := ptsRe.FindAllStringSubmatch(stderr, -1)
	pts := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		pts = append(pts, v)
	}
	return pts
}

// formatSeconds renders a seek position for the ffmpeg command line.
func formatSeconds(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
