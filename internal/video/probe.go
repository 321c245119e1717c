package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for probing.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when a file contains no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
)

// Metadata describes the video stream of a media file as reported by ffprobe.
// Width and Height are display dimensions: when the stream carries a rotation
// of 90 or 270 degrees the stored dimensions are swapped, matching the frames
// ffmpeg produces after auto-rotation.
type Metadata struct {
	Width    int
	Height   int
	Duration float64
	// Rotation is the rotation tag in degrees, 0 when absent.
	Rotation int
	Codec    string
	// FrameRate is the average frame rate in frames per second, 0 when unknown.
	FrameRate float64
}

// probeOutput mirrors the JSON emitted by ffprobe -print_format json.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Duration     string            `json:"duration"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Tags         map[string]string `json:"tags"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// Probe runs ffprobe on path and returns the video stream metadata.
func (e *Extractor) Probe(ctx context.Context, path string) (*Metadata, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	return metadataFromProbe(&out)
}

// metadataFromProbe selects the first video stream and normalizes its fields.
func metadataFromProbe(out *probeOutput) (*Metadata, error) {
	var stream *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			stream = &out.Streams[i]
			break
		}
	}
	if stream == nil {
		return nil, ErrNoVideoStream
	}

	meta := &Metadata{
		Width:  stream.Width,
		Height: stream.Height,
		Codec:  stream.CodecName,
	}

	if rotate, ok := stream.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(rotate); err == nil {
			meta.Rotation = deg
		}
	}
	// ffmpeg auto-rotates decoded frames, so the raw output dimensions are
	// swapped for 90/270 degree rotations.
	if rot := meta.Rotation; rot%180 != 0 {
		meta.Width, meta.Height = meta.Height, meta.Width
	}

	if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
		meta.Duration = d
	} else if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		// Some containers only report duration at format level.
		meta.Duration = d
	}

	meta.FrameRate = parseFrameRate(stream.AvgFrameRate)

	return meta, nil
}

// parseFrameRate parses ffprobe's "num/den" frame rate notation.
// Returns 0 for missing or degenerate values such as "0/0".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
