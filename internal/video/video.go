// Package video extracts individual frames, frame sequences and per-frame
// presentation timestamps from video files by shelling out to ffmpeg and
// ffprobe. Decoding, seeking and timestamp computation are delegated
// entirely to the external decoder; this package reshapes its rawvideo
// output and parses the small amount of text metadata it reports.
package video

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ErrFrameOutOfRange is returned when a frame index is outside the video.
var ErrFrameOutOfRange = errors.New("frame index out of range")

// randomFrameAttempts bounds the retry loop in RandomFrame for files whose
// reported duration extends past the last decodable frame.
const randomFrameAttempts = 32

// Video wraps a single video file. It is probed once on Open and computes
// its presentation timestamp list lazily on first use.
type Video struct {
	path string
	ex   *Extractor
	meta *Metadata

	// Width and Height are the display dimensions in pixels.
	Width  int
	Height int
	// Duration is the video stream duration in seconds.
	Duration float64

	mu  sync.Mutex
	pts []float64
}

// Open probes path and returns a handle to the video file. Options
// configure the Extractor used for all subsequent operations.
func Open(ctx context.Context, path string, opts ...Option) (*Video, error) {
	return OpenWith(ctx, NewExtractor(opts...), path)
}

// OpenWith is Open with a caller-supplied Extractor.
func OpenWith(ctx context.Context, ex *Extractor, path string) (*Video, error) {
	meta, err := ex.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	return &Video{
		path:     path,
		ex:       ex,
		meta:     meta,
		Width:    meta.Width,
		Height:   meta.Height,
		Duration: meta.Duration,
	}, nil
}

// Path returns the path the video was opened from.
func (v *Video) Path() string { return v.path }

// Metadata returns the probe result for the video stream.
func (v *Video) Metadata() *Metadata { return v.meta }

// PTS returns the presentation timestamp of every frame in seconds. The
// list is computed on first call (a full decode pass without pixel output)
// and cached for the lifetime of the handle.
func (v *Video) PTS(ctx context.Context) ([]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.pts != nil {
		return v.pts, nil
	}

	pts, err := v.ex.PTSList(ctx, v.path)
	if err != nil {
		return nil, err
	}
	v.pts = pts
	return v.pts, nil
}

// SetPTS seeds the cached timestamp list, e.g. from a persistent cache,
// so FrameAt does not need a decode pass to resolve indexes.
func (v *Video) SetPTS(pts []float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pts = pts
}

// FrameAtTime returns the first frame with presentation time >= t seconds.
// Returns ErrNoFrame when t lies past the last frame.
func (v *Video) FrameAtTime(ctx context.Context, t float64) (*Frame, error) {
	return v.ex.FrameAtTime(ctx, v.path, t, v.Width, v.Height)
}

// FrameAt returns the frame with the given zero-based index. The index is
// resolved to a timestamp through the PTS list, then fetched with a seek.
func (v *Video) FrameAt(ctx context.Context, index int) (*Frame, error) {
	pts, err := v.PTS(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(pts) {
		return nil, fmt.Errorf("%w: index %d, frames %d", ErrFrameOutOfRange, index, len(pts))
	}

	f, err := v.FrameAtTime(ctx, pts[index])
	if err != nil {
		return nil, err
	}
	f.PTS = pts[index]
	return f, nil
}

// RandomFrame returns a frame at a time drawn uniformly from the video
// duration. Draws landing past the last decodable frame are retried. A nil
// rng falls back to a time-seeded source.
func (v *Video) RandomFrame(ctx context.Context, rng *rand.Rand) (*Frame, error) {
	if v.Duration <= 0 {
		return nil, ErrNoFrame
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	for attempt := 0; attempt < randomFrameAttempts; attempt++ {
		t := rng.Float64() * v.Duration
		f, err := v.FrameAtTime(ctx, t)
		if errors.Is(err, ErrNoFrame) {
			continue
		}
		return f, err
	}
	return nil, ErrNoFrame
}

// Frames decodes the whole file into memory with per-frame timestamps.
func (v *Video) Frames(ctx context.Context) ([]Frame, error) {
	return v.ex.framesSized(ctx, v.path, v.Width, v.Height)
}

// Stream starts a lazy decode of the whole file. The caller must Close the
// returned stream.
func (v *Video) Stream(ctx context.Context) (*FrameStream, error) {
	return v.ex.Stream(ctx, v.path, v.Width, v.Height)
}
