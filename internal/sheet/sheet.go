// Package sheet renders contact sheets, grids of thumbnails sampled
// evenly across a video with timestamp labels.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/framecat/framecat/internal/video"
)

const (
	cellPadding = 8
	labelHeight = 16
)

// ErrNoCells is returned when the requested grid has no cells.
var ErrNoCells = errors.New("sheet grid has no cells")

// Options controls the sheet layout.
type Options struct {
	Cols       int
	Rows       int
	ThumbWidth int
}

// DefaultOptions returns a 4x4 grid of 320px wide thumbnails.
func DefaultOptions() Options {
	return Options{Cols: 4, Rows: 4, ThumbWidth: 320}
}

// SampleTimes returns count timestamps spread evenly across duration,
// each placed at the midpoint of its slice so the first and last frames
// of the file are avoided.
func SampleTimes(duration float64, count int) []float64 {
	if count <= 0 || duration <= 0 {
		return nil
	}
	times := make([]float64, count)
	step := duration / float64(count)
	for i := range times {
		times[i] = (float64(i) + 0.5) * step
	}
	return times
}

// FormatTimestamp renders seconds as mm:ss.mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	mins := int(seconds) / 60
	secs := seconds - float64(mins*60)
	return fmt.Sprintf("%02d:%06.3f", mins, secs)
}

// Render samples frames from v and composes them into a labelled grid.
// Frames that cannot be decoded leave their cell blank.
func Render(ctx context.Context, v *video.Video, opts Options) (image.Image, error) {
	count := opts.Cols * opts.Rows
	if count <= 0 || opts.ThumbWidth <= 0 {
		return nil, ErrNoCells
	}

	aspect := 9.0 / 16.0
	if v.Width > 0 {
		aspect = float64(v.Height) / float64(v.Width)
	}
	thumbH := int(math.Round(float64(opts.ThumbWidth) * aspect))

	cellW := opts.ThumbWidth + cellPadding
	cellH := thumbH + labelHeight + cellPadding

	dc := gg.NewContext(opts.Cols*cellW+cellPadding, opts.Rows*cellH+cellPadding)
	dc.SetRGB(0.12, 0.12, 0.12)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	times := SampleTimes(v.Duration, count)
	for i, t := range times {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		col := i % opts.Cols
		row := i / opts.Cols
		x := cellPadding + col*cellW
		y := cellPadding + row*cellH

		frame, err := v.FrameAtTime(ctx, t)
		if err != nil {
			if errors.Is(err, video.ErrNoFrame) {
				continue
			}
			return nil, fmt.Errorf("sample frame at %.3fs: %w", t, err)
		}

		thumb := imaging.Resize(frame.ToImage(), opts.ThumbWidth, thumbH, imaging.Lanczos)
		dc.DrawImage(thumb, x, y)

		dc.SetRGB(0.9, 0.9, 0.9)
		dc.DrawString(FormatTimestamp(t), float64(x), float64(y+thumbH+labelHeight-4))
	}

	return dc.Image(), nil
}
