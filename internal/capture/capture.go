// Package capture reads video frames through the OpenCV VideoCapture
// binding. It is the decoder-library counterpart to the ffmpeg-based
// internal/video package and produces the same Frame type.
package capture

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/framecat/framecat/internal/video"
)

// ErrCaptureClosed is returned when reading from a closed Reader.
var ErrCaptureClosed = errors.New("capture is closed")

// EndOfStream reports normal termination of a Frames sequence, carrying
// the number of frames produced.
type EndOfStream struct {
	Frames int
}

func (e *EndOfStream) Error() string {
	return "video stream complete, frames: " + strconv.Itoa(e.Frames)
}

// Reader wraps an OpenCV VideoCapture opened on a single file.
type Reader struct {
	cap    *gocv.VideoCapture
	path   string
	closed bool
}

// Open opens a video file for reading.
func Open(path string) (*Reader, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video file: %w", err)
	}
	return &Reader{cap: cap, path: path}, nil
}

// Close releases the underlying capture.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.cap.Close()
}

// Width returns the frame width reported by the capture.
func (r *Reader) Width() int {
	return int(r.cap.Get(gocv.VideoCaptureFrameWidth))
}

// Height returns the frame height reported by the capture.
func (r *Reader) Height() int {
	return int(r.cap.Get(gocv.VideoCaptureFrameHeight))
}

// FPS returns the frame rate reported by the capture.
func (r *Reader) FPS() float64 {
	return r.cap.Get(gocv.VideoCaptureFPS)
}

// FrameCount returns the total frame count reported by the container.
// Some containers report an estimate; treat it as a hint.
func (r *Reader) FrameCount() int {
	return int(r.cap.Get(gocv.VideoCaptureFrameCount))
}

// Next reads and decodes the next frame, converting OpenCV's BGR layout
// to RGB. Returns io.EOF when the stream is exhausted.
func (r *Reader) Next() (*video.Frame, error) {
	if r.closed {
		return nil, ErrCaptureClosed
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := r.cap.Read(&mat); !ok || mat.Empty() {
		return nil, io.EOF
	}

	return r.matToFrame(&mat)
}

// FrameAt returns the frame with the given zero-based index. Positional
// seeking (CAP_PROP_POS_FRAMES) is unreliable for many codecs, so the
// reader walks forward with grab() instead; indexes are relative to the
// current position of a freshly opened reader.
func (r *Reader) FrameAt(n int) (*video.Frame, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: index %d", video.ErrFrameOutOfRange, n)
	}
	if r.closed {
		return nil, ErrCaptureClosed
	}

	if n > 0 {
		r.cap.Grab(n)
	}

	f, err := r.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: index %d", video.ErrFrameOutOfRange, n)
	}
	return f, err
}

// ReadAll decodes every remaining frame into memory.
func (r *Reader) ReadAll() ([]video.Frame, error) {
	var frames []video.Frame
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, *f)
	}
}

// matToFrame converts a decoded BGR mat to an RGB Frame, attaching the
// capture's current position as the presentation timestamp.
func (r *Reader) matToFrame(mat *gocv.Mat) (*video.Frame, error) {
	rgb := gocv.NewMat()
	defer rgb.Close()

	gocv.CvtColor(*mat, &rgb, gocv.ColorBGRToRGB)

	pts := r.cap.Get(gocv.VideoCapturePosMsec) / 1000.0
	return video.NewFrame(rgb.Cols(), rgb.Rows(), pts, rgb.ToBytes())
}

// Frames opens path and produces its frames on a channel until the file is
// exhausted or done is closed. The error channel receives exactly one
// value: an *EndOfStream on normal completion, or the failure that stopped
// the sequence.
func Frames(done <-chan struct{}, path string) (<-chan video.Frame, <-chan error) {
	framec := make(chan video.Frame)
	errc := make(chan error, 1)

	go func() {
		defer close(framec)

		r, err := Open(path)
		if err != nil {
			errc <- err
			return
		}
		defer r.Close()

		errc <- func() error {
			n := 0
			for {
				f, err := r.Next()
				if errors.Is(err, io.EOF) {
					return &EndOfStream{Frames: n}
				}
				if err != nil {
					return err
				}
				select {
				case framec <- *f:
				case <-done:
					return errors.New("frame extraction canceled")
				}
				n++
			}
		}()
	}()

	return framec, errc
}
