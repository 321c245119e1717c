package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// ErrStreamClosed is returned by Next after the stream has been closed.
var ErrStreamClosed = errors.New("frame stream is closed")

// Stream starts a decode of the whole file and returns a FrameStream that
// produces frames lazily from the decoder's stdout. When width or height is
// unknown (<= 0) the file is probed first.
//
// The caller must Close the stream as soon as it is done with it, otherwise
// the decoder process keeps running until the file is exhausted.
func (e *Extractor) Stream(ctx context.Context, path string, width, height int) (*FrameStream, error) {
	if width <= 0 || height <= 0 {
		meta, err := e.Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		width, height = meta.Width, meta.Height
	}

	args := []string{
		"-vsync", e.vsync,
		"-hide_banner",
		"-loglevel", e.logLevel,
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &FrameStream{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		width:  width,
		height: height,
	}, nil
}

// FrameStream is a lazily produced sequence of frames backed by a running
// ffmpeg process. Frames are read one at a time with Next; Close kills the
// decoder if the stream is abandoned before the end of the file.
type FrameStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	width  int
	height int
	index  int
	eof    bool
	closed bool
	waited bool
}

// Width returns the frame width in pixels.
func (s *FrameStream) Width() int { return s.width }

// Height returns the frame height in pixels.
func (s *FrameStream) Height() int { return s.height }

// Index returns the number of frames produced so far.
func (s *FrameStream) Index() int { return s.index }

// Next returns the next frame. It returns io.EOF after the last frame of
// the file, on every call from then on, and an FFmpegError if the decoder
// exited with a failure.
func (s *FrameStream) Next() (*Frame, error) {
	if s.eof {
		return nil, io.EOF
	}
	if s.closed {
		return nil, ErrStreamClosed
	}

	buf := make([]byte, s.width*s.height*3)
	_, err := io.ReadFull(s.stdout, buf)
	if errors.Is(err, io.EOF) {
		// Decoder finished; reap the process and surface any failure.
		s.eof = true
		if werr := s.reap(); werr != nil {
			return nil, &FFmpegError{
				Args:   s.cmd.Args[1:],
				Stderr: s.stderr.String(),
				Err:    werr,
			}
		}
		return nil, io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// Output ended mid-frame, so the decoder is gone. Reap it and
		// report its failure when it has one, the short read otherwise.
		s.eof = true
		if werr := s.reap(); werr != nil {
			return nil, &FFmpegError{
				Args:   s.cmd.Args[1:],
				Stderr: s.stderr.String(),
				Err:    werr,
			}
		}
		return nil, fmt.Errorf("read frame %d: %w", s.index, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read frame %d: %w", s.index, err)
	}

	f := &Frame{Width: s.width, Height: s.height, PTS: -1, Data: buf}
	s.index++
	return f, nil
}

// Close stops the underlying decoder. It is safe to call Close multiple
// times and after Next has returned io.EOF.
func (s *FrameStream) Close() error {
	if s.closed || s.eof {
		_ = s.reap()
		return nil
	}
	s.closed = true
	_ = s.cmd.Process.Kill()
	_ = s.stdout.Close()
	_ = s.reap()
	return nil
}

// reap waits for the decoder process exactly once.
func (s *FrameStream) reap() error {
	if s.waited {
		return nil
	}
	s.waited = true
	return s.cmd.Wait()
}
