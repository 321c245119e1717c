package video

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
)

// ErrBadFrameData is returned when a rawvideo payload does not match the
// expected width*height*3 layout.
var ErrBadFrameData = errors.New("unexpected rawvideo payload size")

// Frame is a single decoded video frame in packed 8-bit RGB.
type Frame struct {
	// Width is the frame width in pixels.
	Width int
	// Height is the frame height in pixels.
	Height int
	// PTS is the presentation timestamp in seconds, or -1 when unknown.
	PTS float64
	// Data holds rgb24 pixels in row-major order, len == Width*Height*3.
	Data []byte
}

// NewFrame builds a Frame from a rawvideo rgb24 payload, validating that
// the payload size matches the dimensions.
func NewFrame(width, height int, pts float64, data []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadFrameData, width, height)
	}
	if len(data) != width*height*3 {
		return nil, fmt.Errorf("%w: got %d bytes, want %d (%dx%dx3)",
			ErrBadFrameData, len(data), width*height*3, width, height)
	}
	return &Frame{Width: width, Height: height, PTS: pts, Data: data}, nil
}

// At returns the red, green and blue components of the pixel at (x, y).
func (f *Frame) At(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 3
	return f.Data[i], f.Data[i+1], f.Data[i+2]
}

// ToImage copies the frame into a standard *image.RGBA.
func (f *Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*f.Width*3 : (y+1)*f.Width*3]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < f.Width; x++ {
			dst[x*4+0] = src[x*3+0]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img
}

// EncodePNG writes the frame to w as a PNG image.
func (f *Frame) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, f.ToImage()); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// EncodeJPEG writes the frame to w as a JPEG image with quality 90.
func (f *Frame) EncodeJPEG(w io.Writer) error {
	if err := jpeg.Encode(w, f.ToImage(), &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}
