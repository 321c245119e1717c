// Package main provides the framecat command line tool for inspecting
// videos and pulling single frames or contact sheets out of them.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"math/rand"
	"os"

	"github.com/framecat/framecat/internal/capture"
	"github.com/framecat/framecat/internal/sheet"
	"github.com/framecat/framecat/internal/video"
)

func main() {
	input := flag.String("input", "", "path to the input video (required)")
	meta := flag.Bool("meta", false, "print stream metadata and exit")
	pts := flag.Bool("pts", false, "print the presentation timestamp of every frame")
	frameTime := flag.Float64("time", -1, "extract the frame at this time in seconds")
	frameIndex := flag.Int("index", -1, "extract the frame with this zero-based index")
	random := flag.Bool("random", false, "extract a random frame")
	seed := flag.Int64("seed", 0, "seed for -random (0 uses the current time)")
	sheetOut := flag.Bool("sheet", false, "render a contact sheet")
	cols := flag.Int("cols", 4, "contact sheet columns")
	rows := flag.Int("rows", 4, "contact sheet rows")
	thumbWidth := flag.Int("width", 320, "contact sheet thumbnail width")
	backend := flag.String("backend", "ffmpeg", "decode backend for -index: ffmpeg or opencv")
	out := flag.String("out", "frame.png", "output PNG path")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe", "", "path to the ffprobe binary")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(options{
		input:       *input,
		meta:        *meta,
		pts:         *pts,
		frameTime:   *frameTime,
		frameIndex:  *frameIndex,
		random:      *random,
		seed:        *seed,
		sheet:       *sheetOut,
		cols:        *cols,
		rows:        *rows,
		thumbWidth:  *thumbWidth,
		backend:     *backend,
		out:         *out,
		ffmpegPath:  *ffmpegPath,
		ffprobePath: *ffprobePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	input       string
	meta        bool
	pts         bool
	frameTime   float64
	frameIndex  int
	random      bool
	seed        int64
	sheet       bool
	cols        int
	rows        int
	thumbWidth  int
	backend     string
	out         string
	ffmpegPath  string
	ffprobePath string
}

func run(opts options) error {
	ctx := context.Background()

	v, err := video.Open(ctx, opts.input,
		video.WithFFmpegPath(opts.ffmpegPath),
		video.WithFFprobePath(opts.ffprobePath),
	)
	if err != nil {
		return err
	}

	switch {
	case opts.meta:
		return printMeta(v)
	case opts.pts:
		return printPTS(ctx, v)
	case opts.sheet:
		return renderSheet(ctx, v, opts)
	case opts.frameTime >= 0:
		frame, err := v.FrameAtTime(ctx, opts.frameTime)
		if err != nil {
			return err
		}
		return saveFrame(frame, opts.out)
	case opts.frameIndex >= 0:
		return extractIndex(ctx, v, opts)
	case opts.random:
		var rng *rand.Rand
		if opts.seed != 0 {
			rng = rand.New(rand.NewSource(opts.seed))
		}
		frame, err := v.RandomFrame(ctx, rng)
		if err != nil {
			return err
		}
		fmt.Printf("picked frame at %.3fs\n", frame.PTS)
		return saveFrame(frame, opts.out)
	default:
		return printMeta(v)
	}
}

func printMeta(v *video.Video) error {
	m := v.Metadata()
	fmt.Printf("path:       %s\n", v.Path())
	fmt.Printf("dimensions: %dx%d\n", m.Width, m.Height)
	fmt.Printf("duration:   %.3fs\n", m.Duration)
	fmt.Printf("rotation:   %d\n", m.Rotation)
	fmt.Printf("codec:      %s\n", m.Codec)
	fmt.Printf("frame rate: %.3f\n", m.FrameRate)
	return nil
}

func printPTS(ctx context.Context, v *video.Video) error {
	pts, err := v.PTS(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d frames\n", len(pts))
	for i, t := range pts {
		fmt.Printf("%6d  %.6f\n", i, t)
	}
	return nil
}

func extractIndex(ctx context.Context, v *video.Video, opts options) error {
	switch opts.backend {
	case "ffmpeg":
		frame, err := v.FrameAt(ctx, opts.frameIndex)
		if err != nil {
			return err
		}
		return saveFrame(frame, opts.out)
	case "opencv":
		r, err := capture.Open(opts.input)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()

		frame, err := r.FrameAt(opts.frameIndex)
		if err != nil {
			return err
		}
		return saveFrame(frame, opts.out)
	default:
		return fmt.Errorf("unknown backend %q", opts.backend)
	}
}

func renderSheet(ctx context.Context, v *video.Video, opts options) error {
	img, err := sheet.Render(ctx, v, sheet.Options{
		Cols:       opts.cols,
		Rows:       opts.rows,
		ThumbWidth: opts.thumbWidth,
	})
	if err != nil {
		return err
	}

	f, err := os.Create(opts.out) // #nosec G304 - output path comes from the CLI flag
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return png.Encode(f, img)
}

func saveFrame(frame *video.Frame, out string) error {
	f, err := os.Create(out) // #nosec G304 - output path comes from the CLI flag
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := frame.EncodePNG(f); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%dx%d)\n", out, frame.Width, frame.Height)
	return nil
}
