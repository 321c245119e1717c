package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/framecat/framecat/internal/cache"
	"github.com/framecat/framecat/internal/sheet"
	"github.com/framecat/framecat/internal/storage"
	"github.com/framecat/framecat/internal/video"
)

// ErrNoSampling is returned when an extraction request specifies neither a
// sampling rate nor explicit timestamps.
var ErrNoSampling = errors.New("either fps or timestamps must be provided")

// ErrAmbiguousSampling is returned when a request specifies both a sampling
// rate and explicit timestamps.
var ErrAmbiguousSampling = errors.New("fps and timestamps are mutually exclusive")

// ExtractInput contains the parameters for a frame extraction job.
type ExtractInput struct {
	// Source is a local path or an s3:// URI.
	Source string
	// FPS samples frames at a fixed rate when > 0.
	FPS float64
	// Timestamps lists explicit seek points in seconds.
	Timestamps []float64
	// MaxFrames caps the number of extracted frames. Zero means no cap.
	MaxFrames int
	// Format is the output image format, png or jpg. Defaults to png.
	Format string
	// Upload pushes extracted frames to object storage when true.
	Upload bool
	// UploadPrefix is the object key prefix for uploaded frames.
	UploadPrefix string
}

// ExtractService orchestrates frame extraction jobs. It resolves sources
// through storage, extracts frames with the decoder, persists job state in
// the repository and serves the synchronous metadata and frame lookups.
type ExtractService struct {
	repo   Repository
	ex     *video.Extractor
	store  storage.Storage
	cache  *cache.Cache
	logger *slog.Logger
}

// NewExtractService creates a new ExtractService. The cache is optional;
// pass nil to probe and scan timestamps on every request.
func NewExtractService(repo Repository, ex *video.Extractor, store storage.Storage, c *cache.Cache, logger *slog.Logger) *ExtractService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractService{
		repo:   repo,
		ex:     ex,
		store:  store,
		cache:  c,
		logger: logger,
	}
}

// CreateJob validates the input, creates a job and persists it in IN_QUEUE
// status, ready for processing.
func (s *ExtractService) CreateJob(ctx context.Context, input ExtractInput) (*Job, error) {
	if input.FPS <= 0 && len(input.Timestamps) == 0 {
		return nil, ErrNoSampling
	}
	if input.FPS > 0 && len(input.Timestamps) > 0 {
		return nil, ErrAmbiguousSampling
	}

	j := New()
	j.Source = input.Source
	j.FPS = input.FPS
	j.Timestamps = append([]float64(nil), input.Timestamps...)
	j.MaxFrames = input.MaxFrames
	if input.Format != "" {
		j.Format = input.Format
	}
	j.Upload = input.Upload
	j.UploadPrefix = input.UploadPrefix

	s.logger.Info("creating extraction job",
		slog.String("job_id", j.ID),
		slog.String("source", input.Source),
		slog.Float64("fps", input.FPS),
		slog.Int("timestamps", len(input.Timestamps)),
		slog.Bool("upload", input.Upload),
	)

	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return j, nil
}

// GetJob retrieves a job by ID.
func (s *ExtractService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, newest first.
func (s *ExtractService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// DeleteJob removes a job and its extracted frame files.
func (s *ExtractService) DeleteJob(ctx context.Context, id string) error {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.CleanupTemp(ctx, j.FramePaths); err != nil {
		s.logger.Warn("failed to remove frame files",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}
	if j.OutputDir != "" {
		if err := os.RemoveAll(j.OutputDir); err != nil {
			s.logger.Warn("failed to remove output directory",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return s.repo.Delete(ctx, id)
}

// ProcessJob runs the extraction workflow for a queued job: resolve the
// source, extract frames by rate or by timestamp, optionally upload them,
// and record the result. Failures are written back to the job.
func (s *ExtractService) ProcessJob(ctx context.Context, jobID string) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		s.logger.Error("job not found for processing", slog.String("job_id", jobID))
		return
	}

	if err := j.Start(); err != nil {
		s.logger.Error("cannot start job",
			slog.String("job_id", jobID),
			slog.String("status", string(j.GetStatus())),
		)
		return
	}
	s.save(ctx, j)

	localPath, local, err := s.store.Fetch(ctx, j.Source)
	if err != nil {
		s.fail(ctx, j, fmt.Errorf("fetch source: %w", err))
		return
	}
	if !local {
		defer func() {
			_ = s.store.CleanupTemp(ctx, []string{localPath})
		}()
	}
	j.UpdateProgress(10)
	s.save(ctx, j)

	outDir, err := os.MkdirTemp("", "frames_"+j.ID+"_")
	if err != nil {
		s.fail(ctx, j, fmt.Errorf("create output directory: %w", err))
		return
	}
	j.SetOutputDir(outDir)
	s.save(ctx, j)

	var (
		framePaths []string
		pts        []float64
	)
	if j.FPS > 0 {
		framePaths, pts, err = s.extractByRate(ctx, j, localPath, outDir)
	} else {
		framePaths, pts, err = s.extractByTimestamps(ctx, j, localPath, outDir)
	}
	if err != nil {
		_ = os.RemoveAll(outDir)
		s.fail(ctx, j, err)
		return
	}
	j.UpdateProgress(90)
	s.save(ctx, j)

	var frameURLs []string
	if j.Upload {
		frameURLs, err = s.uploadFrames(ctx, j, framePaths)
		if err != nil {
			_ = os.RemoveAll(outDir)
			s.fail(ctx, j, fmt.Errorf("upload frames: %w", err))
			return
		}
	}

	j.SetResult(framePaths, pts, frameURLs)
	if err := j.Complete(); err != nil {
		s.logger.Error("cannot complete job", slog.String("job_id", j.ID))
		return
	}
	j.UpdateProgress(100)
	s.save(ctx, j)

	s.logger.Info("extraction job completed",
		slog.String("job_id", j.ID),
		slog.Int("frames", len(framePaths)),
	)
}

// extractByRate samples frames at the job's fps into numbered files.
// Timestamps are approximated from the sampling rate.
func (s *ExtractService) extractByRate(ctx context.Context, j *Job, src, outDir string) ([]string, []float64, error) {
	framePaths, err := s.ex.ExtractToFiles(ctx, src, outDir, j.FPS, j.MaxFrames, j.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("extract at %gfps: %w", j.FPS, err)
	}

	pts := make([]float64, len(framePaths))
	for i := range pts {
		pts[i] = float64(i) / j.FPS
	}
	return framePaths, pts, nil
}

// extractByTimestamps seeks to each requested timestamp and writes the
// decoded frame as an image file. Timestamps past the end of the video fail
// the job.
func (s *ExtractService) extractByTimestamps(ctx context.Context, j *Job, src, outDir string) ([]string, []float64, error) {
	meta, err := s.metaForPath(ctx, src)
	if err != nil {
		return nil, nil, fmt.Errorf("probe source: %w", err)
	}

	timestamps := j.Timestamps
	if j.MaxFrames > 0 && len(timestamps) > j.MaxFrames {
		timestamps = timestamps[:j.MaxFrames]
	}

	framePaths := make([]string, 0, len(timestamps))
	pts := make([]float64, 0, len(timestamps))
	for i, t := range timestamps {
		frame, err := s.ex.FrameAtTime(ctx, src, t, meta.Width, meta.Height)
		if err != nil {
			return nil, nil, fmt.Errorf("extract frame at %gs: %w", t, err)
		}

		var buf bytes.Buffer
		if j.Format == "jpg" {
			err = frame.EncodeJPEG(&buf)
		} else {
			err = frame.EncodePNG(&buf)
		}
		if err != nil {
			return nil, nil, err
		}

		framePath := filepath.Join(outDir, fmt.Sprintf("frame_%04d.%s", i+1, j.Format))
		if err := os.WriteFile(framePath, buf.Bytes(), 0600); err != nil {
			return nil, nil, fmt.Errorf("write frame file: %w", err)
		}

		framePaths = append(framePaths, framePath)
		pts = append(pts, t)

		j.UpdateProgress(10 + (i+1)*80/len(timestamps))
		s.save(ctx, j)
	}

	return framePaths, pts, nil
}

// uploadFrames pushes each frame file to object storage and returns the
// resulting URLs in frame order.
func (s *ExtractService) uploadFrames(ctx context.Context, j *Job, framePaths []string) ([]string, error) {
	prefix := j.UploadPrefix
	if prefix == "" {
		prefix = j.ID
	}

	urls := make([]string, 0, len(framePaths))
	for _, p := range framePaths {
		f, err := os.Open(p) // #nosec G304 - paths are created by this service
		if err != nil {
			return nil, fmt.Errorf("open frame %s: %w", p, err)
		}

		key := path.Join(prefix, filepath.Base(p))
		url, err := s.store.Upload(ctx, key, f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// Meta resolves a source and returns its probed stream metadata, consulting
// the cache when one is configured.
func (s *ExtractService) Meta(ctx context.Context, source string) (*video.Metadata, error) {
	localPath, cleanup, err := s.resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return s.metaForPath(ctx, localPath)
}

// PTS resolves a source and returns its per-frame presentation timestamps,
// consulting the cache when one is configured.
func (s *ExtractService) PTS(ctx context.Context, source string) ([]float64, error) {
	localPath, cleanup, err := s.resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return s.ptsForPath(ctx, localPath)
}

// FrameAtTime resolves a source and returns the first frame at or after t
// seconds.
func (s *ExtractService) FrameAtTime(ctx context.Context, source string, t float64) (*video.Frame, error) {
	localPath, cleanup, err := s.resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	meta, err := s.metaForPath(ctx, localPath)
	if err != nil {
		return nil, err
	}
	return s.ex.FrameAtTime(ctx, localPath, t, meta.Width, meta.Height)
}

// FrameAtIndex resolves a source and returns the frame with the given
// zero-based index, looked up through the timestamp list.
func (s *ExtractService) FrameAtIndex(ctx context.Context, source string, index int) (*video.Frame, error) {
	localPath, cleanup, err := s.resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	pts, err := s.ptsForPath(ctx, localPath)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(pts) {
		return nil, fmt.Errorf("%w: index %d, frames %d", video.ErrFrameOutOfRange, index, len(pts))
	}

	meta, err := s.metaForPath(ctx, localPath)
	if err != nil {
		return nil, err
	}
	f, err := s.ex.FrameAtTime(ctx, localPath, pts[index], meta.Width, meta.Height)
	if err != nil {
		return nil, err
	}
	f.PTS = pts[index]
	return f, nil
}

// Sheet resolves a source and renders a contact sheet for it.
func (s *ExtractService) Sheet(ctx context.Context, source string, opts sheet.Options) (image.Image, error) {
	localPath, cleanup, err := s.resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	v, err := video.OpenWith(ctx, s.ex, localPath)
	if err != nil {
		return nil, err
	}
	return sheet.Render(ctx, v, opts)
}

// resolve fetches a source to a local path and returns a cleanup func that
// removes the file when it was downloaded.
func (s *ExtractService) resolve(ctx context.Context, source string) (string, func(), error) {
	localPath, local, err := s.store.Fetch(ctx, source)
	if err != nil {
		return "", nil, err
	}
	if local {
		return localPath, func() {}, nil
	}
	return localPath, func() {
		_ = s.store.CleanupTemp(ctx, []string{localPath})
	}, nil
}

// metaForPath probes a local file, going through the cache when configured.
func (s *ExtractService) metaForPath(ctx context.Context, localPath string) (*video.Metadata, error) {
	if s.cache != nil {
		meta, ok, err := s.cache.Meta(ctx, localPath)
		if err != nil {
			s.logger.Warn("metadata cache lookup failed", slog.String("error", err.Error()))
		} else if ok {
			return meta, nil
		}
	}

	meta, err := s.ex.Probe(ctx, localPath)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.PutMeta(ctx, localPath, meta); err != nil {
			s.logger.Warn("metadata cache write failed", slog.String("error", err.Error()))
		}
	}
	return meta, nil
}

// ptsForPath scans a local file's timestamps, going through the cache when
// configured.
func (s *ExtractService) ptsForPath(ctx context.Context, localPath string) ([]float64, error) {
	if s.cache != nil {
		pts, ok, err := s.cache.PTS(ctx, localPath)
		if err != nil {
			s.logger.Warn("timestamp cache lookup failed", slog.String("error", err.Error()))
		} else if ok {
			return pts, nil
		}
	}

	pts, err := s.ex.PTSList(ctx, localPath)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.PutPTS(ctx, localPath, pts); err != nil {
			s.logger.Warn("timestamp cache write failed", slog.String("error", err.Error()))
		}
	}
	return pts, nil
}

// save persists the job, logging persistence failures instead of surfacing
// them to the extraction flow.
func (s *ExtractService) save(ctx context.Context, j *Job) {
	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to persist job state",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// fail marks the job failed and persists it.
func (s *ExtractService) fail(ctx context.Context, j *Job, err error) {
	s.logger.Error("extraction job failed",
		slog.String("job_id", j.ID),
		slog.String("error", err.Error()),
	)
	if terr := j.Fail(err.Error()); terr != nil {
		s.logger.Error("cannot fail job", slog.String("job_id", j.ID))
		return
	}
	s.save(ctx, j)
}
