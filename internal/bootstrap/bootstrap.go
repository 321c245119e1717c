// Package bootstrap provides dependency initialization for the framecat API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/framecat/framecat/internal/cache"
	"github.com/framecat/framecat/internal/config"
	"github.com/framecat/framecat/internal/job"
	"github.com/framecat/framecat/internal/storage"
	"github.com/framecat/framecat/internal/video"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	ExtractService *job.ExtractService
	Cache          *cache.Cache
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() error {
	if d.Cache != nil {
		return d.Cache.Close()
	}
	return nil
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	var metaCache *cache.Cache
	if cfg.CacheEnabled() {
		metaCache, err = cache.Open(ctx, cfg.CacheDB)
		if err != nil {
			return nil, fmt.Errorf("open metadata cache: %w", err)
		}
		logger.Info("metadata cache configured",
			slog.String("db", cfg.CacheDB),
		)
	}

	extractor := video.NewExtractor(
		video.WithFFmpegPath(cfg.FFmpegPath),
		video.WithFFprobePath(cfg.FFprobePath),
	)

	repo := job.NewMemoryRepository()

	svc := job.NewExtractService(repo, extractor, store, metaCache, logger)

	return &Dependencies{
		ExtractService: svc,
		Cache:          metaCache,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
