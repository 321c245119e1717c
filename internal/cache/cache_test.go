package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framecat/framecat/internal/video"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeTestFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0600))
	return path
}

func TestCacheMeta(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	path := writeTestFile(t, "a.mp4")

	t.Run("miss on unknown path", func(t *testing.T) {
		_, ok, err := c.Meta(ctx, path)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	meta := &video.Metadata{
		Width:     1280,
		Height:    720,
		Duration:  12.5,
		Rotation:  90,
		Codec:     "h264",
		FrameRate: 29.97,
	}
	require.NoError(t, c.PutMeta(ctx, path, meta))

	t.Run("hit after put", func(t *testing.T) {
		got, ok, err := c.Meta(ctx, path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, meta, got)
	})

	t.Run("overwrite", func(t *testing.T) {
		meta2 := &video.Metadata{Width: 640, Height: 480, Duration: 1}
		require.NoError(t, c.PutMeta(ctx, path, meta2))

		got, ok, err := c.Meta(ctx, path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 640, got.Width)
	})

	t.Run("stale after file change", func(t *testing.T) {
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))

		_, ok, err := c.Meta(ctx, path)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := c.Meta(ctx, filepath.Join(t.TempDir(), "gone.mp4"))
		assert.Error(t, err)
	})
}

func TestCachePTS(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	path := writeTestFile(t, "b.mp4")

	t.Run("miss on unknown path", func(t *testing.T) {
		_, ok, err := c.PTS(ctx, path)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	pts := []float64{0, 0.04, 0.08, 0.12}
	require.NoError(t, c.PutPTS(ctx, path, pts))

	t.Run("hit preserves order", func(t *testing.T) {
		got, ok, err := c.PTS(ctx, path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, pts, got)
	})

	t.Run("replace on second put", func(t *testing.T) {
		require.NoError(t, c.PutPTS(ctx, path, []float64{0, 0.5}))

		got, ok, err := c.PTS(ctx, path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []float64{0, 0.5}, got)
	})

	t.Run("stale after file change", func(t *testing.T) {
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))

		_, ok, err := c.PTS(ctx, path)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
