// Package cache persists probe metadata and presentation timestamp lists
// in SQLite, keyed by file path, size and modification time, so repeated
// lookups do not require another decode pass.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"github.com/framecat/framecat/internal/video"
)

// defaultTimeout bounds individual database operations.
const defaultTimeout = 5 * time.Second

// Cache is a SQLite-backed store for probe results and PTS lists.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at dbPath.
func Open(ctx context.Context, dbPath string) (*Cache, error) {
	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to cache database: %w", err)
	}

	c := &Cache{db: db}
	if err := c.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}

	return c, nil
}

func (c *Cache) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS probes (
		path TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		duration REAL NOT NULL,
		rotation INTEGER NOT NULL DEFAULT 0,
		codec TEXT NOT NULL DEFAULT '',
		frame_rate REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS pts (
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		pts REAL NOT NULL,
		PRIMARY KEY (path, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_pts_path ON pts(path);
	`
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// fileStamp returns the identity of a file for cache validation.
func fileStamp(path string) (size, mtime int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), info.ModTime().Unix(), nil
}

// Meta returns the cached probe result for path, or ok=false when the
// entry is missing or the file has changed since it was stored.
func (c *Cache) Meta(ctx context.Context, path string) (meta *video.Metadata, ok bool, err error) {
	size, mtime, err := fileStamp(path)
	if err != nil {
		return nil, false, err
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := c.db.QueryRowContext(opCtx,
		`SELECT width, height, duration, rotation, codec, frame_rate
		 FROM probes WHERE path = ? AND size = ? AND mtime = ?`,
		path, size, mtime,
	)

	m := &video.Metadata{}
	err = row.Scan(&m.Width, &m.Height, &m.Duration, &m.Rotation, &m.Codec, &m.FrameRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query probe cache: %w", err)
	}
	return m, true, nil
}

// PutMeta stores the probe result for path under its current size/mtime.
func (c *Cache) PutMeta(ctx context.Context, path string, m *video.Metadata) error {
	size, mtime, err := fileStamp(path)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = c.db.ExecContext(opCtx,
		`INSERT INTO probes (path, size, mtime, width, height, duration, rotation, codec, frame_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			width = excluded.width,
			height = excluded.height,
			duration = excluded.duration,
			rotation = excluded.rotation,
			codec = excluded.codec,
			frame_rate = excluded.frame_rate`,
		path, size, mtime, m.Width, m.Height, m.Duration, m.Rotation, m.Codec, m.FrameRate,
	)
	if err != nil {
		return fmt.Errorf("store probe cache: %w", err)
	}
	return nil
}

// PTS returns the cached timestamp list for path, or ok=false when the
// entry is missing or stale.
func (c *Cache) PTS(ctx context.Context, path string) (pts []float64, ok bool, err error) {
	size, mtime, err := fileStamp(path)
	if err != nil {
		return nil, false, err
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := c.db.QueryContext(opCtx,
		`SELECT pts FROM pts WHERE path = ? AND size = ? AND mtime = ? ORDER BY idx`,
		path, size, mtime,
	)
	if err != nil {
		return nil, false, fmt.Errorf("query pts cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, false, fmt.Errorf("scan pts cache: %w", err)
		}
		pts = append(pts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate pts cache: %w", err)
	}
	if len(pts) == 0 {
		return nil, false, nil
	}
	return pts, true, nil
}

// PutPTS replaces the stored timestamp list for path.
func (c *Cache) PutPTS(ctx context.Context, path string, pts []float64) error {
	size, mtime, err := fileStamp(path)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := c.db.BeginTx(opCtx, nil)
	if err != nil {
		return fmt.Errorf("begin pts transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(opCtx, `DELETE FROM pts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clear pts cache: %w", err)
	}

	stmt, err := tx.PrepareContext(opCtx,
		`INSERT INTO pts (path, size, mtime, idx, pts) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare pts insert: %w", err)
	}
	defer stmt.Close()

	for i, v := range pts {
		if _, err := stmt.ExecContext(opCtx, path, size, mtime, i, v); err != nil {
			return fmt.Errorf("insert pts %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pts transaction: %w", err)
	}
	return nil
}
