package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cjeanneret/LensGo/internal/debug"
	"github.com/cjeanneret/LensGo/internal/hw/camera"
)

// Library is the persistent sink for RAW captures. Payloads are opaque: each
// is written verbatim as a file under the library directory and indexed in
// SQLite. Library-write permission is enforced here, not by the session
// controller.
type Library struct {
	db         *sql.DB
	dir        string
	authorized func() bool
}

// Photo is one indexed capture.
type Photo struct {
	ID        string
	Path      string
	Bytes     int64
	CreatedAt time.Time
}

// Open prepares the library directory and its index. authorized gates every
// write; pass nil to allow all writes.
func Open(dir string, authorized func() bool) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "photos.db"))
	if err != nil {
		return nil, fmt.Errorf("open photo index: %w", err)
	}

	l := &Library{db: db, dir: dir, authorized: authorized}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	debug.Info("Photo library at %s", dir)
	return l, nil
}

func (l *Library) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS photos (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		bytes INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("init photo index schema: %w", err)
	}
	return nil
}

// Store persists one RAW payload under its correlation id.
func (l *Library) Store(ctx context.Context, id string, raw []byte) error {
	if l.authorized != nil && !l.authorized() {
		return fmt.Errorf("library write not authorized: %w", camera.ErrPersistFailed)
	}
	if id == "" {
		return fmt.Errorf("empty photo id: %w", camera.ErrPersistFailed)
	}

	path := filepath.Join(l.dir, id+".raw")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, camera.ErrPersistFailed)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO photos (id, path, bytes, created_at) VALUES (?, ?, ?, ?)`,
		id, path, int64(len(raw)), time.Now().UTC())
	if err != nil {
		// Keep the payload file; the index can be rebuilt.
		return fmt.Errorf("index %s: %w", id, camera.ErrPersistFailed)
	}

	debug.Live("Stored RAW capture %s (%d bytes)", id, len(raw))
	return nil
}

// Photos lists indexed captures, newest first.
func (l *Library) Photos(ctx context.Context) ([]Photo, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, path, bytes, created_at FROM photos ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var p Photo
		if err := rows.Scan(&p.ID, &p.Path, &p.Bytes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// Close closes the index.
func (l *Library) Close() error {
	return l.db.Close()
}
