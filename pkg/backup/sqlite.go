package backup

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const blobSchema = `
CREATE TABLE IF NOT EXISTS backup_blobs (
	handle     TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

// SQLiteBlobStore keeps blobs in a single sqlite table
type SQLiteBlobStore struct {
	db *sql.DB
}

// OpenSQLiteBlobStore opens or creates the database at path
func OpenSQLiteBlobStore(path string) (*SQLiteBlobStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, storageErr("init", path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("init", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(blobSchema); err != nil {
		db.Close()
		return nil, storageErr("init", path, err)
	}
	return &SQLiteBlobStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteBlobStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	handle := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO backup_blobs (handle, data, created_at) VALUES (?, ?, ?)",
		handle, data, time.Now().UnixNano(),
	)
	if err != nil {
		return "", storageErr("put", handle, err)
	}
	return handle, nil
}

func (s *SQLiteBlobStore) Get(ctx context.Context, handle string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM backup_blobs WHERE handle = ?", handle).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storageErr("get", handle, ErrBlobNotFound)
	}
	if err != nil {
		return nil, storageErr("get", handle, err)
	}
	return data, nil
}

func (s *SQLiteBlobStore) Delete(ctx context.Context, handle string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM backup_blobs WHERE handle = ?", handle); err != nil {
		return storageErr("delete", handle, err)
	}
	return nil
}
