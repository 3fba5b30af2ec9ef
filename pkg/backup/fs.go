package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const blobSuffix = ".manifest.zst"

// FSBlobStore writes one file per blob under a directory of an afero
// filesystem. Tests use afero.NewMemMapFs; production uses afero.NewOsFs.
type FSBlobStore struct {
	fs  afero.Fs
	dir string
}

// NewFSBlobStore creates dir if needed
func NewFSBlobStore(fs afero.Fs, dir string) (*FSBlobStore, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("init", dir, err)
	}
	return &FSBlobStore{fs: fs, dir: dir}, nil
}

func (s *FSBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storageErr("put", "", err)
	}
	handle := uuid.NewString() + blobSuffix
	tmp := filepath.Join(s.dir, handle+".tmp")
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return "", storageErr("put", handle, err)
	}
	if err := s.fs.Rename(tmp, filepath.Join(s.dir, handle)); err != nil {
		s.fs.Remove(tmp)
		return "", storageErr("put", handle, err)
	}
	return handle, nil
}

func (s *FSBlobStore) Get(ctx context.Context, handle string) ([]byte, error) {
	path, err := s.path(handle)
	if err != nil {
		return nil, storageErr("get", handle, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get", handle, err)
	}
	data, err := afero.ReadFile(s.fs, path)
	if os.IsNotExist(err) {
		return nil, storageErr("get", handle, ErrBlobNotFound)
	}
	if err != nil {
		return nil, storageErr("get", handle, err)
	}
	return data, nil
}

func (s *FSBlobStore) Delete(ctx context.Context, handle string) error {
	path, err := s.path(handle)
	if err != nil {
		return storageErr("delete", handle, err)
	}
	if err := ctx.Err(); err != nil {
		return storageErr("delete", handle, err)
	}
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return storageErr("delete", handle, err)
	}
	return nil
}

func (s *FSBlobStore) path(handle string) (string, error) {
	if handle == "" || filepath.Base(handle) != handle || strings.HasPrefix(handle, ".") {
		return "", errInvalidHandle
	}
	return filepath.Join(s.dir, handle), nil
}
