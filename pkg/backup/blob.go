// ABOUTME: Blob collaborator contract and the in-memory implementation
// ABOUTME: Handles are opaque strings chosen by the store

package backup

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var errInvalidHandle = errors.New("invalid blob handle")

// BlobStore persists backup payloads. Delete of a missing handle succeeds.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

// MemoryBlobStore keeps payloads in process memory
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty store
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storageErr("put", "", err)
	}
	handle := "mem:" + uuid.NewString()
	m.mu.Lock()
	m.blobs[handle] = append([]byte(nil), data...)
	m.mu.Unlock()
	return handle, nil
}

func (m *MemoryBlobStore) Get(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get", handle, err)
	}
	m.mu.RLock()
	data, ok := m.blobs[handle]
	m.mu.RUnlock()
	if !ok {
		return nil, storageErr("get", handle, ErrBlobNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("delete", handle, err)
	}
	m.mu.Lock()
	delete(m.blobs, handle)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
