// ABOUTME: Backup error taxonomy
// ABOUTME: Blob backend failures surface as StorageError and match ErrStorageBackend

package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrBackupNotFound indicates no backup record with that id
	ErrBackupNotFound = errors.New("backup not found")

	// ErrStorageBackend is matched by every blob store failure
	ErrStorageBackend = errors.New("storage backend error")

	// ErrBlobNotFound indicates the handle does not resolve in the blob store
	ErrBlobNotFound = errors.New("blob not found")

	// ErrManifestMismatch indicates the stored manifest does not describe the record
	ErrManifestMismatch = errors.New("backup manifest mismatch")

	// ErrInvalidType indicates an unknown backup type
	ErrInvalidType = errors.New("invalid backup type")
)

// StorageError wraps a failure of the blob collaborator
type StorageError struct {
	Op     string // put, get or delete
	Handle string
	Err    error
}

func (e *StorageError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("blob %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("blob %s %s: %v", e.Op, e.Handle, e.Err)
}

// Unwrap exposes both the backend sentinel and the underlying cause
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageBackend, e.Err}
}

func storageErr(op, handle string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Handle: handle, Err: err}
}
