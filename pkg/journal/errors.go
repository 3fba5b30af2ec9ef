// Package journal is the append-only transaction log behind the version graph.
// Every engine mutation is written as one transaction before it becomes visible,
// and replaying committed transactions rebuilds the in-memory state.
package journal

import "errors"

var (
	// ErrCorrupted indicates a corrupted journal entry (CRC mismatch)
	ErrCorrupted = errors.New("journal: corrupted entry")

	// ErrTruncated indicates a partially written entry
	ErrTruncated = errors.New("journal: truncated entry")

	// ErrLogClosed indicates an operation on a closed journal
	ErrLogClosed = errors.New("journal: log closed")

	// ErrLogFailed indicates the journal could not undo a failed append
	ErrLogFailed = errors.New("journal: log failed")

	// ErrEmptyTxn indicates an append with no records
	ErrEmptyTxn = errors.New("journal: empty transaction")
)
