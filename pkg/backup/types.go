// ABOUTME: Backup record model and manager options
// ABOUTME: A record references a version; it never holds content bytes

package backup

import (
	"fmt"
	"strings"
	"time"
)

// Type records why a backup was taken
type Type string

const (
	TypeInitial            Type = "initial"
	TypeSignificantChanges Type = "significant_changes"
	TypePreMerge           Type = "pre_merge"
	TypePreRevert          Type = "pre_revert"
	TypeManual             Type = "manual"
)

// Types lists every backup type
var Types = []Type{TypeInitial, TypeSignificantChanges, TypePreMerge, TypePreRevert, TypeManual}

// ParseType validates a backup type name
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// Valid reports whether t is a known type
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Record is a reference to a version kept until RetentionUntil
type Record struct {
	ID              string    `json:"backup_id"`
	ContentID       string    `json:"content_id"`
	Type            Type      `json:"backup_type"`
	VersionSnapshot string    `json:"version_snapshot"`
	CommitHash      string    `json:"commit_hash"`
	Path            string    `json:"backup_path"`
	CreatedAt       time.Time `json:"created_at"`
	RetentionUntil  time.Time `json:"retention_until"`
}

// Expired reports whether the record may be swept at now
func (r *Record) Expired(now time.Time) bool {
	return !r.RetentionUntil.After(now)
}

// SweepFailure is an expired record whose blob could not be deleted
type SweepFailure struct {
	BackupID string
	Err      error
}

// SweepReport summarizes one sweep pass
type SweepReport struct {
	Examined int
	Expired  int
	Removed  []string
	Failed   []SweepFailure
	Skipped  int // not attempted because the sweep was cancelled
}

// Options configure retention and the blob boundary
type Options struct {
	// Retention is how long a backup is kept after creation
	Retention time.Duration

	// Timeout bounds each blob call attempt
	Timeout time.Duration

	Retry RetryPolicy

	// SweepWorkers bounds concurrent blob deletes during a sweep
	SweepWorkers int
}

// DefaultOptions returns a 30 day retention window and a short retry policy
func DefaultOptions() Options {
	return Options{
		Retention:    30 * 24 * time.Hour,
		Timeout:      10 * time.Second,
		Retry:        DefaultRetryPolicy(),
		SweepWorkers: 4,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Retention <= 0 {
		o.Retention = def.Retention
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = 1
	}
	if o.SweepWorkers <= 0 {
		o.SweepWorkers = def.SweepWorkers
	}
	return o
}
