// ABOUTME: Error taxonomy surfaced by the version graph
// ABOUTME: Sentinels are wrapped with context and matched with errors.Is

package graph

import "errors"

var (
	// ErrUnknownContent indicates no version exists for the content id
	ErrUnknownContent = errors.New("unknown content")

	// ErrUnknownBranch indicates no active branch with that name
	ErrUnknownBranch = errors.New("unknown branch")

	// ErrVersionNotFound indicates the version id does not resolve within the content item
	ErrVersionNotFound = errors.New("version not found")

	// ErrDuplicateBranch indicates an active branch with that name already exists
	ErrDuplicateBranch = errors.New("duplicate branch")

	// ErrAlreadyInitialized indicates the content id already has history
	ErrAlreadyInitialized = errors.New("content already initialized")

	// ErrConcurrentModification indicates the branch head moved since the caller read it
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrInvalidArgument indicates a malformed request
	ErrInvalidArgument = errors.New("invalid argument")
)
