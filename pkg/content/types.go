// ABOUTME: Content item model shared by every layer of the engine
// ABOUTME: Closed content type enumeration and value-kind validation errors

package content

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidContentType is returned for content types outside the closed set
	ErrInvalidContentType = errors.New("invalid content type")

	// ErrInvalidValue is returned when a value cannot be represented as a JSON value
	ErrInvalidValue = errors.New("invalid content value")
)

// ContentType identifies what kind of item is being versioned
type ContentType string

const (
	TypeNotebook      ContentType = "notebook"
	TypeVisualization ContentType = "visualization"
	TypeDataset       ContentType = "dataset"
	TypeScript        ContentType = "script"
)

// ContentTypes lists every accepted content type
var ContentTypes = []ContentType{TypeNotebook, TypeVisualization, TypeDataset, TypeScript}

// ParseContentType validates s against the closed set of content types
func ParseContentType(s string) (ContentType, error) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if !ct.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, s)
	}
	return ct, nil
}

// Valid reports whether ct is one of the known content types
func (ct ContentType) Valid() bool {
	for _, known := range ContentTypes {
		if ct == known {
			return true
		}
	}
	return false
}

func (ct ContentType) String() string {
	return string(ct)
}
