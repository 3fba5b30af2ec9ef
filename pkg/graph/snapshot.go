// ABOUTME: Immutable per-content view of the version graph
// ABOUTME: Readers hold a snapshot without locks; writers publish a new one

package graph

import (
	"sort"

	"github.com/nainya/contentvcs/pkg/content"
)

// Snapshot is the state of one content item at a point in time. A published
// snapshot is never modified; transactions work on a private copy.
type Snapshot struct {
	contentID   string
	contentType content.ContentType
	versions    map[string]*Version
	order       []string           // version ids in creation order
	branches    map[string]*Branch // latest branch per name
	retired     []*Branch          // deactivated branches whose name was reused
}

func newSnapshot(contentID string, ct content.ContentType) *Snapshot {
	return &Snapshot{
		contentID:   contentID,
		contentType: ct,
		versions:    make(map[string]*Version),
		branches:    make(map[string]*Branch),
	}
}

func (s *Snapshot) clone() *Snapshot {
	out := newSnapshot(s.contentID, s.contentType)
	for id, v := range s.versions {
		out.versions[id] = v
	}
	out.order = append(make([]string, 0, len(s.order)+1), s.order...)
	for name, b := range s.branches {
		out.branches[name] = b
	}
	out.retired = append([]*Branch(nil), s.retired...)
	return out
}

// ContentID returns the content item this snapshot describes
func (s *Snapshot) ContentID() string { return s.contentID }

// ContentType returns the type fixed at initialization
func (s *Snapshot) ContentType() content.ContentType { return s.contentType }

// Len returns the number of stored versions
func (s *Snapshot) Len() int { return len(s.order) }

// Version looks up a version by id. Like every accessor it returns a copy.
func (s *Snapshot) Version(id string) (*Version, bool) {
	v, ok := s.versions[id]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Versions returns all versions in creation order
func (s *Snapshot) Versions() []*Version {
	out := make([]*Version, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.versions[id].Clone())
	}
	return out
}

// Branch returns the most recent branch with name, active or not
func (s *Snapshot) Branch(name string) (*Branch, bool) {
	b, ok := s.branches[name]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// ActiveBranch returns the branch with name only if it is active
func (s *Snapshot) ActiveBranch(name string) (*Branch, bool) {
	b, ok := s.branches[name]
	if !ok || !b.Active {
		return nil, false
	}
	return b.Clone(), true
}

// Branches lists branches ordered by creation time
func (s *Snapshot) Branches(includeInactive bool) []*Branch {
	var out []*Branch
	for _, b := range s.branches {
		if b.Active || includeInactive {
			out = append(out, b.Clone())
		}
	}
	if includeInactive {
		for _, b := range s.retired {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// IsBranchHead reports whether any branch, including inactive ones, points at versionID
func (s *Snapshot) IsBranchHead(versionID string) bool {
	for _, b := range s.branches {
		if b.HeadVersionID == versionID {
			return true
		}
	}
	for _, b := range s.retired {
		if b.HeadVersionID == versionID {
			return true
		}
	}
	return false
}

// FindByTag returns versions carrying tag, in creation order
func (s *Snapshot) FindByTag(tag string) []*Version {
	var out []*Version
	for _, id := range s.order {
		if v := s.versions[id]; v.HasTag(tag) {
			out = append(out, v.Clone())
		}
	}
	return out
}
