// ABOUTME: Lock-free read side of the version graph
// ABOUTME: One atomically published snapshot per content item plus a version index

package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nainya/contentvcs/pkg/journal"
)

// Journal record key prefixes
const (
	versionKeyPrefix = "version/"
	branchKeyPrefix  = "branch/"
)

// VersionKey is the journal key of a version record
func VersionKey(id string) string { return versionKeyPrefix + id }

// BranchKey is the journal key of a branch record
func BranchKey(contentID, name string) string {
	return branchKeyPrefix + contentID + "/" + name
}

// Store holds every content item's current snapshot. Readers never block;
// writers go through Begin and are expected to hold the content item's lock.
type Store struct {
	items   sync.Map // content id -> *atomic.Pointer[Snapshot]
	index   sync.Map // version id -> content id
	count   atomic.Int64
	journal journal.Appender
	now     func() time.Time
}

// NewStore creates an empty store writing through j. A nil j keeps no
// durable state.
func NewStore(j journal.Appender) *Store {
	if j == nil {
		j = journal.Discard
	}
	return &Store{journal: j, now: time.Now}
}

// SetClock replaces the time source, for tests
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the store's current time in UTC
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// Journal returns the appender transactions write to
func (s *Store) Journal() journal.Appender {
	return s.journal
}

// Snapshot returns the current state of contentID
func (s *Store) Snapshot(contentID string) (*Snapshot, bool) {
	p, ok := s.items.Load(contentID)
	if !ok {
		return nil, false
	}
	snap := p.(*atomic.Pointer[Snapshot]).Load()
	return snap, snap != nil
}

// MustSnapshot is Snapshot returning ErrUnknownContent for a missing item
func (s *Store) MustSnapshot(contentID string) (*Snapshot, error) {
	snap, ok := s.Snapshot(contentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContent, contentID)
	}
	return snap, nil
}

// ContentIDs lists known content items in sorted order
func (s *Store) ContentIDs() []string {
	var ids []string
	s.items.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Len returns the number of content items
func (s *Store) Len() int {
	return int(s.count.Load())
}

// Locate finds a version by id without knowing its content item
func (s *Store) Locate(versionID string) (*Version, bool) {
	cid, ok := s.index.Load(versionID)
	if !ok {
		return nil, false
	}
	snap, ok := s.Snapshot(cid.(string))
	if !ok {
		return nil, false
	}
	return snap.Version(versionID)
}

// Begin starts a transaction on contentID. The caller must hold the content
// item's lock until Commit or Abort.
func (s *Store) Begin(contentID string) *Txn {
	base, _ := s.Snapshot(contentID)
	tx := &Txn{store: s, contentID: contentID, base: base}
	if base != nil {
		tx.next = base.clone()
	}
	return tx
}

func (s *Store) publish(snap *Snapshot, added, dropped []string) {
	p, loaded := s.items.LoadOrStore(snap.contentID, &atomic.Pointer[Snapshot]{})
	if !loaded {
		s.count.Add(1)
	}
	for _, id := range added {
		s.index.Store(id, snap.contentID)
	}
	p.(*atomic.Pointer[Snapshot]).Store(snap)
	for _, id := range dropped {
		s.index.Delete(id)
	}
}

// Apply replays one committed journal record. Kinds owned by other
// packages are ignored. Apply is meant for single-threaded recovery only.
func (s *Store) Apply(rec journal.Record) error {
	switch rec.Kind {
	case journal.KindVersion:
		var v Version
		if err := json.Unmarshal(rec.Payload, &v); err != nil {
			return fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		snap := s.replayBase(v.ContentID)
		if snap == nil {
			snap = newSnapshot(v.ContentID, v.ContentType)
		}
		if _, exists := snap.versions[v.ID]; !exists {
			snap.order = append(snap.order, v.ID)
		}
		snap.versions[v.ID] = &v
		s.publish(snap, []string{v.ID}, nil)

	case journal.KindBranch:
		var b Branch
		if err := json.Unmarshal(rec.Payload, &b); err != nil {
			return fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		snap := s.replayBase(b.ContentID)
		if snap == nil {
			return fmt.Errorf("%w: branch %s before any version", journal.ErrCorrupted, rec.Key)
		}
		snap.setBranch(&b)
		s.publish(snap, nil, nil)

	case journal.KindVersionDrop:
		id := strings.TrimPrefix(rec.Key, versionKeyPrefix)
		snap := s.replayBase(string(rec.Payload))
		if snap == nil {
			return nil
		}
		snap.dropVersion(id)
		s.publish(snap, nil, []string{id})
	}
	return nil
}

func (s *Store) replayBase(contentID string) *Snapshot {
	snap, ok := s.Snapshot(contentID)
	if !ok {
		return nil
	}
	return snap.clone()
}

func (s *Snapshot) setBranch(b *Branch) {
	if prev, ok := s.branches[b.Name]; ok && prev.ID != b.ID {
		s.retired = append(s.retired, prev.Deactivated())
	}
	s.branches[b.Name] = b
}

func (s *Snapshot) dropVersion(id string) {
	if _, ok := s.versions[id]; !ok {
		return
	}
	delete(s.versions, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
