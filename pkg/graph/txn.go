// ABOUTME: Copy-on-write transactions over one content item
// ABOUTME: Changes are journaled first and then published as a single snapshot

package graph

import (
	"encoding/json"
	"fmt"

	"github.com/nainya/contentvcs/pkg/content"
	"github.com/nainya/contentvcs/pkg/journal"
)

// Txn stages changes to one content item. Nothing is visible to readers
// until Commit publishes the new snapshot.
type Txn struct {
	store     *Store
	contentID string
	base      *Snapshot
	next      *Snapshot
	records   []journal.Record
	added     []string
	dropped   []string
	hooks     []func()
	done      bool
}

// ContentID returns the item the transaction works on
func (tx *Txn) ContentID() string { return tx.contentID }

// Exists reports whether the content item has any state, staged or published
func (tx *Txn) Exists() bool { return tx.next != nil }

// Base returns the snapshot the transaction started from, or nil
func (tx *Txn) Base() *Snapshot { return tx.base }

// View returns the staged snapshot including uncommitted changes. The
// returned value must not be retained past Commit or Abort.
func (tx *Txn) View() *Snapshot { return tx.next }

// Initialize creates the content item. It fails if the item already exists.
func (tx *Txn) Initialize(ct content.ContentType) error {
	if tx.done {
		return fmt.Errorf("%w: transaction finished", ErrInvalidArgument)
	}
	if tx.next != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, tx.contentID)
	}
	tx.next = newSnapshot(tx.contentID, ct)
	return nil
}

// PutVersion stages a copy of v, so later changes to v are not seen by
// readers
func (tx *Txn) PutVersion(v *Version) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if v.ContentID != tx.contentID {
		return fmt.Errorf("%w: version %s belongs to %s", ErrInvalidArgument, v.ID, v.ContentID)
	}
	if _, exists := tx.next.versions[v.ID]; exists {
		return fmt.Errorf("%w: version %s already stored", ErrInvalidArgument, v.ID)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode version: %w", err)
	}
	tx.next.versions[v.ID] = v.Clone()
	tx.next.order = append(tx.next.order, v.ID)
	tx.added = append(tx.added, v.ID)
	tx.records = append(tx.records, journal.Record{Kind: journal.KindVersion, Key: VersionKey(v.ID), Payload: payload})
	return nil
}

// PutBranch stages a branch. Its head must be a version of this content
// item, staged or stored. Putting a branch under the name of a different
// branch retires the previous one.
func (tx *Txn) PutBranch(b *Branch) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if b.ContentID != tx.contentID {
		return fmt.Errorf("%w: branch %s belongs to %s", ErrInvalidArgument, b.Name, b.ContentID)
	}
	if _, ok := tx.next.versions[b.HeadVersionID]; !ok {
		return fmt.Errorf("%w: head %s of branch %s", ErrVersionNotFound, b.HeadVersionID, b.Name)
	}
	if prev, ok := tx.next.branches[b.Name]; ok && prev.ID != b.ID && prev.Active {
		return fmt.Errorf("%w: %s", ErrDuplicateBranch, b.Name)
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode branch: %w", err)
	}
	tx.next.setBranch(b.Clone())
	tx.records = append(tx.records, journal.Record{Kind: journal.KindBranch, Key: BranchKey(b.ContentID, b.Name), Payload: payload})
	return nil
}

// RemoveVersion stages deletion of a version. Callers are responsible for
// checking references.
func (tx *Txn) RemoveVersion(id string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.next.versions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	tx.next.dropVersion(id)
	tx.dropped = append(tx.dropped, id)
	tx.records = append(tx.records, journal.Record{Kind: journal.KindVersionDrop, Key: VersionKey(id), Payload: []byte(tx.contentID)})
	return nil
}

// Record adds a record owned by another package to the same journal
// transaction. onCommit runs after the snapshot is published.
func (tx *Txn) Record(rec journal.Record, onCommit func()) {
	tx.records = append(tx.records, rec)
	if onCommit != nil {
		tx.hooks = append(tx.hooks, onCommit)
	}
}

// Commit journals the staged records and publishes the new snapshot. A
// transaction with nothing staged commits trivially.
func (tx *Txn) Commit() error {
	if tx.done {
		return fmt.Errorf("%w: transaction finished", ErrInvalidArgument)
	}
	tx.done = true
	if len(tx.records) == 0 {
		return nil
	}
	if err := tx.store.journal.Append(tx.records...); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	if tx.next != nil {
		tx.store.publish(tx.next, tx.added, tx.dropped)
	}
	for _, fn := range tx.hooks {
		fn()
	}
	return nil
}

// Abort discards staged changes
func (tx *Txn) Abort() {
	tx.done = true
	tx.next = nil
	tx.records = nil
	tx.hooks = nil
}

func (tx *Txn) writable() error {
	if tx.done {
		return fmt.Errorf("%w: transaction finished", ErrInvalidArgument)
	}
	if tx.next == nil {
		return fmt.Errorf("%w: %s", ErrUnknownContent, tx.contentID)
	}
	return nil
}
