// ABOUTME: Two-parent merge of one branch into another
// ABOUTME: Conflicting scalars stop the merge; every attempt is journaled for audit

package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nainya/contentvcs/pkg/graph"
	"github.com/nainya/contentvcs/pkg/journal"
	"github.com/nainya/contentvcs/pkg/version"
)

const keyPrefix = "merge/"

// Engine performs merges and keeps the merge request log
type Engine struct {
	graph *graph.Store
	locks *graph.KeyedMutex
	log   zerolog.Logger

	mu        sync.RWMutex
	requests  map[string]*Request
	byContent map[string][]string
}

// NewEngine creates a merge engine sharing the content lock arena
func NewEngine(g *graph.Store, locks *graph.KeyedMutex, log zerolog.Logger) *Engine {
	return &Engine{
		graph:     g,
		locks:     locks,
		log:       log,
		requests:  make(map[string]*Request),
		byContent: make(map[string][]string),
	}
}

// Merge folds the source branch into the target branch. A conflict is
// reported through the request status, not as an error. Failures after the
// request was opened return the failed request together with the error.
func (e *Engine) Merge(ctx context.Context, in Input) (*Request, error) {
	if in.ContentID == "" || in.SourceBranch == "" || in.TargetBranch == "" {
		return nil, fmt.Errorf("%w: content id, source and target branch required", graph.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := e.locks.Lock(ctx, in.ContentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx := e.graph.Begin(in.ContentID)
	req := &Request{
		ID:           graph.NewID(),
		ContentID:    in.ContentID,
		SourceBranch: in.SourceBranch,
		TargetBranch: in.TargetBranch,
		AuthorID:     in.AuthorID,
		Message:      in.Message,
		Status:       StatusRequested,
		CreatedAt:    e.graph.Now(),
	}
	e.put(req.clone())

	if !tx.Exists() {
		tx.Abort()
		return e.fail(req, fmt.Errorf("%w: %s", graph.ErrUnknownContent, in.ContentID))
	}
	if err := e.attempt(tx, req); err != nil {
		tx.Abort()
		return e.fail(req, err)
	}

	rec, err := record(req)
	if err != nil {
		tx.Abort()
		return e.fail(req, err)
	}
	final := req.clone()
	tx.Record(rec, func() { e.put(final) })
	if err := tx.Commit(); err != nil {
		// Nothing from the attempt was published
		req.ResultVersionID = ""
		req.MergedAt = nil
		req.MergedBy = ""
		return e.fail(req, err)
	}

	ev := e.log.Info().
		Str("content_id", req.ContentID).
		Str("merge_id", req.ID).
		Str("source", req.SourceBranch).
		Str("target", req.TargetBranch).
		Str("status", string(req.Status))
	if req.Status == StatusConflict {
		ev.Int("conflicts", len(req.Conflicts)).Msg("merge stopped on conflicts")
	} else {
		ev.Str("version_id", req.ResultVersionID).Msg("merge completed")
	}
	return req, nil
}

// attempt resolves both heads and, when they do not conflict, stages the
// merge commit in tx
func (e *Engine) attempt(tx *graph.Txn, req *Request) error {
	if req.SourceBranch == req.TargetBranch {
		return fmt.Errorf("%w: cannot merge branch %s into itself", graph.ErrInvalidArgument, req.SourceBranch)
	}
	snap := tx.View()
	source, err := version.Head(snap, req.SourceBranch)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	target, err := version.Head(snap, req.TargetBranch)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	req.SourceHeadID = source.ID
	req.TargetHeadID = target.ID

	if conflicts := DetectConflicts(source.Data, target.Data); len(conflicts) > 0 {
		req.Status = StatusConflict
		req.Conflicts = conflicts
		return nil
	}

	merged := Combine(source.Data, target.Data)
	now := e.graph.Now()
	req.Status = StatusSuccess
	req.MergedAt = &now
	req.MergedBy = req.AuthorID

	// Source adds nothing new: the target already holds the merged content
	if merged.Equal(target.Data) {
		req.ResultVersionID = target.ID
		return nil
	}

	msg := req.Message
	if msg == "" {
		msg = fmt.Sprintf("Merge %s into %s", req.SourceBranch, req.TargetBranch)
	}
	v, _, err := version.Stage(tx, now, version.Draft{
		Branch:       req.TargetBranch,
		Data:         merged,
		AuthorID:     req.AuthorID,
		Message:      msg,
		ExtraParents: []string{source.ID},
		Metadata:     graph.VersionMetadata{MergeID: req.ID},
	})
	if err != nil {
		return err
	}
	req.ResultVersionID = v.ID
	return nil
}

// fail records the request as failed and returns it with cause
func (e *Engine) fail(req *Request, cause error) (*Request, error) {
	req.Status = StatusFailed
	req.Conflicts = nil
	req.Description = cause.Error()

	final := req.clone()
	if rec, err := record(final); err == nil {
		tx := e.graph.Begin(req.ContentID)
		tx.Record(rec, nil)
		if err := tx.Commit(); err != nil {
			e.log.Error().Err(err).Str("merge_id", req.ID).Msg("failed to journal merge request")
		}
	}
	e.put(final)

	e.log.Warn().
		Err(cause).
		Str("content_id", req.ContentID).
		Str("merge_id", req.ID).
		Str("source", req.SourceBranch).
		Str("target", req.TargetBranch).
		Msg("merge failed")
	return req, cause
}

func (e *Engine) put(req *Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.requests[req.ID]; !exists {
		e.byContent[req.ContentID] = append(e.byContent[req.ContentID], req.ID)
	}
	e.requests[req.ID] = req
}

// Get returns a merge request by id
func (e *Engine) Get(mergeID string) (*Request, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.requests[mergeID]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// List returns the merge requests of a content item, oldest first
func (e *Engine) List(contentID string) []*Request {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := e.byContent[contentID]
	out := make([]*Request, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.requests[id].clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// References reports whether a merge that has not reached a terminal status
// still points at versionID
func (e *Engine) References(versionID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.requests {
		if r.Status.Terminal() {
			continue
		}
		if r.SourceHeadID == versionID || r.TargetHeadID == versionID {
			return true
		}
	}
	return false
}

// Apply replays a journaled merge request
func (e *Engine) Apply(rec journal.Record) error {
	if rec.Kind != journal.KindMerge {
		return nil
	}
	var r Request
	if err := json.Unmarshal(rec.Payload, &r); err != nil {
		return fmt.Errorf("decode %s: %w", rec.Key, err)
	}
	e.put(&r)
	return nil
}

func record(req *Request) (journal.Record, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return journal.Record{}, fmt.Errorf("encode merge request: %w", err)
	}
	return journal.Record{Kind: journal.KindMerge, Key: keyPrefix + req.ID, Payload: payload}, nil
}
