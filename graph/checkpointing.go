package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallnest/debategraph/store"
)

// StateSnapshot is a read-only view of a session's persisted progress.
type StateSnapshot struct {
	SessionID string
	Values    State
	Completed []string
	// Next lists the stages that would be dispatched on resume.
	Next      []string
	Final     bool
	Step      int
	Stage     string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetState returns the persisted state of a session without executing
// anything. It returns an error matching store.ErrNotFound for unknown ids.
func (r *Runnable) GetState(ctx context.Context, sessionID string) (*StateSnapshot, error) {
	cp, err := r.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return nil, &StoreUnavailableError{Op: "load", SessionID: sessionID, Cause: err}
	}
	return r.snapshot(cp)
}

func (r *Runnable) snapshot(cp *store.Checkpoint) (*StateSnapshot, error) {
	state, completed, err := r.executor.restore(cp)
	if err != nil {
		return nil, err
	}
	final := cp.Final || completed[r.graph.sink]

	var next []string
	if !final {
		next = r.graph.ReadyStages(completed, nil)
	}
	return &StateSnapshot{
		SessionID: cp.SessionID,
		Values:    state,
		Completed: r.executor.completedList(completed),
		Next:      next,
		Final:     final,
		Step:      cp.Step,
		Stage:     cp.Stage,
		Metadata:  cp.Metadata,
		CreatedAt: cp.CreatedAt,
		UpdatedAt: cp.UpdatedAt,
	}, nil
}

// ListSessions returns persisted session ids, most recently updated first.
func (r *Runnable) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := r.store.ListSessions(ctx)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "list", Cause: err}
	}
	return ids, nil
}

// History returns every checkpoint of a session in step order. It fails
// with ErrHistoryUnsupported when the store does not keep history.
func (r *Runnable) History(ctx context.Context, sessionID string) ([]*StateSnapshot, error) {
	hs, ok := r.store.(store.HistoryStore)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	checkpoints, err := hs.History(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return nil, &StoreUnavailableError{Op: "history", SessionID: sessionID, Cause: err}
	}

	snapshots := make([]*StateSnapshot, 0, len(checkpoints))
	for _, cp := range checkpoints {
		s, err := r.snapshot(cp)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

// DeleteSession removes a session's checkpoints. A session that is
// currently running cannot be deleted.
func (r *Runnable) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.acquire(sessionID); err != nil {
		return err
	}
	defer r.release(sessionID)
	if err := r.store.Delete(ctx, sessionID); err != nil {
		return &StoreUnavailableError{Op: "delete", SessionID: sessionID, Cause: err}
	}
	return nil
}
