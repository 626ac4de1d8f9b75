package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for a session.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the durable snapshot of one session: the merged state plus
// the set of stages that have already completed for it.
type Checkpoint struct {
	SessionID string         `json:"session_id"`
	State     map[string]any `json:"state"`
	Completed []string       `json:"completed"`

	// Stage is the stage whose completion produced this checkpoint.
	// It is empty for the initial checkpoint written from the session input.
	Stage string `json:"stage"`

	// Step increases by one with every checkpoint written for the session.
	Step int `json:"step"`

	// Final is set once the terminal stage has completed.
	Final bool `json:"final"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares no maps or slices with c.
// State values are scalars, so a shallow map copy is enough.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = maps.Clone(c.State)
	out.Completed = slices.Clone(c.Completed)
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}

// CheckpointStore defines the interface for checkpoint persistence.
// Implementations must be safe for concurrent use across distinct session ids.
// Saves for one session id are serialized by the caller.
type CheckpointStore interface {
	// Save replaces the latest checkpoint of checkpoint.SessionID.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load returns the latest checkpoint of a session, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*Checkpoint, error)

	// ListSessions returns every known session id, most recently updated first.
	ListSessions(ctx context.Context) ([]string, error)

	// Delete removes a session and its history. Deleting an unknown session is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// HistoryStore is implemented by stores that keep every checkpoint written
// for a session, not only the latest one.
type HistoryStore interface {
	// History returns the checkpoints of a session ordered by ascending step.
	History(ctx context.Context, sessionID string) ([]*Checkpoint, error)
}
