package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/smallnest/debategraph/store"
)

// MemoryCheckpointStore keeps checkpoints in process memory.
// Everything is lost when the process exits.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	latest  map[string]*store.Checkpoint
	history map[string][]*store.Checkpoint
}

var (
	_ store.CheckpointStore = (*MemoryCheckpointStore)(nil)
	_ store.HistoryStore    = (*MemoryCheckpointStore)(nil)
)

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		latest:  make(map[string]*store.Checkpoint),
		history: make(map[string][]*store.Checkpoint),
	}
}

// Save stores a copy of the checkpoint.
func (m *MemoryCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := checkpoint.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest[cp.SessionID] = cp
	m.history[cp.SessionID] = append(m.history[cp.SessionID], cp.Clone())
	return nil
}

// Load returns a copy of the latest checkpoint for a session.
func (m *MemoryCheckpointStore) Load(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.latest[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cp.Clone(), nil
}

// ListSessions returns session ids ordered by last update, newest first.
func (m *MemoryCheckpointStore) ListSessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	cps := make([]*store.Checkpoint, 0, len(m.latest))
	for _, cp := range m.latest {
		cps = append(cps, cp)
	}
	m.mu.RUnlock()

	sort.Slice(cps, func(i, j int) bool {
		if cps[i].UpdatedAt.Equal(cps[j].UpdatedAt) {
			return cps[i].SessionID < cps[j].SessionID
		}
		return cps[i].UpdatedAt.After(cps[j].UpdatedAt)
	})

	ids := make([]string, len(cps))
	for i, cp := range cps {
		ids[i] = cp.SessionID
	}
	return ids, nil
}

// History returns every checkpoint saved for the session, oldest first.
func (m *MemoryCheckpointStore) History(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.history[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]*store.Checkpoint, len(entries))
	for i, cp := range entries {
		out[i] = cp.Clone()
	}
	return out, nil
}

// Delete removes a session and its history.
func (m *MemoryCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.latest, sessionID)
	delete(m.history, sessionID)
	return nil
}
