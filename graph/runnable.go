package graph

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/debategraph/log"
	"github.com/smallnest/debategraph/store"
	"github.com/smallnest/debategraph/store/memory"
)

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The package default logger is used otherwise.
func WithLogger(logger log.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithListener adds a stage listener.
func WithListener(l StageListener) Option {
	return func(e *Executor) { e.listeners = append(e.listeners, l) }
}

// WithRetryPolicy enables in-run retries of failing stages.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(e *Executor) { e.retryPolicy = p }
}

// WithStageTimeout bounds each stage attempt.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stageTimeout = d }
}

// WithClock overrides the time source used for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetadata stamps md on every checkpoint of sessions started by this
// runnable. Loading a session whose checkpoint holds a different value for
// one of these keys fails with ErrIncompatibleCheckpoint.
func WithMetadata(md map[string]any) Option {
	return func(e *Executor) { e.metadata = maps.Clone(md) }
}

// WithSessionLocks shares busy tracking between runnables over one store.
func WithSessionLocks(l *SessionLocks) Option {
	return func(e *Executor) { e.locks = l }
}

// SessionLocks records which sessions are being driven in this process.
type SessionLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewSessionLocks returns an empty lock set.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{active: make(map[string]struct{})}
}

func (l *SessionLocks) acquire(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[sessionID]; busy {
		return &SessionBusyError{SessionID: sessionID}
	}
	l.active[sessionID] = struct{}{}
	return nil
}

func (l *SessionLocks) release(sessionID string) {
	l.mu.Lock()
	delete(l.active, sessionID)
	l.mu.Unlock()
}

// Busy reports whether a session is held.
func (l *SessionLocks) Busy(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.active[sessionID]
	return busy
}

// Runnable is a compiled graph bound to a checkpoint store. It is safe for
// concurrent use; each session id may be driven by one call at a time.
type Runnable struct {
	graph    *Graph
	store    store.CheckpointStore
	executor *Executor
	locks    *SessionLocks
}

// Compile freezes the graph if needed and binds it to st. A nil store
// selects an in-memory store.
func (g *Graph) Compile(st store.CheckpointStore, opts ...Option) (*Runnable, error) {
	if err := g.Freeze(); err != nil {
		return nil, err
	}
	if st == nil {
		st = memory.NewMemoryCheckpointStore()
	}
	executor, err := NewExecutor(g, st, opts...)
	if err != nil {
		return nil, err
	}
	locks := executor.locks
	if locks == nil {
		locks = NewSessionLocks()
	}
	return &Runnable{
		graph:    g,
		store:    st,
		executor: executor,
		locks:    locks,
	}, nil
}

// Graph returns the compiled graph.
func (r *Runnable) Graph() *Graph { return r.graph }

// Store returns the checkpoint store.
func (r *Runnable) Store() store.CheckpointStore { return r.store }

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Metadata returns a copy of the metadata stamped on new sessions.
func (r *Runnable) Metadata() map[string]any { return maps.Clone(r.executor.metadata) }

func (r *Runnable) acquire(sessionID string) error { return r.locks.acquire(sessionID) }

func (r *Runnable) release(sessionID string) { r.locks.release(sessionID) }

// Busy reports whether a session is being driven by this runnable, or by
// another runnable sharing its SessionLocks.
func (r *Runnable) Busy(sessionID string) bool { return r.locks.Busy(sessionID) }

// Run drives a session to completion and returns its final state. A new
// session starts from input; an existing one resumes from its checkpoint.
func (r *Runnable) Run(ctx context.Context, sessionID string, input State) (State, error) {
	if err := r.acquire(sessionID); err != nil {
		return nil, err
	}
	defer r.release(sessionID)
	return r.executor.Execute(ctx, sessionID, input, nil)
}
