package debate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/llm"
	"github.com/smallnest/debategraph/store"
	"github.com/smallnest/debategraph/store/memory"
)

// Checkpoint metadata keys recording the Options of a session.
const (
	MetadataRebuttals = "debate.rebuttals"
	MetadataRounds    = "debate.rounds"
)

// normalized maps options that build the same graph to one value.
func (o Options) normalized() Options {
	n := o.EffectiveRounds()
	return Options{Rebuttals: n > 0, Rounds: n}
}

// Metadata is the checkpoint metadata that records o with a session.
func (o Options) Metadata() map[string]any {
	n := o.normalized()
	return map[string]any{MetadataRebuttals: n.Rebuttals, MetadataRounds: n.Rounds}
}

// OptionsFromMetadata reads the options recorded by Options.Metadata.
func OptionsFromMetadata(md map[string]any) (Options, bool) {
	rebuttals, ok := md[MetadataRebuttals].(bool)
	if !ok {
		return Options{}, false
	}
	rounds, ok := intValue(md[MetadataRounds])
	if !ok {
		return Options{}, false
	}
	return Options{Rebuttals: rebuttals, Rounds: rounds}, true
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// Engine runs debates over one store. A session keeps the Options it was
// started with: they are recorded in its checkpoints, and resuming or
// inspecting it uses a graph built from them, whatever the engine's
// defaults are today.
type Engine struct {
	gen      llm.Generator
	store    store.CheckpointStore
	defaults Options
	opts     []graph.Option
	locks    *graph.SessionLocks

	mu        sync.Mutex
	runnables map[Options]*graph.Runnable
}

// NewEngine creates an engine whose new sessions use defaults. opts are
// applied to every compiled graph. A nil store selects an in-memory one.
func NewEngine(gen llm.Generator, st store.CheckpointStore, defaults Options, opts ...graph.Option) (*Engine, error) {
	if st == nil {
		st = memory.NewMemoryCheckpointStore()
	}
	e := &Engine{
		gen:       gen,
		store:     st,
		defaults:  defaults,
		opts:      opts,
		locks:     graph.NewSessionLocks(),
		runnables: make(map[Options]*graph.Runnable),
	}
	if _, err := e.Runnable(defaults); err != nil {
		return nil, err
	}
	return e, nil
}

// Defaults returns the options of new sessions.
func (e *Engine) Defaults() Options { return e.defaults }

// Store returns the checkpoint store.
func (e *Engine) Store() store.CheckpointStore { return e.store }

// Runnable returns the compiled graph for opts, building it on first use.
func (e *Engine) Runnable(opts Options) (*graph.Runnable, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.normalized()

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runnables[opts]; ok {
		return r, nil
	}
	g, err := NewGraph(e.gen, opts)
	if err != nil {
		return nil, err
	}
	compileOpts := append(slices.Clone(e.opts),
		graph.WithMetadata(opts.Metadata()),
		graph.WithSessionLocks(e.locks))
	r, err := g.Compile(e.store, compileOpts...)
	if err != nil {
		return nil, err
	}
	e.runnables[opts] = r
	return r, nil
}

// SessionOptions returns the options a session was started with. Sessions
// saved without them are read from the rounds field, or get the defaults
// before the stances stage has run.
func (e *Engine) SessionOptions(ctx context.Context, sessionID string) (Options, error) {
	cp, err := e.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Options{}, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return Options{}, &graph.StoreUnavailableError{Op: "load", SessionID: sessionID, Cause: err}
	}
	if opts, ok := OptionsFromMetadata(cp.Metadata); ok {
		return opts, nil
	}
	if n, ok := intValue(cp.State[FieldRounds]); ok {
		return Options{Rebuttals: n > 0, Rounds: n}, nil
	}
	return e.defaults, nil
}

// ForSession returns the compiled graph an existing session runs on.
func (e *Engine) ForSession(ctx context.Context, sessionID string) (*graph.Runnable, error) {
	opts, err := e.SessionOptions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.Runnable(opts)
}

// Start begins a debate on topic with opts, or resumes sessionID if it
// exists, in which case topic and opts are ignored. Resuming an unknown
// session without a topic fails with an error matching store.ErrNotFound,
// and a busy session fails with *graph.SessionBusyError; nothing runs in
// either case.
func (e *Engine) Start(ctx context.Context, sessionID, topic string, opts Options) (<-chan graph.Event, error) {
	if sessionID == "" {
		return nil, graph.ErrEmptySessionID
	}
	if e.Busy(sessionID) {
		return nil, &graph.SessionBusyError{SessionID: sessionID}
	}
	existing, err := e.SessionOptions(ctx, sessionID)
	switch {
	case err == nil:
		r, err := e.Runnable(existing)
		if err != nil {
			return nil, err
		}
		return r.Start(ctx, sessionID, nil)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	case topic == "":
		return nil, err
	}

	input, err := Input(topic)
	if err != nil {
		return nil, err
	}
	r, err := e.Runnable(opts)
	if err != nil {
		return nil, err
	}
	return r.Start(ctx, sessionID, input)
}

// GetState returns a session's snapshot read with its own graph.
func (e *Engine) GetState(ctx context.Context, sessionID string) (*graph.StateSnapshot, error) {
	r, err := e.ForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return r.GetState(ctx, sessionID)
}

// History returns every checkpoint of a session read with its own graph.
func (e *Engine) History(ctx context.Context, sessionID string) ([]*graph.StateSnapshot, error) {
	r, err := e.ForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return r.History(ctx, sessionID)
}

// ListSessions returns every session id, most recently updated first.
func (e *Engine) ListSessions(ctx context.Context) ([]string, error) {
	return e.base().ListSessions(ctx)
}

// DeleteSession removes a session that is not running.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.base().DeleteSession(ctx, sessionID)
}

// Busy reports whether a session is running in this process.
func (e *Engine) Busy(sessionID string) bool { return e.locks.Busy(sessionID) }

func (e *Engine) base() *graph.Runnable {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runnables[e.defaults.normalized()]
}
