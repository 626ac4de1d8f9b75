package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/smallnest/debategraph/log"
	"github.com/smallnest/debategraph/store"
)

// Executor drives sessions of one frozen graph against one checkpoint store.
type Executor struct {
	graph        *Graph
	store        store.CheckpointStore
	logger       log.Logger
	listeners    []StageListener
	retryPolicy  *RetryPolicy
	stageTimeout time.Duration
	metadata     map[string]any
	locks        *SessionLocks
	now          func() time.Time
}

// NewExecutor creates an executor. The graph must be frozen.
func NewExecutor(g *Graph, st store.CheckpointStore, opts ...Option) (*Executor, error) {
	if !g.Frozen() {
		return nil, ErrGraphNotFrozen
	}
	if st == nil {
		return nil, errors.New("checkpoint store is nil")
	}
	e := &Executor{graph: g, store: st, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Executor) log() log.Logger {
	if e.logger != nil {
		return e.logger
	}
	return log.GetDefaultLogger()
}

type stageResult struct {
	stage    string
	update   State
	err      error
	duration time.Duration
}

// Execute runs or resumes a session until the terminal stage completes or a
// stage fails. input seeds a new session and is ignored on resume. emit, if
// not nil, receives every event; it is called from the calling goroutine.
func (e *Executor) Execute(ctx context.Context, sessionID string, input State, emit func(Event)) (State, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	fail := func(stage string, err error) (State, error) {
		emit(Event{Kind: EventError, SessionID: sessionID, Stage: stage, Err: err, Timestamp: e.now()})
		return nil, err
	}

	if sessionID == "" {
		return fail("", ErrEmptySessionID)
	}
	if err := ctx.Err(); err != nil {
		return fail("", fmt.Errorf("session %s: %w", sessionID, err))
	}
	ctx = WithSessionID(ctx, sessionID)
	logger := log.WithPrefix(e.log(), "session "+sessionID+": ")

	cp, err := e.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		state, err := e.initialState(input)
		if err != nil {
			return fail("", err)
		}
		now := e.now()
		cp = &store.Checkpoint{
			SessionID: sessionID,
			State:     state,
			Completed: []string{},
			Metadata:  maps.Clone(e.metadata),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.store.Save(ctx, cp); err != nil {
			return fail("", e.saveError(ctx, sessionID, err))
		}
		logger.Info("started")
	case err != nil:
		return fail("", &StoreUnavailableError{Op: "load", SessionID: sessionID, Cause: err})
	default:
		if len(input) > 0 {
			logger.Info("resumed from step %d, ignoring new input", cp.Step)
		} else {
			logger.Info("resumed from step %d", cp.Step)
		}
	}

	state, completed, err := e.restore(cp)
	if err != nil {
		return fail("", err)
	}

	if cp.Final || completed[e.graph.sink] {
		emit(e.terminalEvent(sessionID, state, cp.Step))
		return state, nil
	}

	results := make(chan stageResult, len(e.graph.order))
	running := make(map[string]bool)
	step := cp.Step
	createdAt := cp.CreatedAt
	metadata := cp.Metadata
	var failure error

	for {
		if failure == nil {
			for _, name := range e.graph.ReadyStages(completed, running) {
				running[name] = true
				logger.Debug("dispatching stage %s", name)
				go e.runStage(ctx, e.graph.stages[name], state.Clone(), results)
			}
		}
		if len(running) == 0 {
			break
		}

		var res stageResult
		select {
		case <-ctx.Done():
			return fail("", fmt.Errorf("session %s cancelled: %w", sessionID, ctx.Err()))
		case res = <-results:
		}
		delete(running, res.stage)
		if ctx.Err() != nil {
			// Results that race with cancellation are dropped without a checkpoint.
			return fail("", fmt.Errorf("session %s cancelled: %w", sessionID, ctx.Err()))
		}

		if res.err != nil {
			logger.Warn("stage %s failed: %v", res.stage, res.err)
			if failure == nil {
				failure = &StageExecutionError{SessionID: sessionID, Stage: res.stage, Cause: res.err}
			}
			continue
		}

		update, merged, err := e.merge(state, res.stage, res.update)
		if err != nil {
			logger.Warn("stage %s output rejected: %v", res.stage, err)
			if failure == nil {
				failure = &StageExecutionError{SessionID: sessionID, Stage: res.stage, Cause: err}
			}
			continue
		}

		nextCompleted := make(map[string]bool, len(completed)+1)
		for name := range completed {
			nextCompleted[name] = true
		}
		nextCompleted[res.stage] = true
		final := res.stage == e.graph.sink

		checkpoint := &store.Checkpoint{
			SessionID: sessionID,
			State:     merged,
			Completed: e.completedList(nextCompleted),
			Stage:     res.stage,
			Step:      step + 1,
			Final:     final,
			Metadata:  metadata,
			CreatedAt: createdAt,
			UpdatedAt: e.now(),
		}
		if err := e.store.Save(ctx, checkpoint); err != nil {
			err = e.saveError(ctx, sessionID, err)
			var unavailable *StoreUnavailableError
			if !errors.As(err, &unavailable) {
				return fail("", err)
			}
			logger.Error("checkpoint after %s failed: %v", res.stage, unavailable.Cause)
			return fail(res.stage, err)
		}

		state, completed, step = merged, nextCompleted, step+1
		emit(Event{
			Kind:      EventStageComplete,
			SessionID: sessionID,
			Stage:     res.stage,
			Output:    update,
			State:     state.Clone(),
			Step:      step,
			Duration:  res.duration,
			Timestamp: checkpoint.UpdatedAt,
		})
	}

	if failure != nil {
		var se *StageExecutionError
		stage := ""
		if errors.As(failure, &se) {
			stage = se.Stage
		}
		return fail(stage, failure)
	}
	if !completed[e.graph.sink] {
		// Unreachable for a frozen graph.
		return fail("", fmt.Errorf("session %s stalled before terminal stage %s", sessionID, e.graph.sink))
	}

	logger.Info("finished after %d steps", step)
	emit(e.terminalEvent(sessionID, state, step))
	return state, nil
}

// saveError classifies a failed Save. A store that gave up because ctx was
// cancelled reports a cancellation, not an outage.
func (e *Executor) saveError(ctx context.Context, sessionID string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("session %s cancelled: %w", sessionID, ctx.Err())
	}
	return &StoreUnavailableError{Op: "save", SessionID: sessionID, Cause: err}
}

func (e *Executor) terminalEvent(sessionID string, state State, step int) Event {
	output := state.Clone()
	if f := e.graph.outputField; f != "" {
		output = State{}
		if v, ok := state[f]; ok {
			output[f] = v
		}
	}
	return Event{
		Kind:      EventTerminal,
		SessionID: sessionID,
		Output:    output,
		State:     state.Clone(),
		Step:      step,
		Timestamp: e.now(),
	}
}

// runStage runs one stage attempt sequence and reports the outcome on out.
// out is buffered for every stage of the graph, so the send never blocks.
func (e *Executor) runStage(ctx context.Context, stage *Stage, snapshot State, out chan<- stageResult) {
	start := time.Now()
	update, err := e.invoke(ctx, stage, snapshot)
	out <- stageResult{stage: stage.Name, update: update, err: err, duration: time.Since(start)}
}

func (e *Executor) invoke(ctx context.Context, stage *Stage, snapshot State) (State, error) {
	logger := log.WithPrefix(e.log(), "session "+SessionIDFromContext(ctx)+": ")
	attempts := e.retryPolicy.attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		event := StageEventStart
		if attempt > 0 {
			event = StageEventRetry
		}
		notifyListeners(ctx, logger, e.listeners, event, stage.Name, snapshot, lastErr)

		update, err := e.call(ctx, stage, snapshot.Clone())
		if err == nil {
			notifyListeners(ctx, logger, e.listeners, StageEventComplete, stage.Name, update, nil)
			return update, nil
		}
		lastErr = err

		if attempt == attempts-1 || !e.retryPolicy.retryable(err) || ctx.Err() != nil {
			break
		}
		delay := e.retryPolicy.delay(attempt)
		logger.Debug("stage %s attempt %d failed, retrying in %s: %v", stage.Name, attempt+1, delay, err)
		if err := sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	notifyListeners(ctx, logger, e.listeners, StageEventError, stage.Name, snapshot, lastErr)
	return nil, lastErr
}

// call invokes the stage body once, converting a panic into an error.
func (e *Executor) call(ctx context.Context, stage *Stage, snapshot State) (update State, err error) {
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			update, err = nil, fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()
	return stage.Function(ctx, snapshot)
}

// merge validates a stage's update against its write set and field kinds
// and returns the normalized update together with the new state. The
// canonical state is never modified in place.
func (e *Executor) merge(state State, stageName string, update State) (State, State, error) {
	stage := e.graph.stages[stageName]
	normalized := make(State, len(update))
	for _, k := range update.Keys() {
		field, ok := e.graph.fields[k]
		if !ok {
			return nil, nil, fmt.Errorf("%w: stage %q wrote %q", ErrUnknownField, stageName, k)
		}
		if !slices.Contains(stage.Writes, k) {
			return nil, nil, &MergeConflictError{Stage: stageName, Field: k, Owners: e.graph.Writers(k)}
		}
		v, err := normalize(field, update[k])
		if err != nil {
			return nil, nil, err
		}
		normalized[k] = v
	}

	merged := state.Clone()
	for k, v := range normalized {
		merged[k] = v
	}
	return normalized, merged, nil
}

// initialState validates and normalizes the input of a new session.
func (e *Executor) initialState(input State) (State, error) {
	state := make(State, len(input))
	for _, k := range input.Keys() {
		field, ok := e.graph.fields[k]
		if !ok {
			return nil, fmt.Errorf("%w: input %q", ErrUnknownField, k)
		}
		v, err := normalize(field, input[k])
		if err != nil {
			return nil, err
		}
		state[k] = v
	}
	for _, name := range e.graph.fieldOrder {
		if f := e.graph.fields[name]; f.Required && !state.Has(name) {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, name)
		}
	}
	return state, nil
}

// restore rebuilds the typed state and completed set from a checkpoint.
func (e *Executor) restore(cp *store.Checkpoint) (State, map[string]bool, error) {
	for _, k := range slices.Sorted(maps.Keys(e.metadata)) {
		got, ok := cp.Metadata[k]
		// JSON backed stores hand numbers back as float64.
		if ok && fmt.Sprint(got) != fmt.Sprint(e.metadata[k]) {
			return nil, nil, fmt.Errorf("%w: session %s has %s=%v, graph has %v",
				ErrIncompatibleCheckpoint, cp.SessionID, k, got, e.metadata[k])
		}
	}

	state := make(State, len(cp.State))
	for k, raw := range cp.State {
		field, ok := e.graph.fields[k]
		if !ok {
			return nil, nil, fmt.Errorf("%w: session %s has field %q", ErrIncompatibleCheckpoint, cp.SessionID, k)
		}
		v, err := normalize(field, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: session %s: %w", ErrIncompatibleCheckpoint, cp.SessionID, err)
		}
		state[k] = v
	}

	completed := make(map[string]bool, len(cp.Completed))
	for _, name := range cp.Completed {
		if _, ok := e.graph.stages[name]; !ok {
			return nil, nil, fmt.Errorf("%w: session %s completed unknown stage %q", ErrIncompatibleCheckpoint, cp.SessionID, name)
		}
		completed[name] = true
	}
	return state, completed, nil
}

// completedList returns the completed set in topological order.
func (e *Executor) completedList(completed map[string]bool) []string {
	out := make([]string, 0, len(completed))
	for _, name := range e.graph.order {
		if completed[name] {
			out = append(out, name)
		}
	}
	return out
}
