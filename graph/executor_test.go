package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallnest/debategraph/log"
	"github.com/smallnest/debategraph/store"
	"github.com/smallnest/debategraph/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogger(&log.NoOpLogger{})
}

// diamond builds start -> {a, b} -> c where a writes y, b writes z and c
// joins them into out. Nil stage functions get default bodies.
type diamond struct {
	a, b, c StageFunc
	calls   map[string]*atomic.Int32
}

func (d *diamond) build(t *testing.T) *Graph {
	t.Helper()
	d.calls = map[string]*atomic.Int32{
		"start": {}, "a": {}, "b": {}, "c": {},
	}
	counted := func(name string, fn StageFunc) StageFunc {
		return func(ctx context.Context, s State) (State, error) {
			d.calls[name].Add(1)
			return fn(ctx, s)
		}
	}
	if d.a == nil {
		d.a = func(context.Context, State) (State, error) { return State{"y": "A"}, nil }
	}
	if d.b == nil {
		d.b = func(context.Context, State) (State, error) { return State{"z": "B"}, nil }
	}
	if d.c == nil {
		d.c = func(_ context.Context, s State) (State, error) {
			return State{"out": s.String("y") + s.String("z")}, nil
		}
	}

	g := NewGraph()
	require.NoError(t, g.AddInputField("x", KindString))
	require.NoError(t, g.AddField("y", KindString))
	require.NoError(t, g.AddField("z", KindString))
	require.NoError(t, g.AddField("out", KindString))
	require.NoError(t, g.AddStage("start", "", nil, nil, counted("start", noop)))
	require.NoError(t, g.AddStage("a", "", []string{"start"}, []string{"y"}, counted("a", d.a)))
	require.NoError(t, g.AddStage("b", "", []string{"start"}, []string{"z"}, counted("b", d.b)))
	require.NoError(t, g.AddStage("c", "", []string{"a", "b"}, []string{"out"}, counted("c", d.c)))
	require.NoError(t, g.SetOutputField("out"))
	return g
}

func gated(gate <-chan struct{}, out State) StageFunc {
	return func(ctx context.Context, _ State) (State, error) {
		select {
		case <-gate:
			return out, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
}

var wantDiamond = State{"x": "go", "y": "A", "z": "B", "out": "AB"}

func TestRun_Diamond(t *testing.T) {
	d := &diamond{}
	r, err := d.build(t).Compile(memory.NewMemoryCheckpointStore())
	require.NoError(t, err)

	final, err := r.Run(context.Background(), "s1", State{"x": "go"})
	require.NoError(t, err)
	assert.Equal(t, wantDiamond, final)

	for name, n := range d.calls {
		assert.Equal(t, int32(1), n.Load(), name)
	}
}

func TestStream_MergeIsOrderIndependent(t *testing.T) {
	for _, first := range []string{"a", "b"} {
		t.Run(first+" first", func(t *testing.T) {
			gateA, gateB := make(chan struct{}), make(chan struct{})
			d := &diamond{
				a: gated(gateA, State{"y": "A"}),
				b: gated(gateB, State{"z": "B"}),
			}
			r, err := d.build(t).Compile(nil)
			require.NoError(t, err)

			events := r.Stream(context.Background(), "s-"+first, State{"x": "go"})
			assert.Equal(t, "start", nextEvent(t, events).Stage)

			order := []string{"a", "b"}
			if first == "b" {
				order = []string{"b", "a"}
			}
			for _, name := range order {
				if name == "a" {
					close(gateA)
				} else {
					close(gateB)
				}
				ev := nextEvent(t, events)
				assert.Equal(t, EventStageComplete, ev.Kind)
				assert.Equal(t, name, ev.Stage, "events follow completion order")
			}

			c := nextEvent(t, events)
			assert.Equal(t, "c", c.Stage)
			assert.Equal(t, State{"out": "AB"}, c.Output)

			term := nextEvent(t, events)
			assert.Equal(t, EventTerminal, term.Kind)
			assert.Equal(t, State{"out": "AB"}, term.Output)
			assert.Equal(t, wantDiamond, term.State)
			assert.True(t, term.Terminal())

			_, open := <-events
			assert.False(t, open, "stream closes after terminal event")
		})
	}
}

func TestGetState(t *testing.T) {
	d := &diamond{}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Run(ctx, "s1", State{"x": "go"})
	require.NoError(t, err)

	snap, err := r.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, wantDiamond, snap.Values)
	assert.True(t, snap.Final)
	assert.Empty(t, snap.Next)
	assert.Equal(t, []string{"start", "a", "b", "c"}, snap.Completed)
	assert.Equal(t, 4, snap.Step)
	assert.Equal(t, "c", snap.Stage)

	_, err = r.GetState(ctx, "unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ids, err := r.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

// crashingStore fails every Save after the first allowed ones, simulating a
// process that dies part way through a session.
type crashingStore struct {
	store.CheckpointStore
	mu      sync.Mutex
	allowed int
	saves   int
}

func (s *crashingStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	s.mu.Lock()
	s.saves++
	crashed := s.allowed >= 0 && s.saves > s.allowed
	s.mu.Unlock()
	if crashed {
		return errors.New("disk full")
	}
	return s.CheckpointStore.Save(ctx, cp)
}

func TestResumeAfterCrash_MatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()

	reference := &diamond{}
	ref, err := reference.build(t).Compile(nil)
	require.NoError(t, err)
	want, err := ref.Run(ctx, "ref", State{"x": "go"})
	require.NoError(t, err)

	// initial checkpoint plus 0..3 completed stages before the crash
	for completedBefore := 0; completedBefore < 4; completedBefore++ {
		backing := memory.NewMemoryCheckpointStore()
		d := &diamond{}
		g := d.build(t)

		crashing, err := g.Compile(&crashingStore{CheckpointStore: backing, allowed: 1 + completedBefore})
		require.NoError(t, err)
		_, err = crashing.Run(ctx, "s", State{"x": "go"})
		var unavailable *StoreUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, "save", unavailable.Op)

		snap, err := crashing.GetState(ctx, "s")
		require.NoError(t, err)
		assert.False(t, snap.Final)
		assert.Len(t, snap.Completed, completedBefore)

		resumed, err := g.Compile(backing)
		require.NoError(t, err)
		got, err := resumed.Run(ctx, "s", State{"x": "ignored on resume"})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFailingStage_LeavesCheckpointUnchanged(t *testing.T) {
	gateA, gateB := make(chan struct{}), make(chan struct{})
	d := &diamond{
		a: gated(gateA, State{"y": "A"}),
		b: func(ctx context.Context, _ State) (State, error) {
			<-gateB
			return State{"z": "partial"}, errors.New("generation timed out")
		},
	}
	st := memory.NewMemoryCheckpointStore()
	r, err := d.build(t).Compile(st)
	require.NoError(t, err)
	ctx := context.Background()

	events := r.Stream(ctx, "s", State{"x": "go"})
	assert.Equal(t, "start", nextEvent(t, events).Stage)
	close(gateA)
	assert.Equal(t, "a", nextEvent(t, events).Stage)

	before, err := st.Load(ctx, "s")
	require.NoError(t, err)

	close(gateB)
	ev := nextEvent(t, events)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "b", ev.Stage)
	var se *StageExecutionError
	require.ErrorAs(t, ev.Err, &se)
	assert.Equal(t, "b", se.Stage)
	assert.EqualError(t, se.Cause, "generation timed out")
	assert.Empty(t, drain(t, events))

	after, err := st.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, after.Final)
	assert.NotContains(t, after.State, "z")
	assert.Equal(t, []string{"start", "a"}, after.Completed)

	snap, err := r.GetState(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, snap.Next)
}

func TestRetryOnResume_DoesNotReinvokeCompletedStages(t *testing.T) {
	var bAttempts atomic.Int32
	d := &diamond{
		b: func(context.Context, State) (State, error) {
			if bAttempts.Add(1) == 1 {
				return nil, errors.New("transient")
			}
			return State{"z": "B"}, nil
		},
	}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Run(ctx, "s", State{"x": "go"})
	var se *StageExecutionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b", se.Stage)
	assert.Equal(t, int32(1), d.calls["a"].Load())

	final, err := r.Run(ctx, "s", nil)
	require.NoError(t, err)
	assert.Equal(t, wantDiamond, final)
	assert.Equal(t, int32(1), d.calls["start"].Load())
	assert.Equal(t, int32(1), d.calls["a"].Load(), "a is not re-invoked")
	assert.Equal(t, int32(2), d.calls["b"].Load())
	assert.Equal(t, int32(1), d.calls["c"].Load())
}

func TestRun_FinishedSessionRunsNothing(t *testing.T) {
	d := &diamond{}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Run(ctx, "s", State{"x": "go"})
	require.NoError(t, err)

	events := drain(t, r.Stream(ctx, "s", State{"x": "other"}))
	require.Len(t, events, 1)
	assert.Equal(t, EventTerminal, events[0].Kind)
	assert.Equal(t, State{"out": "AB"}, events[0].Output)
	assert.Equal(t, int32(1), d.calls["c"].Load())
}

func TestRun_SessionBusy(t *testing.T) {
	gate := make(chan struct{})
	d := &diamond{a: gated(gate, State{"y": "A"})}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)
	ctx := context.Background()

	events := r.Stream(ctx, "s", State{"x": "go"})
	assert.Equal(t, "start", nextEvent(t, events).Stage)
	assert.True(t, r.Busy("s"))

	_, err = r.Run(ctx, "s", nil)
	var busy *SessionBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "s", busy.SessionID)

	busyEvents := drain(t, r.Stream(ctx, "s", nil))
	require.Len(t, busyEvents, 1)
	assert.ErrorAs(t, busyEvents[0].Err, &busy)

	assert.ErrorAs(t, r.DeleteSession(ctx, "s"), &busy)

	// other sessions are independent
	other := &diamond{}
	r2, err := other.build(t).Compile(r.Store())
	require.NoError(t, err)
	_, err = r2.Run(ctx, "other", State{"x": "go"})
	require.NoError(t, err)

	close(gate)
	last := drain(t, events)
	require.NotEmpty(t, last)
	assert.Equal(t, EventTerminal, last[len(last)-1].Kind)
	assert.False(t, r.Busy("s"))
}

func TestStream_Cancellation(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	d := &diamond{
		a: func(context.Context, State) (State, error) {
			<-gate
			return State{"y": "A"}, nil
		},
	}
	st := memory.NewMemoryCheckpointStore()
	r, err := d.build(t).Compile(st)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events := r.Stream(ctx, "s", State{"x": "go"})
	assert.Equal(t, "start", nextEvent(t, events).Stage)

	// b finishes promptly; wait for it so the checkpoint is deterministic
	assert.Equal(t, "b", nextEvent(t, events).Stage)
	cancel()

	ev := nextEvent(t, events)
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, context.Canceled)
	assert.Empty(t, drain(t, events))

	cp, err := st.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "b"}, cp.Completed)
	assert.NotContains(t, cp.State, "y")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	d := &diamond{}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, "s", State{"x": "go"})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = r.GetState(context.Background(), "s")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_UndeclaredWrite(t *testing.T) {
	d := &diamond{
		a: func(context.Context, State) (State, error) {
			return State{"y": "A", "z": "stolen"}, nil
		},
	}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "s", State{"x": "go"})
	var se *StageExecutionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "a", se.Stage)

	var mc *MergeConflictError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, "z", mc.Field)
	assert.Equal(t, []string{"b"}, mc.Owners)

	snap, err := r.GetState(context.Background(), "s")
	require.NoError(t, err)
	assert.NotContains(t, snap.Values, "y")
}

func TestRun_WrongFieldKind(t *testing.T) {
	d := &diamond{
		a: func(context.Context, State) (State, error) { return State{"y": 42}, nil },
	}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "s", State{"x": "go"})
	assert.ErrorIs(t, err, ErrFieldType)
}

func TestRun_StagePanicIsRecovered(t *testing.T) {
	d := &diamond{
		c: func(context.Context, State) (State, error) { panic("boom") },
	}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "s", State{"x": "go"})
	var se *StageExecutionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "c", se.Stage)
	assert.ErrorIs(t, err, ErrStagePanic)
}

func TestRun_InputValidation(t *testing.T) {
	d := &diamond{}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Run(ctx, "s", State{})
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = r.Run(ctx, "s", State{"x": "go", "bogus": "1"})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = r.Run(ctx, "", State{"x": "go"})
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestRun_RetryPolicy(t *testing.T) {
	var attempts atomic.Int32
	d := &diamond{
		a: func(context.Context, State) (State, error) {
			if attempts.Add(1) < 3 {
				return nil, errors.New("rate limited")
			}
			return State{"y": "A"}, nil
		},
	}

	var mu sync.Mutex
	var seen []StageEvent
	listener := StageListenerFunc(func(ctx context.Context, ev StageEvent, stage string, _ State, _ error) {
		if stage != "a" {
			return
		}
		assert.Equal(t, "s", SessionIDFromContext(ctx))
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	r, err := d.build(t).Compile(nil,
		WithRetryPolicy(&RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, RetryableErrors: []string{"rate limited"}}),
		WithListener(listener),
	)
	require.NoError(t, err)

	final, err := r.Run(context.Background(), "s", State{"x": "go"})
	require.NoError(t, err)
	assert.Equal(t, wantDiamond, final)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []StageEvent{StageEventStart, StageEventRetry, StageEventRetry, StageEventComplete}, seen)
}

func TestRun_RetryPolicySkipsNonRetryable(t *testing.T) {
	var attempts atomic.Int32
	d := &diamond{
		a: func(context.Context, State) (State, error) {
			attempts.Add(1)
			return nil, errors.New("invalid prompt")
		},
	}
	r, err := d.build(t).Compile(nil,
		WithRetryPolicy(&RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, RetryableErrors: []string{"timeout"}}),
	)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "s", State{"x": "go"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRun_StageTimeout(t *testing.T) {
	d := &diamond{
		a: func(ctx context.Context, _ State) (State, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	r, err := d.build(t).Compile(nil, WithStageTimeout(10*time.Millisecond))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "s", State{"x": "go"})
	var se *StageExecutionError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_SnapshotIsReadOnly(t *testing.T) {
	d := &diamond{
		a: func(_ context.Context, s State) (State, error) {
			s["x"] = "mutated"
			return State{"y": "A"}, nil
		},
	}
	r, err := d.build(t).Compile(nil)
	require.NoError(t, err)

	final, err := r.Run(context.Background(), "s", State{"x": "go"})
	require.NoError(t, err)
	assert.Equal(t, "go", final["x"])
}

func TestHistoryAndDelete(t *testing.T) {
	d := &diamond{}
	r, err := d.build(t).Compile(memory.NewMemoryCheckpointStore())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Run(ctx, "s", State{"x": "go"})
	require.NoError(t, err)

	history, err := r.History(ctx, "s")
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, snap := range history {
		assert.Equal(t, i, snap.Step)
		assert.Len(t, snap.Completed, i)
	}
	assert.Equal(t, []string{"start"}, history[0].Next)
	assert.True(t, history[4].Final)

	require.NoError(t, r.DeleteSession(ctx, "s"))
	_, err = r.GetState(ctx, "s")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type latestOnlyStore struct{ store.CheckpointStore }

func TestHistory_Unsupported(t *testing.T) {
	d := &diamond{}
	r, err := d.build(t).Compile(latestOnlyStore{memory.NewMemoryCheckpointStore()})
	require.NoError(t, err)

	_, err = r.History(context.Background(), "s")
	assert.ErrorIs(t, err, ErrHistoryUnsupported)
}

func TestNewExecutor_RequiresFrozenGraph(t *testing.T) {
	d := &diamond{}
	_, err := NewExecutor(d.build(t), memory.NewMemoryCheckpointStore())
	assert.ErrorIs(t, err, ErrGraphNotFrozen)
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

// cancellingStore cancels the run while the checkpoint of stage is being
// written and reports the cancellation the way the bundled stores do.
type cancellingStore struct {
	store.CheckpointStore
	stage  string
	cancel context.CancelFunc
}

func (s *cancellingStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	if cp.Stage == s.stage {
		s.cancel()
		return ctx.Err()
	}
	return s.CheckpointStore.Save(ctx, cp)
}

func TestRun_CancelledDuringSave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &diamond{}
	backing := memory.NewMemoryCheckpointStore()
	r, err := d.build(t).Compile(&cancellingStore{CheckpointStore: backing, stage: "start", cancel: cancel})
	require.NoError(t, err)

	_, err = r.Run(ctx, "s", State{"x": "go"})
	require.ErrorIs(t, err, context.Canceled)
	var unavailable *StoreUnavailableError
	assert.False(t, errors.As(err, &unavailable), "cancellation reported as %v", err)

	cp, err := backing.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.Empty(t, cp.Completed)
}

func TestMetadata_StampedAndChecked(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryCheckpointStore()
	d := &diamond{}
	g := d.build(t)

	two, err := g.Compile(st, WithMetadata(map[string]any{"rounds": 2}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rounds": 2}, two.Metadata())
	_, err = two.Run(ctx, "s", State{"x": "go"})
	require.NoError(t, err)

	history, err := two.History(ctx, "s")
	require.NoError(t, err)
	for _, snap := range history {
		assert.Equal(t, 2, snap.Metadata["rounds"], "step %d", snap.Step)
	}

	one, err := g.Compile(st, WithMetadata(map[string]any{"rounds": 1}))
	require.NoError(t, err)
	_, err = one.GetState(ctx, "s")
	require.ErrorIs(t, err, ErrIncompatibleCheckpoint)
	assert.Contains(t, err.Error(), "rounds=2")
	_, err = one.Run(ctx, "s", nil)
	assert.ErrorIs(t, err, ErrIncompatibleCheckpoint)

	// numbers decoded from JSON compare by value
	require.NoError(t, st.Save(ctx, &store.Checkpoint{
		SessionID: "decoded",
		State:     map[string]any{"x": "go"},
		Completed: []string{},
		Metadata:  map[string]any{"rounds": float64(2)},
	}))
	_, err = two.GetState(ctx, "decoded")
	assert.NoError(t, err)

	plain, err := g.Compile(st)
	require.NoError(t, err)
	_, err = plain.GetState(ctx, "s")
	assert.NoError(t, err)
}

func TestSessionLocks_SharedBetweenRunnables(t *testing.T) {
	gate := make(chan struct{})
	d := &diamond{a: gated(gate, State{"y": "A"})}
	g := d.build(t)
	st := memory.NewMemoryCheckpointStore()
	locks := NewSessionLocks()
	ctx := context.Background()

	r1, err := g.Compile(st, WithSessionLocks(locks))
	require.NoError(t, err)
	r2, err := g.Compile(st, WithSessionLocks(locks))
	require.NoError(t, err)

	events, err := r1.Start(ctx, "s", State{"x": "go"})
	require.NoError(t, err)
	assert.True(t, r2.Busy("s"))

	_, err = r2.Start(ctx, "s", nil)
	var busy *SessionBusyError
	require.ErrorAs(t, err, &busy)
	assert.ErrorAs(t, r2.DeleteSession(ctx, "s"), &busy)

	close(gate)
	all := drain(t, events)
	require.NotEmpty(t, all)
	assert.Equal(t, EventTerminal, all[len(all)-1].Kind)
	assert.False(t, locks.Busy("s"))
}
