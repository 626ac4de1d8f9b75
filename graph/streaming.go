package graph

import (
	"context"
	"time"
)

// EventKind identifies an entry of the event stream.
type EventKind string

const (
	// EventStageComplete is emitted after a stage's output is merged and checkpointed.
	EventStageComplete EventKind = "stage"

	// EventTerminal is emitted once the terminal stage is checkpointed. It is the last event.
	EventTerminal EventKind = "terminal"

	// EventError is emitted when a run stops early. It is the last event.
	EventError EventKind = "error"
)

// Event is one entry of a session's event stream. Stage completions arrive
// in the order stages actually finished.
type Event struct {
	Kind      EventKind
	SessionID string
	// Stage is the completed or failing stage. It is empty for terminal
	// events and for errors not tied to a stage.
	Stage string
	// Output holds the fields written by Stage, or for terminal events the
	// designated output field (the whole state when none is designated).
	Output State
	// State is the merged state after the event.
	State     State
	Step      int
	Duration  time.Duration
	Err       error
	Timestamp time.Time
}

// Terminal reports whether no further events follow.
func (e Event) Terminal() bool {
	return e.Kind == EventTerminal || e.Kind == EventError
}

// Stream drives a session and returns its events. The channel is buffered
// to hold every event of the run, so a slow reader never stalls execution,
// and it is closed after the terminal or error event. Cancel ctx to stop
// the run. A new call resumes from the last checkpoint.
func (r *Runnable) Stream(ctx context.Context, sessionID string, input State) <-chan Event {
	events, err := r.Start(ctx, sessionID, input)
	if err != nil {
		failed := make(chan Event, 1)
		failed <- Event{Kind: EventError, SessionID: sessionID, Err: err, Timestamp: time.Now()}
		close(failed)
		return failed
	}
	return events
}

// Start is Stream for callers that must know before the first event whether
// the session could be taken: a busy session fails with *SessionBusyError
// and nothing is run.
func (r *Runnable) Start(ctx context.Context, sessionID string, input State) (<-chan Event, error) {
	if err := r.acquire(sessionID); err != nil {
		return nil, err
	}

	events := make(chan Event, len(r.graph.order)+2)
	go func() {
		defer close(events)
		defer r.release(sessionID)
		_, _ = r.executor.Execute(ctx, sessionID, input, func(e Event) {
			events <- e
		})
	}()
	return events, nil
}
