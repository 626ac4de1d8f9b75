package graph

import (
	"context"
	"sync"

	"github.com/smallnest/debategraph/log"
)

// StageEvent is the lifecycle notification delivered to listeners.
type StageEvent string

const (
	// StageEventStart indicates a stage attempt has started
	StageEventStart StageEvent = "start"

	// StageEventRetry indicates a failed attempt will be retried
	StageEventRetry StageEvent = "retry"

	// StageEventComplete indicates a stage body returned successfully
	StageEventComplete StageEvent = "complete"

	// StageEventError indicates a stage failed for this run
	StageEventError StageEvent = "error"
)

// StageListener observes stage lifecycle events. The session id is
// available through SessionIDFromContext. Listeners are called from stage
// goroutines and must be safe for concurrent use.
type StageListener interface {
	OnStageEvent(ctx context.Context, event StageEvent, stage string, state State, err error)
}

// StageListenerFunc is a function adapter for StageListener
type StageListenerFunc func(ctx context.Context, event StageEvent, stage string, state State, err error)

// OnStageEvent implements the StageListener interface
func (f StageListenerFunc) OnStageEvent(ctx context.Context, event StageEvent, stage string, state State, err error) {
	f(ctx, event, stage, state, err)
}

// notifyListeners fans the event out to all listeners and waits for them.
// A panicking listener is logged and otherwise ignored.
func notifyListeners(ctx context.Context, logger log.Logger, listeners []StageListener, event StageEvent, stage string, state State, err error) {
	if len(listeners) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l StageListener) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("listener panicked on %s/%s: %v", stage, event, r)
				}
			}()
			l.OnStageEvent(ctx, event, stage, state, err)
		}(l)
	}
	wg.Wait()
}
