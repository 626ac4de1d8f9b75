// Package metrics exposes Prometheus metrics for debate sessions: stage
// outcomes and latency, session outcomes and text generation calls.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/llm"
)

// Collector records engine metrics. It implements graph.StageListener.
type Collector struct {
	stageRuns        *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stagesInFlight   prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec
	generateTotal    *prometheus.CounterVec
	generateDuration prometheus.Histogram

	mu      sync.Mutex
	started map[string]time.Time
}

var _ graph.StageListener = (*Collector)(nil)

// NewCollector registers the metrics with reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		stageRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_runs_total",
				Help:      "Stage attempts by outcome (complete, error, retry)",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Stage duration in seconds, retries included",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		stagesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stages_in_flight",
				Help:      "Stages currently executing",
			},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Session runs by outcome (terminal, error)",
			},
			[]string{"outcome"},
		),
		generateTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generate_requests_total",
				Help:      "Text generation calls by status",
			},
			[]string{"status"},
		),
		generateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generate_duration_seconds",
				Help:      "Text generation latency in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		started: make(map[string]time.Time),
	}
}

func attemptKey(ctx context.Context, stage string) string {
	return graph.SessionIDFromContext(ctx) + "/" + stage
}

// OnStageEvent implements graph.StageListener.
func (c *Collector) OnStageEvent(ctx context.Context, event graph.StageEvent, stage string, _ graph.State, _ error) {
	key := attemptKey(ctx, stage)

	switch event {
	case graph.StageEventStart:
		c.mu.Lock()
		c.started[key] = time.Now()
		c.mu.Unlock()
		c.stagesInFlight.Inc()
	case graph.StageEventRetry:
		c.stageRuns.WithLabelValues(stage, "retry").Inc()
	case graph.StageEventComplete, graph.StageEventError:
		c.mu.Lock()
		start, ok := c.started[key]
		delete(c.started, key)
		c.mu.Unlock()

		if ok {
			c.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
			c.stagesInFlight.Dec()
		}
		c.stageRuns.WithLabelValues(stage, string(event)).Inc()
	}
}

// ObserveEvent counts session outcomes from a stream event.
func (c *Collector) ObserveEvent(ev graph.Event) {
	switch ev.Kind {
	case graph.EventTerminal:
		c.sessionsTotal.WithLabelValues("terminal").Inc()
	case graph.EventError:
		c.sessionsTotal.WithLabelValues("error").Inc()
	}
}

// InstrumentGenerator wraps gen so every call is counted and timed.
func (c *Collector) InstrumentGenerator(gen llm.Generator) llm.Generator {
	return llm.GeneratorFunc(func(ctx context.Context, system, user string) (string, error) {
		start := time.Now()
		out, err := gen.Generate(ctx, system, user)
		c.generateDuration.Observe(time.Since(start).Seconds())

		status := "ok"
		if err != nil {
			status = "error"
		}
		c.generateTotal.WithLabelValues(status).Inc()
		return out, err
	})
}
