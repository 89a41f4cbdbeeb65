package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/archive-ingest/internal/progress"
)

// PrometheusSink exports run progress via Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	discovered     prometheus.Gauge
	locations      *prometheus.CounterVec
	artifactBytes  prometheus.Counter
	convertLatency prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_runs_started_total",
			Help: "Total ingestion runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_completed_total",
			Help: "Total ingestion runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_runs_running",
			Help: "Current number of running ingestion runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
		}, []string{"result"}),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_discovered_files",
			Help: "Files discovered by the current run.",
		}),
		locations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_locations_total",
			Help: "Per-location outcomes partitioned by stage.",
		}, []string{"outcome"}),
		artifactBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_artifact_bytes_total",
			Help: "Bytes of artifacts written.",
		}),
		convertLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_convert_duration_seconds",
			Help:    "Time to convert one location.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.discovered,
		s.locations,
		s.artifactBytes,
		s.convertLatency,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StageDiscovered:
		s.discovered.Inc()
	case progress.StageDiscoveryDone:
		s.discovered.Set(float64(evt.Count))
	case progress.StageProcessed:
		s.locations.WithLabelValues("processed").Inc()
		if evt.Bytes > 0 {
			s.artifactBytes.Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.convertLatency.Observe(evt.Dur.Seconds())
		}
	case progress.StageSkipped:
		s.locations.WithLabelValues("skipped").Inc()
	case progress.StageRequeued:
		s.locations.WithLabelValues("requeued").Inc()
	case progress.StageFailed:
		s.locations.WithLabelValues("failed").Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
