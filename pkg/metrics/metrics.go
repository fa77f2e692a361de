// Package metrics accumulates loop counters, persisting them as JSON and
// exposing them through a Prometheus registry for text-format snapshots.
package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"devloop/pkg/logx"
)

// Counters are the persisted loop totals. All fields are monotonically
// increasing across restarts; the file is merged on load, never reset.
type Counters struct {
	CyclesCompleted     int64   `json:"cycles_completed"`
	TasksCompleted      int64   `json:"tasks_completed"`
	TasksSkipped        int64   `json:"tasks_skipped"`
	Retries             int64   `json:"retries"`
	IdeasProcessed      int64   `json:"ideas_processed"`
	TotalRuntimeSeconds float64 `json:"total_runtime_seconds"`
}

// Recorder persists counters to disk and mirrors them into Prometheus.
type Recorder struct {
	path   string
	logger *logx.Logger

	mu       sync.Mutex
	counters Counters

	registry    *prometheus.Registry
	promCycles  prometheus.Counter
	promTasks   prometheus.Counter
	promSkipped prometheus.Counter
	promRetries prometheus.Counter
	promIdeas   prometheus.Counter
	promRuntime prometheus.Counter
}

// NewRecorder loads any existing counters from path and registers the
// Prometheus mirrors. A corrupt or missing file starts from zero.
func NewRecorder(path string) (*Recorder, error) {
	r := &Recorder{
		path:     path,
		logger:   logx.NewLogger("metrics"),
		registry: prometheus.NewRegistry(),
	}

	factory := promauto.With(r.registry)
	r.promCycles = factory.NewCounter(prometheus.CounterOpts{
		Name: "devloop_cycles_completed_total",
		Help: "Completed plan/build/eval cycles",
	})
	r.promTasks = factory.NewCounter(prometheus.CounterOpts{
		Name: "devloop_tasks_completed_total",
		Help: "Tasks executed to completion",
	})
	r.promSkipped = factory.NewCounter(prometheus.CounterOpts{
		Name: "devloop_tasks_skipped_total",
		Help: "Tasks skipped after retry exhaustion",
	})
	r.promRetries = factory.NewCounter(prometheus.CounterOpts{
		Name: "devloop_retries_total",
		Help: "Phase attempts that failed and were retried",
	})
	r.promIdeas = factory.NewCounter(prometheus.CounterOpts{
		Name: "devloop_ideas_processed_total",
		Help: "Idea documents consumed into plans",
	})
	r.promRuntime = factory.NewCounter(prometheus.CounterOpts{
		Name: "devloop_runtime_seconds_total",
		Help: "Cumulative wall-clock runtime of the loop",
	})

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// load merges counters persisted by a previous run. The Prometheus mirrors
// are primed so a snapshot after restart shows lifetime totals.
func (r *Recorder) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read metrics file: %w", err)
	}

	var loaded Counters
	if err := json.Unmarshal(data, &loaded); err != nil {
		r.logger.Warn("metrics file is corrupt, starting fresh: %v", err)
		return nil
	}

	r.counters = loaded
	r.promCycles.Add(float64(loaded.CyclesCompleted))
	r.promTasks.Add(float64(loaded.TasksCompleted))
	r.promSkipped.Add(float64(loaded.TasksSkipped))
	r.promRetries.Add(float64(loaded.Retries))
	r.promIdeas.Add(float64(loaded.IdeasProcessed))
	r.promRuntime.Add(loaded.TotalRuntimeSeconds)
	return nil
}

// persist rewrites the metrics file. Failures are logged, never propagated;
// losing a counter update must not fail a phase.
func (r *Recorder) persist() {
	data, err := json.MarshalIndent(r.counters, "", "  ")
	if err != nil {
		r.logger.Error("marshal metrics: %v", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		r.logger.Error("create metrics directory: %v", err)
		return
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.logger.Error("write metrics: %v", err)
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		r.logger.Error("replace metrics file: %v", err)
	}
}

// CycleCompleted records one finished cycle.
func (r *Recorder) CycleCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.CyclesCompleted++
	r.promCycles.Inc()
	r.persist()
}

// TaskCompleted records one executed task.
func (r *Recorder) TaskCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.TasksCompleted++
	r.promTasks.Inc()
	r.persist()
}

// TaskSkipped records a task abandoned after retry exhaustion.
func (r *Recorder) TaskSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.TasksSkipped++
	r.promSkipped.Inc()
	r.persist()
}

// Retry records one failed-and-retried phase attempt.
func (r *Recorder) Retry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.Retries++
	r.promRetries.Inc()
	r.persist()
}

// IdeaProcessed records one idea consumed into a plan.
func (r *Recorder) IdeaProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.IdeasProcessed++
	r.promIdeas.Inc()
	r.persist()
}

// AddRuntime accumulates wall-clock time spent running the loop.
func (r *Recorder) AddRuntime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.TotalRuntimeSeconds += d.Seconds()
	r.promRuntime.Add(d.Seconds())
	r.persist()
}

// Counters returns a copy of the current totals.
func (r *Recorder) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Snapshot renders the registry in Prometheus text exposition format.
func (r *Recorder) Snapshot() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return "", fmt.Errorf("encode metrics: %w", err)
		}
	}
	return buf.String(), nil
}
