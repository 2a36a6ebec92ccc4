// Package metrics exposes Prometheus collectors for normalisation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rin"

// Recorder owns a private registry so independent pipelines and tests never
// share collectors.
type Recorder struct {
	registry        *prometheus.Registry
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	gates           *prometheus.CounterVec
	backendRequests *prometheus.CounterVec
	commands        *prometheus.CounterVec
	checks          *prometheus.CounterVec
	checkDuration   prometheus.Histogram
}

// NewRecorder registers all collectors on a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Normalisation runs by terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a normalisation run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		gates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_checks_total",
			Help:      "Gate evaluations by gate, checkpoint and result.",
		}, []string{"gate", "checkpoint", "result"}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend requests by mode and result.",
		}, []string{"mode", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_commands_total",
			Help:      "Parsed backend lines by mode and disposition.",
		}, []string{"mode", "disposition"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_block_checks_total",
			Help:      "Checked code blocks by language and result.",
		}, []string{"lang", "result"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "code_block_check_duration_seconds",
			Help:      "Time spent checking a single code block.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	r.registry.MustRegister(
		r.runs,
		r.runDuration,
		r.gates,
		r.backendRequests,
		r.commands,
		r.checks,
		r.checkDuration,
	)
	return r
}

// Registry exposes the registry for HTTP handlers and textfile export
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RunFinished counts a terminal state and observes its duration
func (r *Recorder) RunFinished(state string, elapsed time.Duration) {
	r.runs.WithLabelValues(state).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

// Gate counts a gate evaluation
func (r *Recorder) Gate(gate, checkpoint string, passed bool) {
	r.gates.WithLabelValues(gate, checkpoint, result(passed)).Inc()
}

// BackendRequest counts one backend round trip and its parsed lines
func (r *Recorder) BackendRequest(mode string, err error, accepted, rejected int) {
	r.backendRequests.WithLabelValues(mode, result(err == nil)).Inc()
	r.commands.WithLabelValues(mode, "accepted").Add(float64(accepted))
	r.commands.WithLabelValues(mode, "rejected").Add(float64(rejected))
}

// CodeBlockChecked counts one checked block
func (r *Recorder) CodeBlockChecked(lang string, passed bool, elapsed time.Duration) {
	r.checks.WithLabelValues(lang, result(passed)).Inc()
	r.checkDuration.Observe(elapsed.Seconds())
}

// WriteTextfile dumps the registry in the node-exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

func result(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}
