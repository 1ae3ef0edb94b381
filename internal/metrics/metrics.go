// Package metrics collects Prometheus metrics for a run and exports them
// in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/heal"
	"github.com/rand/devchain/internal/phase"
)

const namespace = "devchain"

// Metrics holds the collectors of one process. It satisfies both
// agent.Observer and phase.Observer.
type Metrics struct {
	reg *prometheus.Registry

	// AgentCalls counts Ask calls. Labels: role, model, result.
	AgentCalls *prometheus.CounterVec
	// AgentRetries counts rate-limit retries. Labels: role, model.
	AgentRetries *prometheus.CounterVec
	// AgentCallDuration measures Ask latency including retries. Labels: role.
	AgentCallDuration *prometheus.HistogramVec
	// LoopRounds counts critic rounds. Labels: phase.
	LoopRounds *prometheus.CounterVec
	// LoopsCompleted counts loops that ended on the completion marker.
	// Labels: phase.
	LoopsCompleted *prometheus.CounterVec
	// HealResults counts healed files. Labels: result (ok, healed, failed, error).
	HealResults *prometheus.CounterVec
	// HealRepairs counts applied repairs.
	HealRepairs prometheus.Counter
}

var (
	_ agent.Observer = (*Metrics)(nil)
	_ phase.Observer = (*Metrics)(nil)
)

// New creates metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		AgentCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "calls_total",
			Help:      "Agent calls by role, model and result",
		}, []string{"role", "model", "result"}),
		AgentRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "retries_total",
			Help:      "Rate-limit retries by role and model",
		}, []string{"role", "model"}),
		AgentCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "call_duration_seconds",
			Help:      "Agent call duration in seconds, retries included",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"role"}),
		LoopRounds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "rounds_total",
			Help:      "Critic rounds by phase",
		}, []string{"phase"}),
		LoopsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "completed_total",
			Help:      "Loops that ended on the completion marker, by phase",
		}, []string{"phase"}),
		HealResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heal",
			Name:      "files_total",
			Help:      "Healed files by result",
		}, []string{"result"}),
		HealRepairs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heal",
			Name:      "repairs_total",
			Help:      "Repairs written to disk",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveCall implements agent.Observer.
func (m *Metrics) ObserveCall(role, model string, reply agent.Reply) {
	result := "ok"
	if !reply.OK() {
		result = reply.Failure.String()
	}
	m.AgentCalls.WithLabelValues(role, model, result).Inc()
	m.AgentCallDuration.WithLabelValues(role).Observe(reply.Duration.Seconds())
}

// ObserveRetry implements agent.Observer.
func (m *Metrics) ObserveRetry(role, model string) {
	m.AgentRetries.WithLabelValues(role, model).Inc()
}

// ObserveLoop implements phase.Observer.
func (m *Metrics) ObserveLoop(name string, out phase.LoopOutcome) {
	m.LoopRounds.WithLabelValues(name).Add(float64(out.Rounds))
	if out.Completed {
		m.LoopsCompleted.WithLabelValues(name).Inc()
	}
}

// ObserveHeal implements phase.Observer.
func (m *Metrics) ObserveHeal(res heal.Result) {
	m.HealResults.WithLabelValues(healResult(res)).Inc()
	m.HealRepairs.Add(float64(res.Repairs()))
}

func healResult(res heal.Result) string {
	switch {
	case res.Err != nil:
		return "error"
	case !res.Success:
		return "failed"
	case res.Repairs() > 0:
		return "healed"
	default:
		return "ok"
	}
}

// WriteTextfile writes all metrics to path, creating its directory.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
