package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rand/devchain/internal/resilience"
)

// breakerCollector reads breaker snapshots at scrape time, so breakers
// created after registration are still exported.
type breakerCollector struct {
	reg *resilience.BreakerRegistry

	state      *prometheus.Desc
	calls      *prometheus.Desc
	failures   *prometheus.Desc
	rejections *prometheus.Desc
}

// WatchBreakers exports the state and counters of every breaker in reg.
func (m *Metrics) WatchBreakers(reg *resilience.BreakerRegistry) error {
	labels := []string{"model"}
	return m.reg.Register(&breakerCollector{
		reg: reg,
		state: prometheus.NewDesc(prometheus.BuildFQName(namespace, "breaker", "state"),
			"Circuit state by model: 0 closed, 1 open, 2 half-open", labels, nil),
		calls: prometheus.NewDesc(prometheus.BuildFQName(namespace, "breaker", "calls_total"),
			"Calls let through by the breaker", labels, nil),
		failures: prometheus.NewDesc(prometheus.BuildFQName(namespace, "breaker", "failures_total"),
			"Backend failures recorded by the breaker", labels, nil),
		rejections: prometheus.NewDesc(prometheus.BuildFQName(namespace, "breaker", "rejections_total"),
			"Calls refused while the circuit was open", labels, nil),
	})
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.calls
	ch <- c.failures
	ch <- c.rejections
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for model, s := range c.reg.Stats() {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(s.State), model)
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Calls), model)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failures), model)
		ch <- prometheus.MustNewConstMetric(c.rejections, prometheus.CounterValue, float64(s.Rejections), model)
	}
}
