package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PassMetrics wraps the Prometheus collectors a consolidation pass
// updates.
type PassMetrics struct {
	registry *prometheus.Registry

	hostsOverUtilizedCpu prometheus.Gauge
	hostsOverUtilizedIo  prometheus.Gauge
	hostsUnderUtilized   prometheus.Gauge
	vmsEvictedCpu        prometheus.Counter
	vmsEvictedIo         prometheus.Counter
	vmsPlaced            prometheus.Counter
	vmsStranded          prometheus.Counter
	hostsDrained         prometheus.Counter
	restoreFailures      prometheus.Counter
	passDuration         prometheus.Histogram
}

// NewPassMetrics registers a fresh set of pass collectors under namespace
// (default "novac" when empty).
func NewPassMetrics(namespace string) *PassMetrics {
	if namespace == "" {
		namespace = "novac"
	}
	registry := prometheus.NewRegistry()

	m := &PassMetrics{
		registry: registry,
		hostsOverUtilizedCpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "hosts_over_utilized_cpu", Help: "Hosts classified CPU over-utilized in the last pass.",
		}),
		hostsOverUtilizedIo: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "hosts_over_utilized_io", Help: "Hosts classified IO over-utilized in the last pass.",
		}),
		hostsUnderUtilized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "hosts_under_utilized", Help: "Hosts drained as under-utilized in the last pass.",
		}),
		vmsEvictedCpu: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_evicted_cpu_total", Help: "VMs evicted to relieve CPU overload.",
		}),
		vmsEvictedIo: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_evicted_io_total", Help: "VMs evicted to relieve IO overload.",
		}),
		vmsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_placed_total", Help: "VMs successfully assigned a target host.",
		}),
		vmsStranded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_stranded_total", Help: "VMs with no eligible target host this pass.",
		}),
		hostsDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "hosts_drained_total", Help: "Under-utilized hosts fully drained.",
		}),
		restoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "restore_failures_total", Help: "Fatal restoreAllocation failures.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pass_duration_seconds", Help: "Wall time of one optimize() pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.hostsOverUtilizedCpu, m.hostsOverUtilizedIo, m.hostsUnderUtilized,
		m.vmsEvictedCpu, m.vmsEvictedIo, m.vmsPlaced, m.vmsStranded,
		m.hostsDrained, m.restoreFailures, m.passDuration,
	)
	return m
}

// Handler returns the HTTP handler serving this registry's /metrics.
func (m *PassMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PassMetrics) SetOverUtilized(cpu, io int) {
	m.hostsOverUtilizedCpu.Set(float64(cpu))
	m.hostsOverUtilizedIo.Set(float64(io))
}

func (m *PassMetrics) AddEvicted(cpu, io int) {
	m.vmsEvictedCpu.Add(float64(cpu))
	m.vmsEvictedIo.Add(float64(io))
}

func (m *PassMetrics) AddPlaced(n int)   { m.vmsPlaced.Add(float64(n)) }
func (m *PassMetrics) AddStranded(n int) { m.vmsStranded.Add(float64(n)) }
func (m *PassMetrics) AddDrained(n int)  { m.hostsDrained.Add(float64(n)) }
func (m *PassMetrics) IncRestoreFailure() { m.restoreFailures.Inc() }
func (m *PassMetrics) SetUnderUtilized(n int) { m.hostsUnderUtilized.Set(float64(n)) }
func (m *PassMetrics) ObservePassDuration(seconds float64) { m.passDuration.Observe(seconds) }
