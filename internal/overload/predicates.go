package overload

import (
	"sort"

	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/history"
)

// Metric extracts a single observable value from a host, e.g. its current
// CPU or I/O utilization. Predicates are built on top of a Metric so the
// same predicate family serves either dimension.
type Metric func(h fleet.Host) float64

// CpuUtilizationMetric reads the host's current CPU utilization fraction.
func CpuUtilizationMetric(view *fleet.View) Metric {
	return func(h fleet.Host) float64 {
		if h.TotalMips() <= 0 {
			return 0
		}
		return view.UtilizationOfCpuMips(h) / h.TotalMips()
	}
}

// IoUtilizationMetric reads the host's current raw I/O utilization. There
// is no I/O capacity figure to normalize it against.
func IoUtilizationMetric(view *fleet.View) Metric {
	return func(h fleet.Host) float64 {
		return view.UtilizationOfIops(h)
	}
}

// StaticThreshold flags a host over-utilized when metric(h) exceeds a
// fixed bound — the simplest predicate family.
func StaticThreshold(metric Metric, threshold float64) Predicate {
	return func(h fleet.Host) bool {
		return metric(h) > threshold
	}
}

// MovingAverage flags a host over-utilized when its current metric value
// exceeds factor times the mean of its last window recorded metric
// samples. With fewer than two samples of history it never trips, so a
// freshly observed host needs at least one prior pass before this
// predicate can fire.
func MovingAverage(rec *history.Recorder, metric Metric, window int, factor float64) Predicate {
	return func(h fleet.Host) bool {
		samples := rec.RecentMetrics(h.ID(), window)
		if len(samples) < 2 {
			return false
		}
		mean := average(samples)
		if mean <= 0 {
			return false
		}
		return metric(h) > factor*mean
	}
}

// IQR flags a host over-utilized when its current metric value is an
// upper outlier relative to its recent history: above Q3 + k*(Q3-Q1).
// With fewer than four samples of history it never trips.
func IQR(rec *history.Recorder, metric Metric, window int, k float64) Predicate {
	return func(h fleet.Host) bool {
		samples := rec.RecentMetrics(h.ID(), window)
		if len(samples) < 4 {
			return false
		}
		q1, q3 := quartiles(samples)
		return metric(h) > q3+k*(q3-q1)
	}
}

func average(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// quartiles computes Q1/Q3 via linear interpolation over the sorted
// samples at index p*(n-1), the common "inclusive" percentile method.
func quartiles(samples []float64) (q1, q3 float64) {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return percentile(sorted, 0.25), percentile(sorted, 0.75)
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
