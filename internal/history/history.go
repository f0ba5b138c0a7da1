// Package history records per-host utilization traces and per-pass timing
// traces for a consolidation run. It owns no fleet state — it is an
// append-only ledger the Consolidator writes to and callers read from.
package history

import "sync"

// Clock supplies the simulation clock value at which a trace entry is
// recorded. Per-host trace entries are stamped with this value, never with
// wall time; only the per-pass step durations are wall-clock measurements.
type Clock func() float64

// Traces holds the three parallel per-host sequences (I4: they always have
// equal length).
type Traces struct {
	Time        []float64
	Utilization []float64
	Metric      []float64
}

// Recorder accumulates per-host utilization traces and named per-pass
// timing traces (host_selection_cpu, etc).
type Recorder struct {
	mu     sync.Mutex
	clock  Clock
	byHost map[int64]*Traces
	timing map[string][]float64
}

// NewRecorder creates a Recorder driven by clock.
func NewRecorder(clock Clock) *Recorder {
	return &Recorder{
		clock:  clock,
		byHost: make(map[int64]*Traces),
		timing: make(map[string][]float64),
	}
}

// AddHistoryEntryIo appends a (time, utilizationCpu, metric) triple for
// hostID at the current simulation clock, unless an entry already exists
// at that clock (per-clock idempotent).
func (r *Recorder) AddHistoryEntryIo(hostID int64, utilizationCpu, metric float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.clock()
	tr := r.byHost[hostID]
	if tr == nil {
		tr = &Traces{}
		r.byHost[hostID] = tr
	}
	if n := len(tr.Time); n > 0 && tr.Time[n-1] == t {
		return
	}
	tr.Time = append(tr.Time, t)
	tr.Utilization = append(tr.Utilization, utilizationCpu)
	tr.Metric = append(tr.Metric, metric)
}

// HostTraces returns a copy of the traces recorded for hostID, or the zero
// value if none exist.
func (r *Recorder) HostTraces(hostID int64) Traces {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr := r.byHost[hostID]
	if tr == nil {
		return Traces{}
	}
	return Traces{
		Time:        append([]float64(nil), tr.Time...),
		Utilization: append([]float64(nil), tr.Utilization...),
		Metric:      append([]float64(nil), tr.Metric...),
	}
}

// RecentMetrics returns up to the last n metric values recorded for
// hostID, oldest first. Overload predicates that read history (§4.2) use
// this for moving-average and IQR style detection.
func (r *Recorder) RecentMetrics(hostID int64, n int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr := r.byHost[hostID]
	if tr == nil || n <= 0 {
		return nil
	}
	m := tr.Metric
	if len(m) > n {
		m = m[len(m)-n:]
	}
	return append([]float64(nil), m...)
}

// Named per-pass timing sequences, e.g. "host_selection_cpu",
// "host_selection_io", "vm_selection", "vm_reallocation", "total".
const (
	TimerHostSelectionCpu = "host_selection_cpu"
	TimerHostSelectionIo  = "host_selection_io"
	TimerVmSelection      = "vm_selection"
	TimerVmReallocation   = "vm_reallocation"
	TimerTotal            = "total"
)

// AppendTiming appends durationSeconds to the named per-pass sequence.
func (r *Recorder) AppendTiming(name string, durationSeconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timing[name] = append(r.timing[name], durationSeconds)
}

// Timing returns a copy of the named per-pass timing sequence.
func (r *Recorder) Timing(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.timing[name]...)
}
