package vmselect

import (
	"math"
	"math/rand"
	"sync"

	"github.com/oriys/nova-consolidator/internal/fleet"
)

// MinMigrationTime evicts the eligible VM with the smallest current MIPS
// allocation first, on the premise that a smaller VM has a shorter
// migration transfer and so relieves the host fastest.
type MinMigrationTime struct{}

// SelectVictim implements Policy.
func (MinMigrationTime) SelectVictim(host fleet.Host) (fleet.VM, bool) {
	candidates := eligible(host)
	if len(candidates) == 0 {
		return nil, false
	}
	best := candidates[0]
	bestMips := host.AllocatedMipsForVM(best)
	for _, vm := range candidates[1:] {
		if m := host.AllocatedMipsForVM(vm); m < bestMips {
			best, bestMips = vm, m
		}
	}
	return best, true
}

// Random evicts a uniformly random eligible VM.
type Random struct {
	Rand *rand.Rand // nil uses the package-level source
}

// SelectVictim implements Policy.
func (r Random) SelectVictim(host fleet.Host) (fleet.VM, bool) {
	candidates := eligible(host)
	if len(candidates) == 0 {
		return nil, false
	}
	if r.Rand != nil {
		return candidates[r.Rand.Intn(len(candidates))], true
	}
	return candidates[rand.Intn(len(candidates))], true
}

// MaxCorrelation evicts the eligible VM whose recent MIPS-allocation trace
// correlates most strongly with the host's recent aggregate CPU trace —
// the VM judged the biggest contributor to the host's load peaks. It
// maintains its own short rolling window per host/VM (the migration core
// does not otherwise track per-VM time series); with fewer than two
// samples for a VM it falls back to the largest current allocation so the
// very first invocation is still deterministic.
type MaxCorrelation struct {
	view   *fleet.View
	window int

	mu         sync.Mutex
	hostSeries map[int64][]float64
	vmSeries   map[string][]float64
}

// NewMaxCorrelation builds a MaxCorrelation selector sampling the given
// window length of history.
func NewMaxCorrelation(view *fleet.View, window int) *MaxCorrelation {
	if window < 2 {
		window = 2
	}
	return &MaxCorrelation{
		view:       view,
		window:     window,
		hostSeries: make(map[int64][]float64),
		vmSeries:   make(map[string][]float64),
	}
}

// SelectVictim implements Policy.
func (c *MaxCorrelation) SelectVictim(host fleet.Host) (fleet.VM, bool) {
	candidates := eligible(host)
	if len(candidates) == 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hostTotal := c.view.UtilizationOfCpuMips(host)
	hs := append(c.hostSeries[host.ID()], hostTotal)
	if len(hs) > c.window {
		hs = hs[len(hs)-c.window:]
	}
	c.hostSeries[host.ID()] = hs

	var best fleet.VM
	bestScore := math.Inf(-1)
	for _, vm := range candidates {
		alloc := host.AllocatedMipsForVM(vm)
		vs := append(c.vmSeries[vm.UID()], alloc)
		if len(vs) > c.window {
			vs = vs[len(vs)-c.window:]
		}
		c.vmSeries[vm.UID()] = vs

		score := alloc // fallback when there isn't enough history yet
		if n := min(len(vs), len(hs)); n >= 2 {
			score = pearson(vs[len(vs)-n:], hs[len(hs)-n:])
		}
		if score > bestScore {
			best, bestScore = vm, score
		}
	}
	return best, best != nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// pearson computes the Pearson correlation coefficient of two equal-length
// series, returning 0 for degenerate (zero-variance) input.
func pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 {
		return 0
	}
	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// IopsAware is the I/O-dimension selector (spec.md §4.3): it combines both
// utilizations into a single score, weighted by wMips/wIops, and evicts
// the VM that contributes most to the host's combined load.
type IopsAware struct {
	view   *fleet.View
	wMips  float64
	wIops  float64
}

// NewIopsAware builds an IopsAware selector with the given dimension
// weights (spec.md I3: wMips + wIops == 1).
func NewIopsAware(view *fleet.View, wMips, wIops float64) *IopsAware {
	return &IopsAware{view: view, wMips: wMips, wIops: wIops}
}

// SelectVictim implements Policy.
func (s *IopsAware) SelectVictim(host fleet.Host) (fleet.VM, bool) {
	candidates := eligible(host)
	if len(candidates) == 0 {
		return nil, false
	}

	totalMips := host.TotalMips()
	totalIops := s.view.UtilizationOfIops(host)

	var best fleet.VM
	bestScore := math.Inf(-1)
	for _, vm := range candidates {
		var cpuFrac, ioFrac float64
		if totalMips > 0 {
			cpuFrac = host.AllocatedMipsForVM(vm) / totalMips
		}
		if totalIops > 0 {
			ioFrac = host.AllocatedIopsForVM(vm) / totalIops
		}
		score := s.wMips*cpuFrac + s.wIops*ioFrac
		if score > bestScore {
			best, bestScore = vm, score
		}
	}
	return best, true
}
