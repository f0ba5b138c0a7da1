// Package placement implements a power-minimizing host search: finding
// the best candidate host for a VM by lowest power increment, honoring
// the overload-after-allocation guard.
package placement

import (
	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/overload"
)

// Search finds target hosts for VMs.
type Search struct {
	view     *fleet.View
	detector *overload.Detector
}

// NewSearch builds a Search over view, using detector to evaluate the
// overload-after-allocation guard.
func NewSearch(view *fleet.View, detector *overload.Detector) *Search {
	return &Search{view: view, detector: detector}
}

// FindHostForVm scans the fleet in order, skipping hosts in excluded, and
// returns the host with the lowest power-draw delta that is suitable and
// not over-utilized after hypothetical allocation. Ties resolve to the
// earliest host in fleet iteration order.
func (s *Search) FindHostForVm(vm fleet.VM, excluded []fleet.Host) (fleet.Host, bool) {
	skip := make(map[int64]struct{}, len(excluded))
	for _, h := range excluded {
		skip[h.ID()] = struct{}{}
	}

	var best fleet.Host
	bestDelta := 0.0
	found := false

	for _, h := range s.view.Hosts() {
		if _, ok := skip[h.ID()]; ok {
			continue
		}
		if !h.IsSuitableForVM(vm) {
			continue
		}
		if s.view.UtilizationOfCpuMips(h) > 0 && s.view.UtilizationOfIops(h) > 0 {
			if s.isOverUtilizedAfterAllocation(h, vm) {
				continue
			}
		}

		powerAfter := h.Power(s.view.MaxUtilizationAfterAllocation(h, vm))
		if powerAfter < 0 {
			continue // power model failure: skip, keep searching
		}

		delta := powerAfter - h.CurrentPower()
		if !found || delta < bestDelta {
			best, bestDelta, found = h, delta, true
		}
	}

	return best, found
}

// isOverUtilizedAfterAllocation hypothetically creates vm on h, evaluates
// both overload predicates, then destroys vm again. This is a transient
// mutation undone immediately; it never leaves h changed.
func (s *Search) isOverUtilizedAfterAllocation(h fleet.Host, vm fleet.VM) bool {
	if !h.CreateVM(vm) {
		return false
	}
	defer h.DestroyVM(vm)
	return s.detector.IsHostOverUtilizedCpu(h) || s.detector.IsHostOverUtilizedIo(h)
}
