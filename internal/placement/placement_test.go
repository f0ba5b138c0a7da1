package placement_test

import (
	"testing"

	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/overload"
	"github.com/oriys/nova-consolidator/internal/placement"
	"github.com/oriys/nova-consolidator/internal/power"
	"github.com/oriys/nova-consolidator/internal/simfleet"
)

func newHost(id int64, totalMips float64, model power.Model) *simfleet.Host {
	return simfleet.NewHost(id, totalMips, nil, model)
}

func newDetector(view *fleet.View, cpuThreshold, ioThreshold float64) *overload.Detector {
	cpuPred := overload.StaticThreshold(overload.CpuUtilizationMetric(view), cpuThreshold)
	ioPred := overload.StaticThreshold(overload.IoUtilizationMetric(view), ioThreshold)
	return overload.NewDetector(view, cpuPred, ioPred)
}

func TestSearch_PicksLowestPowerDelta(t *testing.T) {
	cheap := power.Linear{IdleWatts: 100, MaxWatts: 150}
	expensive := power.Linear{IdleWatts: 100, MaxWatts: 400}

	h1 := newHost(1, 1000, expensive)
	h2 := newHost(2, 1000, cheap)
	view := fleet.NewView(simfleet.NewFleet(h1, h2))
	det := newDetector(view, 0.8, 1e9)
	search := placement.NewSearch(view, det)

	vm := simfleet.NewVM(200, 0)
	host, ok := search.FindHostForVm(vm, nil)
	if !ok || host.ID() != 2 {
		t.Fatalf("expected host 2 (cheaper power curve) selected, got ok=%v host=%v", ok, host)
	}
}

func TestSearch_TieBreakEarliestFleetOrder(t *testing.T) {
	model := power.Linear{IdleWatts: 100, MaxWatts: 200}
	h2 := newHost(2, 1000, model)
	h3 := newHost(3, 1000, model)
	view := fleet.NewView(simfleet.NewFleet(h2, h3))
	det := newDetector(view, 0.8, 1e9)
	search := placement.NewSearch(view, det)

	vm := simfleet.NewVM(200, 0)
	host, ok := search.FindHostForVm(vm, nil)
	if !ok || host.ID() != 2 {
		t.Fatalf("expected the earlier host 2 on a power-delta tie, got ok=%v host=%v", ok, host)
	}
}

func TestSearch_SkipsUnsuitableHost(t *testing.T) {
	model := power.Linear{IdleWatts: 100, MaxWatts: 200}
	full := newHost(1, 100, model)
	full.CreateVM(simfleet.NewVM(100, 0))
	roomy := newHost(2, 1000, model)

	view := fleet.NewView(simfleet.NewFleet(full, roomy))
	det := newDetector(view, 0.8, 1e9)
	search := placement.NewSearch(view, det)

	vm := simfleet.NewVM(200, 0)
	host, ok := search.FindHostForVm(vm, nil)
	if !ok || host.ID() != 2 {
		t.Fatalf("expected the roomy host, full host has no capacity: ok=%v host=%v", ok, host)
	}
}

func TestSearch_ExcludedHostSkipped(t *testing.T) {
	model := power.Linear{IdleWatts: 100, MaxWatts: 200}
	h1 := newHost(1, 1000, model)
	view := fleet.NewView(simfleet.NewFleet(h1))
	det := newDetector(view, 0.8, 1e9)
	search := placement.NewSearch(view, det)

	vm := simfleet.NewVM(200, 0)
	_, ok := search.FindHostForVm(vm, []fleet.Host{h1})
	if ok {
		t.Fatal("expected no host found when the only candidate is excluded")
	}
}

func TestSearch_OverloadGuardSkipsAlreadyLoadedHost(t *testing.T) {
	model := power.Linear{IdleWatts: 100, MaxWatts: 200}
	loaded := newHost(1, 1000, model)
	loaded.CreateVM(simfleet.NewVM(700, 100))
	idle := newHost(2, 1000, model)

	view := fleet.NewView(simfleet.NewFleet(loaded, idle))
	// threshold such that adding another 250-mips vm tips host 1 over,
	// but an idle host is never held to this guard.
	det := newDetector(view, 0.9, 1e9)
	search := placement.NewSearch(view, det)

	vm := simfleet.NewVM(250, 0)
	host, ok := search.FindHostForVm(vm, nil)
	if !ok || host.ID() != 2 {
		t.Fatalf("expected the already-loaded host skipped by the overload guard, got ok=%v host=%v", ok, host)
	}
}

func TestSearch_IdleHostNeverHeldToOverloadGuard(t *testing.T) {
	model := power.Linear{IdleWatts: 100, MaxWatts: 200}
	idle := newHost(1, 1000, model)

	view := fleet.NewView(simfleet.NewFleet(idle))
	det := newDetector(view, 0.01, 0.01) // a vm this big would trip the guard if applied
	search := placement.NewSearch(view, det)

	vm := simfleet.NewVM(950, 0)
	host, ok := search.FindHostForVm(vm, nil)
	if !ok || host.ID() != 1 {
		t.Fatalf("expected the entirely-idle host considered regardless of the overload guard, got ok=%v host=%v", ok, host)
	}
}

func TestSearch_NoHostQualifies(t *testing.T) {
	h := newHost(1, 1000, power.Linear{IdleWatts: 100, MaxWatts: 200})
	view := fleet.NewView(simfleet.NewFleet(h))
	det := newDetector(view, 0.8, 1e9)
	search := placement.NewSearch(view, det)

	vm := simfleet.NewVM(5000, 0)
	_, ok := search.FindHostForVm(vm, nil)
	if ok {
		t.Fatal("expected no host to qualify for a vm too big for any host's capacity")
	}
}
