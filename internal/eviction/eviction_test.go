package eviction_test

import (
	"testing"

	"github.com/oriys/nova-consolidator/internal/eviction"
	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/overload"
	"github.com/oriys/nova-consolidator/internal/power"
	"github.com/oriys/nova-consolidator/internal/simfleet"
	"github.com/oriys/nova-consolidator/internal/vmselect"
)

func newHost(id int64, totalMips float64) *simfleet.Host {
	return simfleet.NewHost(id, totalMips, nil, power.Linear{IdleWatts: 100, MaxWatts: 200})
}

func newDetector(view *fleet.View, cpuThreshold, ioThreshold float64) *overload.Detector {
	cpuPred := overload.StaticThreshold(overload.CpuUtilizationMetric(view), cpuThreshold)
	ioPred := overload.StaticThreshold(overload.IoUtilizationMetric(view), ioThreshold)
	return overload.NewDetector(view, cpuPred, ioPred)
}

func TestPlanner_SingleDimension_EvictsUntilRelieved(t *testing.T) {
	h := newHost(1, 1000)
	a := simfleet.NewVM(600, 0)
	b := simfleet.NewVM(300, 0)
	h.CreateVM(a)
	h.CreateVM(b)

	view := fleet.NewView(simfleet.NewFleet(h))
	det := newDetector(view, 0.8, 1e9)
	planner := eviction.NewPlanner(det, vmselect.MinMigrationTime{}, vmselect.MinMigrationTime{}, 0.7, 0.3)

	plan := planner.Plan([]fleet.Host{h}, nil)

	if len(plan.CpuVictims) != 1 || plan.CpuVictims[0].VM.UID() != b.UID() {
		t.Fatalf("expected smaller vm b evicted once CPU relieved, got %+v", plan.CpuVictims)
	}
	if len(plan.IoVictims) != 0 {
		t.Fatalf("expected no IO victims, got %+v", plan.IoVictims)
	}
	if det.IsHostOverUtilizedCpu(h) {
		t.Fatal("expected host relieved of CPU overload after eviction")
	}
}

func TestPlanner_CommonHost_CpuFirstWhenCpuWeighted(t *testing.T) {
	h := newHost(1, 1000)
	vm := simfleet.NewVM(900, 900)
	h.CreateVM(vm)

	view := fleet.NewView(simfleet.NewFleet(h))
	det := newDetector(view, 0.5, 500)
	planner := eviction.NewPlanner(det, vmselect.MinMigrationTime{}, vmselect.MinMigrationTime{}, 0.7, 0.3)

	plan := planner.Plan([]fleet.Host{h}, []fleet.Host{h})

	if len(plan.CpuVictims) != 1 {
		t.Fatalf("expected one CPU victim, got %+v", plan.CpuVictims)
	}
	// evicting the only VM relieves both dimensions at once, so the
	// residual IO pass finds nothing left to do.
	if len(plan.IoVictims) != 0 {
		t.Fatalf("expected no residual IO victims once the only vm is gone, got %+v", plan.IoVictims)
	}
}

func TestPlanner_CommonHost_IoFirstWhenIoWeighted(t *testing.T) {
	h := newHost(1, 1000)
	cpuOnly := simfleet.NewVM(900, 0)
	ioOnly := simfleet.NewVM(0, 900)
	h.CreateVM(cpuOnly)
	h.CreateVM(ioOnly)

	view := fleet.NewView(simfleet.NewFleet(h))
	det := newDetector(view, 0.5, 500)
	planner := eviction.NewPlanner(det, vmselect.MinMigrationTime{}, vmselect.NewIopsAware(view, 0.3, 0.7), 0.3, 0.7)

	plan := planner.Plan([]fleet.Host{h}, []fleet.Host{h})

	if len(plan.IoVictims) != 1 || plan.IoVictims[0].VM.UID() != ioOnly.UID() {
		t.Fatalf("expected the IO-heavy vm evicted first, got %+v", plan.IoVictims)
	}
	if len(plan.CpuVictims) != 1 || plan.CpuVictims[0].VM.UID() != cpuOnly.UID() {
		t.Fatalf("expected the CPU-heavy vm evicted in the residual CPU pass, got %+v", plan.CpuVictims)
	}
}

func TestPlanner_StopsWhenSelectorExhausted(t *testing.T) {
	h := newHost(1, 1000)
	vm := simfleet.NewVM(950, 0)
	vm.SetInMigration(true) // the only resident vm is already migrating: ineligible
	h.CreateVM(vm)

	view := fleet.NewView(simfleet.NewFleet(h))
	det := newDetector(view, 0.5, 1e9)
	planner := eviction.NewPlanner(det, vmselect.MinMigrationTime{}, vmselect.MinMigrationTime{}, 0.7, 0.3)

	plan := planner.Plan([]fleet.Host{h}, nil)
	if len(plan.CpuVictims) != 0 {
		t.Fatalf("expected no victims when the selector has nothing eligible, got %+v", plan.CpuVictims)
	}
	if !det.IsHostOverUtilizedCpu(h) {
		t.Fatal("expected host to remain over-utilized: no eligible VM could be evicted")
	}
}
