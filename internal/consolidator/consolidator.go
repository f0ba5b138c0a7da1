// Package consolidator implements the top-level consolidation pass:
// detect overload, save a snapshot of the live allocation, evict
// stressed VMs, place them and the under-utilized hosts' VMs
// elsewhere, then restore the saved allocation so the live fleet ends
// the pass unchanged and the placements are returned as a plan.
package consolidator

import (
	"context"
	"sort"

	"github.com/oriys/nova-consolidator/internal/eviction"
	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/history"
	"github.com/oriys/nova-consolidator/internal/overload"
	"github.com/oriys/nova-consolidator/internal/placement"
	"github.com/oriys/nova-consolidator/internal/telemetry"
	"github.com/oriys/nova-consolidator/internal/vmselect"
)

// Consolidator runs optimize() passes over a fleet.Provider.
type Consolidator struct {
	view     *fleet.View
	detector *overload.Detector
	planner  *eviction.Planner
	search   *placement.Search
	recorder *history.Recorder
	metrics  *telemetry.PassMetrics

	wMips float64
	wIops float64
}

// Config holds the construction arguments New validates.
type Config struct {
	Provider    fleet.Provider
	CpuOverload overload.Predicate
	IoOverload  overload.Predicate
	CpuSelector vmselect.Policy
	IoSelector  vmselect.Policy
	Recorder    *history.Recorder
	Metrics     *telemetry.PassMetrics
	// WMips and WIops weight the CPU vs. IO dimension when both a
	// host's overload and its under-utilized drain order must pick one
	// dimension first. Must sum to 1.
	WMips float64
	WIops float64
}

// New builds a Consolidator, returning a *FatalError of kind
// ConfigInvalid if WMips+WIops != 1.
func New(cfg Config) (*Consolidator, error) {
	const epsilon = 1e-9
	if d := cfg.WMips + cfg.WIops - 1; d > epsilon || d < -epsilon {
		return nil, newConfigInvalid(cfg.WMips, cfg.WIops)
	}

	view := fleet.NewView(cfg.Provider)
	detector := overload.NewDetector(view, cfg.CpuOverload, cfg.IoOverload)

	return &Consolidator{
		view:     view,
		detector: detector,
		planner:  eviction.NewPlanner(detector, cfg.CpuSelector, cfg.IoSelector, cfg.WMips, cfg.WIops),
		search:   placement.NewSearch(view, detector),
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		wMips:    cfg.WMips,
		wIops:    cfg.WIops,
	}, nil
}

// snapshot is the pre-pass allocation state, captured so restoreAllocation
// can put the fleet back at the end of every pass.
type snapshot struct {
	vmsByHost map[int64][]fleet.VM
}

// saveAllocation records, for every host, the VMs resident on it before
// any eviction runs, so the end of the pass can roll the fleet back to
// this exact state.
func (c *Consolidator) saveAllocation() snapshot {
	s := snapshot{vmsByHost: make(map[int64][]fleet.VM)}
	for _, h := range c.view.Hosts() {
		s.vmsByHost[h.ID()] = append([]fleet.VM(nil), h.VMs()...)
	}
	return s
}

// restoreAllocation destroys every VM currently on each host and
// recreates the saved set, then finalizes any VM migrating in. A failed
// recreation is a fatal RestoreFailed error — the saved allocation was
// known-good immediately before this pass, so CreateVM failing now means
// the host's capacity model itself is broken.
func (c *Consolidator) restoreAllocation(s snapshot) error {
	for _, h := range c.view.Hosts() {
		h.DestroyAllVMs()
	}
	for _, h := range c.view.Hosts() {
		for _, vm := range s.vmsByHost[h.ID()] {
			if !h.CreateVM(vm) {
				if c.metrics != nil {
					c.metrics.IncRestoreFailure()
				}
				return newRestoreFailed(h.ID(), vm.UID())
			}
		}
	}
	for _, h := range c.view.Hosts() {
		h.ReallocateMigratingIn()
	}
	return nil
}

// Optimize runs one consolidation pass: detect overload, evict and place
// stressed VMs, drain under-utilized hosts, then restore the live fleet
// to its pre-pass allocation. It returns the migrations the caller should
// apply (a VM that found no target is absent from the map), or a
// *FatalError if the pass could not complete safely.
func (c *Consolidator) Optimize(ctx context.Context) (fleet.MigrationMap, error) {
	ctx, endTotal := telemetry.StepTimer(ctx, telemetry.SpanTotal)
	defer func() {
		seconds := endTotal()
		if c.recorder != nil {
			c.recorder.AppendTiming(history.TimerTotal, seconds)
		}
		if c.metrics != nil {
			c.metrics.ObservePassDuration(seconds)
		}
	}()

	_, endCpu := telemetry.StepTimer(ctx, telemetry.SpanHostSelectionCpu)
	cpuOverloaded := c.detector.GetOverUtilizedHostsCpu()
	c.recordTiming(history.TimerHostSelectionCpu, endCpu())

	_, endIo := telemetry.StepTimer(ctx, telemetry.SpanHostSelectionIo)
	ioOverloaded := c.detector.GetOverUtilizedHostsIo()
	c.recordTiming(history.TimerHostSelectionIo, endIo())

	if c.metrics != nil {
		c.metrics.SetOverUtilized(len(cpuOverloaded), len(ioOverloaded))
	}

	c.recordHostHistory()

	saved := c.saveAllocation()

	_, endVmSel := telemetry.StepTimer(ctx, telemetry.SpanVmSelection)
	plan := c.planner.Plan(cpuOverloaded, ioOverloaded)
	c.recordTiming(history.TimerVmSelection, endVmSel())

	if c.metrics != nil {
		c.metrics.AddEvicted(len(plan.CpuVictims), len(plan.IoVictims))
	}

	overloadUnion := dedupeHosts(append(append([]fleet.Host{}, cpuOverloaded...), ioOverloaded...))
	// I2(b): a placement must not target a host in either overload set at
	// entry, nor a switched-off one — §4.6's excludeNewPlacement and
	// excludeUnderSearch both start from overloadUnion ∪ switchedOffHosts.
	excluded := dedupeHosts(append(append([]fleet.Host{}, overloadUnion...), c.view.SwitchedOffHosts()...))

	_, endRealloc := telemetry.StepTimer(ctx, telemetry.SpanVmReallocation)
	migrations, stranded := c.placeOverloadVictims(plan, excluded)

	drainMigrations, drainedHosts := c.drainUnderUtilizedHosts(excluded)
	migrations = append(migrations, drainMigrations...)

	c.recordTiming(history.TimerVmReallocation, endRealloc())

	if c.metrics != nil {
		c.metrics.AddPlaced(len(migrations))
		c.metrics.AddStranded(len(stranded))
		c.metrics.AddDrained(drainedHosts)
		c.metrics.SetUnderUtilized(drainedHosts)
	}

	// restoreAllocation runs unconditionally: optimize() never leaves the
	// live fleet mutated (I1). Every vmCreate/vmDestroy performed while
	// evicting and placing above was against the working copy; the
	// returned map is a plan for the simulator to apply, not a commit.
	if err := c.restoreAllocation(saved); err != nil {
		return nil, err
	}

	return migrations, nil
}

func (c *Consolidator) recordTiming(name string, seconds float64) {
	if c.recorder != nil {
		c.recorder.AppendTiming(name, seconds)
	}
}

// recordHostHistory appends one (time, utilizationCpu, metric) trace entry
// per host for this pass (§4.7), read while the live fleet still reflects
// the state at entry — before eviction/placement start mutating the
// working copy. The CPU utilization fraction doubles as the recorded
// metric: it is the one reading every overload predicate family (static,
// moving average, IQR) can be built from, regardless of which dimension a
// deployment configures them against.
func (c *Consolidator) recordHostHistory() {
	if c.recorder == nil {
		return
	}
	for _, h := range c.view.Hosts() {
		frac := c.view.UtilizationOfCpuMips(h) / nonZero(h.TotalMips())
		c.recorder.AddHistoryEntryIo(h.ID(), frac, frac)
	}
}

// placeOverloadVictims sorts each victim list by its own dimension's
// allocation descending, then places CPU victims before IO victims (or
// the reverse, whichever dimension carries the higher weight).
func (c *Consolidator) placeOverloadVictims(plan eviction.Plan, excluded []fleet.Host) (fleet.MigrationMap, []fleet.VM) {
	cpuVictims := append([]eviction.Victim{}, plan.CpuVictims...)
	ioVictims := append([]eviction.Victim{}, plan.IoVictims...)
	sort.SliceStable(cpuVictims, func(i, j int) bool { return cpuVictims[i].Alloc > cpuVictims[j].Alloc })
	sort.SliceStable(ioVictims, func(i, j int) bool { return ioVictims[i].Alloc > ioVictims[j].Alloc })

	first, second := cpuVictims, ioVictims
	if c.wIops > c.wMips {
		first, second = ioVictims, cpuVictims
	}

	var migrations fleet.MigrationMap
	var stranded []fleet.VM
	place := func(victims []eviction.Victim) {
		for _, v := range victims {
			host, ok := c.search.FindHostForVm(v.VM, excluded)
			if !ok {
				stranded = append(stranded, v.VM)
				continue
			}
			host.CreateVM(v.VM)
			migrations = append(migrations, fleet.Placement{VM: v.VM, Host: host})
		}
	}
	place(first)
	place(second)
	return migrations, stranded
}

// drainUnderUtilizedHosts repeatedly picks the least-utilized
// under-utilized host and tries to migrate every one of its VMs that is
// not already in migration elsewhere. A host only drains if every such VM
// finds a target; if
// any VM can't be placed, that host's hypothetical moves are rolled back
// and it is left alone.
func (c *Consolidator) drainUnderUtilizedHosts(excluded []fleet.Host) (fleet.MigrationMap, int) {
	// excludeUnderSearch bars overloaded/switched-off hosts, every host
	// already chosen as a drain source, and every host already chosen as
	// a placement target — once a host has taken on drained VMs it is no
	// longer a candidate to be drained itself this pass.
	excludeUnderSearch := append([]fleet.Host{}, excluded...)
	// excludeNewPlacement bars overloaded/switched-off hosts and drain
	// sources (so a victim never lands back on the host it just left),
	// but deliberately does NOT grow with placement targets: a host that
	// already absorbed VMs from one drained host may still have room for
	// VMs from the next one (§4.6).
	excludeNewPlacement := append([]fleet.Host{}, excluded...)
	var migrations fleet.MigrationMap
	drained := 0

	for {
		host, ok := c.getUnderUtilizedHost(excludeUnderSearch)
		if !ok {
			break
		}
		excludeUnderSearch = append(excludeUnderSearch, host)
		excludeNewPlacement = append(excludeNewPlacement, host)

		var vms []fleet.VM
		for _, vm := range host.VMs() {
			if !vm.InMigration() {
				vms = append(vms, vm)
			}
		}
		if len(vms) == 0 {
			continue
		}
		sort.SliceStable(vms, func(i, j int) bool {
			if c.wMips > c.wIops {
				return host.AllocatedMipsForVM(vms[i]) > host.AllocatedMipsForVM(vms[j])
			}
			return host.AllocatedIopsForVM(vms[i]) > host.AllocatedIopsForVM(vms[j])
		})

		var local fleet.MigrationMap
		var targets []fleet.Host
		ok = true
		for _, vm := range vms {
			target, found := c.search.FindHostForVm(vm, excludeNewPlacement)
			if !found {
				ok = false
				break
			}
			target.CreateVM(vm)
			local = append(local, fleet.Placement{VM: vm, Host: target})
			targets = append(targets, target)
		}

		if !ok {
			for _, p := range local {
				p.Host.DestroyVM(p.VM)
			}
			continue
		}

		for _, p := range local {
			host.DestroyVM(p.VM)
		}
		migrations = append(migrations, local...)
		excludeUnderSearch = append(excludeUnderSearch, targets...)
		drained++
	}

	return migrations, drained
}

// getUnderUtilizedHost returns the least-utilized drain-eligible host not
// in excluded and not switched off. Hosts are compared on one dimension
// only: the CPU utilization fraction when wMips > wIops, raw IO
// utilization otherwise; a host at zero on that dimension is skipped. The
// two weights are compared against each other, not a value against itself.
func (c *Consolidator) getUnderUtilizedHost(excluded []fleet.Host) (fleet.Host, bool) {
	skip := make(map[int64]struct{}, len(excluded))
	for _, h := range excluded {
		skip[h.ID()] = struct{}{}
	}

	var best fleet.Host
	bestScore := 0.0
	found := false

	for _, h := range c.view.Hosts() {
		if _, ok := skip[h.ID()]; ok {
			continue
		}
		cpuUtil := c.view.UtilizationOfCpuMips(h)
		ioUtil := c.view.UtilizationOfIops(h)
		if cpuUtil == 0 && ioUtil == 0 {
			continue // already switched off, nothing to drain
		}
		if !c.eligibleForDrain(h) {
			continue
		}

		var score float64
		if c.wMips > c.wIops {
			score = cpuUtil / nonZero(h.TotalMips())
		} else {
			score = ioUtil
		}
		if score <= 0 {
			// zero on the weight-selected dimension: a switch-off
			// candidate, not an under-utilized one (§4.6).
			continue
		}

		if !found || score < bestScore {
			best, bestScore, found = h, score, true
		}
	}

	return best, found
}

// eligibleForDrain is the negation of the spec's
// areAllVmsMigratingOutOrAnyVmMigratingIn: a host is NOT drain-eligible if
// it has no VMs, every VM is migrating out, or any VM is migrating in
// (its utilization figure is about to change underneath the search).
func (c *Consolidator) eligibleForDrain(host fleet.Host) bool {
	if len(host.MigratingIn()) > 0 {
		return false
	}
	vms := host.VMs()
	if len(vms) == 0 {
		return false
	}
	for _, vm := range vms {
		if !vm.InMigration() {
			return true
		}
	}
	return false
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func dedupeHosts(hosts []fleet.Host) []fleet.Host {
	seen := make(map[int64]struct{}, len(hosts))
	var out []fleet.Host
	for _, h := range hosts {
		if _, ok := seen[h.ID()]; ok {
			continue
		}
		seen[h.ID()] = struct{}{}
		out = append(out, h)
	}
	return out
}
