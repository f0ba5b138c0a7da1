// Package eviction implements the eviction planner: given the CPU and I/O
// over-utilized host sets, it simulates vmDestroy on the live host
// objects until each host leaves overload on its stressed dimension(s),
// returning the two victim lists.
package eviction

import (
	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/overload"
	"github.com/oriys/nova-consolidator/internal/vmselect"
)

// Dimension identifies which resource a selection or overload check
// applies to.
type Dimension int

const (
	CPU Dimension = iota
	IO
)

// Victim pairs an evicted VM with the resource amount it held on its
// origin host at the moment of eviction. DestroyVM wipes that allocation
// from the host, so it must be captured before destroying; Consolidator
// uses it to sort each victim list by its own dimension (spec.md §4.6).
type Victim struct {
	VM    fleet.VM
	Alloc float64
}

// Plan is the named pair of eviction results, in place of a
// position-indexed two-element list.
type Plan struct {
	CpuVictims []Victim
	IoVictims  []Victim
}

// Planner evicts VMs from over-utilized hosts.
type Planner struct {
	detector    *overload.Detector
	cpuSelector vmselect.Policy
	ioSelector  vmselect.Policy
	wMips       float64
	wIops       float64
}

// NewPlanner builds a Planner. wMips/wIops decide which dimension is
// relieved first on hosts over-utilized on both.
func NewPlanner(detector *overload.Detector, cpuSelector, ioSelector vmselect.Policy, wMips, wIops float64) *Planner {
	return &Planner{
		detector:    detector,
		cpuSelector: cpuSelector,
		ioSelector:  ioSelector,
		wMips:       wMips,
		wIops:       wIops,
	}
}

// Plan produces the eviction plan for the given CPU- and I/O-over-utilized
// host lists, mutating the live hosts via vmDestroy.
func (p *Planner) Plan(cpuList, ioList []fleet.Host) Plan {
	common := overload.FindCommonOverUtilizedHosts(cpuList, ioList)
	cpuOnly := overload.Exclude(cpuList, common)
	ioOnly := overload.Exclude(ioList, common)

	var result Plan

	if len(common) > 0 {
		if p.wMips > p.wIops {
			result.CpuVictims = append(result.CpuVictims, p.evictUntilRelieved(common, CPU)...)
			stillIo := p.filterOverUtilizedIo(common)
			result.IoVictims = append(result.IoVictims, p.evictUntilRelieved(stillIo, IO)...)
		} else {
			result.IoVictims = append(result.IoVictims, p.evictUntilRelieved(common, IO)...)
			stillCpu := p.filterOverUtilizedCpu(common)
			result.CpuVictims = append(result.CpuVictims, p.evictUntilRelieved(stillCpu, CPU)...)
		}
	}

	result.CpuVictims = append(result.CpuVictims, p.evictUntilRelieved(cpuOnly, CPU)...)
	result.IoVictims = append(result.IoVictims, p.evictUntilRelieved(ioOnly, IO)...)

	return result
}

func (p *Planner) filterOverUtilizedIo(hosts []fleet.Host) []fleet.Host {
	var out []fleet.Host
	for _, h := range hosts {
		if p.detector.IsHostOverUtilizedIo(h) {
			out = append(out, h)
		}
	}
	return out
}

func (p *Planner) filterOverUtilizedCpu(hosts []fleet.Host) []fleet.Host {
	var out []fleet.Host
	for _, h := range hosts {
		if p.detector.IsHostOverUtilizedCpu(h) {
			out = append(out, h)
		}
	}
	return out
}

// evictUntilRelieved repeatedly asks the dimension's selector for a
// victim on each host, destroying it, until the host leaves overload on
// that dimension or the selector returns none.
func (p *Planner) evictUntilRelieved(hosts []fleet.Host, dim Dimension) []Victim {
	selector := p.cpuSelector
	overUtilized := p.detector.IsHostOverUtilizedCpu
	alloc := func(h fleet.Host, vm fleet.VM) float64 { return h.AllocatedMipsForVM(vm) }
	if dim == IO {
		selector = p.ioSelector
		overUtilized = p.detector.IsHostOverUtilizedIo
		alloc = func(h fleet.Host, vm fleet.VM) float64 { return h.AllocatedIopsForVM(vm) }
	}

	var victims []Victim
	for _, h := range hosts {
		for {
			vm, ok := selector.SelectVictim(h)
			if !ok {
				break
			}
			victims = append(victims, Victim{VM: vm, Alloc: alloc(h, vm)})
			h.DestroyVM(vm)
			if !overUtilized(h) {
				break
			}
		}
	}
	return victims
}
