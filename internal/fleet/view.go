package fleet

// View exposes read-only utilization calculations over a fleet Provider,
// generalized to the two dimensions this planner tracks.
type View struct {
	provider Provider
}

// NewView wraps a Provider with the utilization helpers the rest of the
// core needs.
func NewView(provider Provider) *View {
	return &View{provider: provider}
}

// Hosts returns every host in the fleet's stable iteration order.
func (v *View) Hosts() []Host {
	return v.provider.Hosts()
}

// SwitchedOffHosts returns hosts with zero utilization on both dimensions.
// A host idle on CPU but still serving I/O is not switched off.
func (v *View) SwitchedOffHosts() []Host {
	var off []Host
	for _, h := range v.Hosts() {
		if v.UtilizationOfCpuMips(h) == 0 && v.UtilizationOfIops(h) == 0 {
			off = append(off, h)
		}
	}
	return off
}

// UtilizationOfCpuMips sums the allocated MIPS of every resident VM, then
// adds an inflation term for VMs migrating in: allocatedMips(vm) * 9, to
// model the extra CPU the live-migration protocol itself consumes.
// Migrating-in VMs are resident (so they're counted once by the base
// loop) and also walked by the inflation loop, so they contribute 10x
// their allocated MIPS in total.
func (v *View) UtilizationOfCpuMips(h Host) float64 {
	var total float64
	for _, vm := range h.VMs() {
		total += h.AllocatedMipsForVM(vm)
	}
	for _, vm := range h.MigratingIn() {
		total += h.AllocatedMipsForVM(vm) * 9
	}
	return total
}

// UtilizationOfIops sums the allocated IOPS of every resident VM. Unlike
// CPU, there is no migration inflation term for I/O.
func (v *View) UtilizationOfIops(h Host) float64 {
	var total float64
	for _, vm := range h.VMs() {
		total += h.AllocatedIopsForVM(vm)
	}
	return total
}

// MaxUtilizationAfterAllocation is the dimensionless ratio of CPU demand to
// capacity the host would carry if vm were placed on it. It may exceed 1;
// callers decide admissibility.
func (v *View) MaxUtilizationAfterAllocation(h Host, vm VM) float64 {
	if h.TotalMips() <= 0 {
		return 0
	}
	return (v.UtilizationOfCpuMips(h) + vm.RequestedMips()) / h.TotalMips()
}
