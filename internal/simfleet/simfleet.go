// Package simfleet is a concrete, in-memory fleet.Host/fleet.VM
// implementation for running and testing the consolidator without a real
// hypervisor: a minimal stand-in for the discrete-event simulator that
// would otherwise own host and VM state.
package simfleet

import (
	"sync"

	"github.com/google/uuid"

	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/power"
)

// VM is a simulated virtual machine with a fixed MIPS/IOPS request and a
// label set used for host compatibility checks.
type VM struct {
	uid             string
	requestedMips   float64
	requestedIops   float64
	requiredLabels  map[string]string

	mu          sync.Mutex
	inMigration bool
}

// NewVM creates a VM with a freshly generated uid.
func NewVM(requestedMips, requestedIops float64) *VM {
	return &VM{uid: uuid.NewString(), requestedMips: requestedMips, requestedIops: requestedIops}
}

// WithRequiredLabels sets the labels a candidate host must carry for
// IsSuitableForVM to consider it, returning the same VM for chaining.
func (v *VM) WithRequiredLabels(labels map[string]string) *VM {
	v.requiredLabels = labels
	return v
}

func (v *VM) UID() string               { return v.uid }
func (v *VM) RequestedMips() float64    { return v.requestedMips }
func (v *VM) RequestedIops() float64    { return v.requestedIops }

// InMigration implements fleet.VM.
func (v *VM) InMigration() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inMigration
}

// SetInMigration flags or clears the VM's migration state.
func (v *VM) SetInMigration(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inMigration = b
}

// Host is a simulated physical machine with a fixed capacity and label
// set, and a power.Model governing its wattage curve.
type Host struct {
	id          int64
	totalMips   float64
	labels      map[string]string
	powerModel  power.Model

	mu          sync.Mutex
	vms         map[string]*VM
	migratingIn map[string]*VM
	allocMips   map[string]float64
	allocIops   map[string]float64
}

// NewHost creates a Host with the given id, total MIPS capacity, label set,
// and power model.
func NewHost(id int64, totalMips float64, labels map[string]string, model power.Model) *Host {
	return &Host{
		id:          id,
		totalMips:   totalMips,
		labels:      labels,
		powerModel:  model,
		vms:         make(map[string]*VM),
		migratingIn: make(map[string]*VM),
		allocMips:   make(map[string]float64),
		allocIops:   make(map[string]float64),
	}
}

func (h *Host) ID() int64          { return h.id }
func (h *Host) TotalMips() float64 { return h.totalMips }

func (h *Host) AllocatedMipsForVM(vm fleet.VM) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocMips[vm.UID()]
}

func (h *Host) AllocatedIopsForVM(vm fleet.VM) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocIops[vm.UID()]
}

func (h *Host) VMs() []fleet.VM {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]fleet.VM, 0, len(h.vms))
	for _, vm := range h.vms {
		out = append(out, vm)
	}
	return out
}

func (h *Host) MigratingIn() []fleet.VM {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]fleet.VM, 0, len(h.migratingIn))
	for _, vm := range h.migratingIn {
		out = append(out, vm)
	}
	return out
}

// CurrentPower reports the host's present wattage at its current CPU
// utilization fraction.
func (h *Host) CurrentPower() float64 {
	h.mu.Lock()
	var used float64
	for _, m := range h.allocMips {
		used += m
	}
	h.mu.Unlock()
	if h.totalMips <= 0 {
		return h.powerModel.Watts(0)
	}
	return h.powerModel.Watts(used / h.totalMips)
}

// Power implements fleet.Host.
func (h *Host) Power(utilizationFraction float64) float64 {
	return h.powerModel.Watts(utilizationFraction)
}

// IsSuitableForVM reports whether the host has spare MIPS capacity for vm
// and, if vm carries required labels, whether the host's labels satisfy
// them. Non-simfleet VM implementations are only checked for capacity.
func (h *Host) IsSuitableForVM(vm fleet.VM) bool {
	h.mu.Lock()
	var used float64
	for _, m := range h.allocMips {
		used += m
	}
	h.mu.Unlock()

	if used+vm.RequestedMips() > h.totalMips {
		return false
	}

	sv, ok := vm.(*VM)
	if !ok {
		return true
	}
	for k, v := range sv.requiredLabels {
		if h.labels[k] != v {
			return false
		}
	}
	return true
}

// CreateVM implements fleet.Host.
func (h *Host) CreateVM(vm fleet.VM) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	var used float64
	for _, m := range h.allocMips {
		used += m
	}
	if used+vm.RequestedMips() > h.totalMips {
		return false
	}

	h.vms[vm.UID()] = toSimVM(vm)
	h.allocMips[vm.UID()] = vm.RequestedMips()
	if sv, ok := vm.(*VM); ok {
		h.allocIops[vm.UID()] = sv.RequestedIops()
	}
	return true
}

// DestroyVM implements fleet.Host.
func (h *Host) DestroyVM(vm fleet.VM) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.vms, vm.UID())
	delete(h.allocMips, vm.UID())
	delete(h.allocIops, vm.UID())
	delete(h.migratingIn, vm.UID())
}

// DestroyAllVMs implements fleet.Host.
func (h *Host) DestroyAllVMs() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vms = make(map[string]*VM)
	h.allocMips = make(map[string]float64)
	h.allocIops = make(map[string]float64)
	h.migratingIn = make(map[string]*VM)
}

// MarkMigratingIn records vm as migrating onto the host. Per spec.md
// §4.1, a migrating-in VM is already resident (so it is walked once by
// the plain utilization loop) and also tracked in the migrating-in set
// (so it is walked again by the inflation loop) — together the two loops
// charge it 10x its allocated MIPS while the migration is in flight.
func (h *Host) MarkMigratingIn(vm *VM) {
	h.mu.Lock()
	defer h.mu.Unlock()
	vm.SetInMigration(true)
	h.vms[vm.UID()] = vm
	h.allocMips[vm.UID()] = vm.requestedMips
	h.allocIops[vm.UID()] = vm.requestedIops
	h.migratingIn[vm.UID()] = vm
}

// ReallocateMigratingIn implements fleet.Host: every VM marked migrating
// in is cleared of that flag and left resident.
func (h *Host) ReallocateMigratingIn() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for uid, vm := range h.migratingIn {
		vm.SetInMigration(false)
		delete(h.migratingIn, uid)
	}
}

func toSimVM(vm fleet.VM) *VM {
	if sv, ok := vm.(*VM); ok {
		return sv
	}
	return &VM{uid: vm.UID(), requestedMips: vm.RequestedMips()}
}

// Fleet is a fixed set of Hosts satisfying fleet.Provider.
type Fleet struct {
	hosts []fleet.Host
}

// NewFleet wraps hosts as a fleet.Provider in the given iteration order.
func NewFleet(hosts ...*Host) *Fleet {
	out := make([]fleet.Host, len(hosts))
	for i, h := range hosts {
		out[i] = h
	}
	return &Fleet{hosts: out}
}

// Hosts implements fleet.Provider.
func (f *Fleet) Hosts() []fleet.Host { return f.hosts }
