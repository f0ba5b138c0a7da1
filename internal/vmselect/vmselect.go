// Package vmselect implements the VM-selection sub-protocol: given a
// stressed host, choose the next VM to evict. Two independent policy
// families are supported, one per dimension, matching spec.md §4.3.
package vmselect

import "github.com/oriys/nova-consolidator/internal/fleet"

// Policy chooses the next VM to evict from host, or reports ok=false when
// no eligible VM remains (e.g. every resident VM is already migrating).
type Policy interface {
	SelectVictim(host fleet.Host) (vm fleet.VM, ok bool)
}

// eligible returns host's VMs that are not already migrating — the
// selector contract spec.md §4.4 relies on to implicitly exclude them.
func eligible(host fleet.Host) []fleet.VM {
	var out []fleet.VM
	for _, vm := range host.VMs() {
		if !vm.InMigration() {
			out = append(out, vm)
		}
	}
	return out
}
