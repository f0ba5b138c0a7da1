// Package overload classifies hosts as over-utilized on the CPU and I/O
// dimensions. The predicates themselves are pluggable; this package
// supplies the detector that drives them plus the concrete predicate
// families a deployment would choose between.
package overload

import "github.com/oriys/nova-consolidator/internal/fleet"

// Predicate decides whether a host is over-utilized on one dimension. It
// must be a deterministic function of the host's current observable
// state, so that a vmDestroy followed by a re-query gives a sensible
// reading.
type Predicate func(h fleet.Host) bool

// Detector evaluates the CPU and I/O overload predicates over a fleet.
type Detector struct {
	view    *fleet.View
	cpuPred Predicate
	ioPred  Predicate
}

// NewDetector builds a Detector over view using cpuPred and ioPred as the
// per-dimension predicates.
func NewDetector(view *fleet.View, cpuPred, ioPred Predicate) *Detector {
	return &Detector{view: view, cpuPred: cpuPred, ioPred: ioPred}
}

// IsHostOverUtilizedCpu reports whether h is CPU over-utilized right now.
func (d *Detector) IsHostOverUtilizedCpu(h fleet.Host) bool {
	return d.cpuPred(h)
}

// IsHostOverUtilizedIo reports whether h is I/O over-utilized right now.
func (d *Detector) IsHostOverUtilizedIo(h fleet.Host) bool {
	return d.ioPred(h)
}

// GetOverUtilizedHostsCpu filters the fleet's hosts by IsHostOverUtilizedCpu,
// preserving fleet iteration order.
func (d *Detector) GetOverUtilizedHostsCpu() []fleet.Host {
	return filter(d.view.Hosts(), d.cpuPred)
}

// GetOverUtilizedHostsIo filters the fleet's hosts by IsHostOverUtilizedIo,
// preserving fleet iteration order.
func (d *Detector) GetOverUtilizedHostsIo() []fleet.Host {
	return filter(d.view.Hosts(), d.ioPred)
}

func filter(hosts []fleet.Host, pred Predicate) []fleet.Host {
	var out []fleet.Host
	for _, h := range hosts {
		if pred(h) {
			out = append(out, h)
		}
	}
	return out
}

// FindCommonOverUtilizedHosts returns the hosts present in both cpuList and
// ioList, identified by host ID, iterated in ioList's order.
func FindCommonOverUtilizedHosts(cpuList, ioList []fleet.Host) []fleet.Host {
	inCPU := make(map[int64]struct{}, len(cpuList))
	for _, h := range cpuList {
		inCPU[h.ID()] = struct{}{}
	}
	var common []fleet.Host
	for _, h := range ioList {
		if _, ok := inCPU[h.ID()]; ok {
			common = append(common, h)
		}
	}
	return common
}

// Exclude returns the hosts in hosts whose ID is not present in remove.
func Exclude(hosts, remove []fleet.Host) []fleet.Host {
	skip := make(map[int64]struct{}, len(remove))
	for _, h := range remove {
		skip[h.ID()] = struct{}{}
	}
	var out []fleet.Host
	for _, h := range hosts {
		if _, ok := skip[h.ID()]; !ok {
			out = append(out, h)
		}
	}
	return out
}
