package overload_test

import (
	"testing"

	"github.com/oriys/nova-consolidator/internal/fleet"
	"github.com/oriys/nova-consolidator/internal/history"
	"github.com/oriys/nova-consolidator/internal/overload"
	"github.com/oriys/nova-consolidator/internal/power"
	"github.com/oriys/nova-consolidator/internal/simfleet"
)

func newHost(id int64, totalMips float64) *simfleet.Host {
	return simfleet.NewHost(id, totalMips, nil, power.Linear{IdleWatts: 100, MaxWatts: 200})
}

func TestDetector_GetOverUtilizedHostsCpu_PreservesFleetOrder(t *testing.T) {
	h1 := newHost(1, 1000)
	h2 := newHost(2, 1000)
	h3 := newHost(3, 1000)

	h1.CreateVM(simfleet.NewVM(900, 0))
	h3.CreateVM(simfleet.NewVM(900, 0))

	f := simfleet.NewFleet(h1, h2, h3)
	view := fleet.NewView(f)
	cpuMetric := overload.CpuUtilizationMetric(view)
	pred := overload.StaticThreshold(cpuMetric, 0.8)
	det := overload.NewDetector(view, pred, pred)

	got := det.GetOverUtilizedHostsCpu()
	if len(got) != 2 || got[0].ID() != 1 || got[1].ID() != 3 {
		t.Fatalf("expected [1,3] in fleet order, got %v", ids(got))
	}
}

func TestFindCommonOverUtilizedHosts_OrderedByIoList(t *testing.T) {
	h1 := newHost(1, 1000)
	h2 := newHost(2, 1000)
	h3 := newHost(3, 1000)

	cpuList := []fleet.Host{h1, h2, h3}
	ioList := []fleet.Host{h3, h1}

	common := overload.FindCommonOverUtilizedHosts(cpuList, ioList)
	if len(common) != 2 || common[0].ID() != 3 || common[1].ID() != 1 {
		t.Fatalf("expected [3,1] (io order), got %v", ids(common))
	}
}

func TestExclude(t *testing.T) {
	h1 := newHost(1, 1000)
	h2 := newHost(2, 1000)
	h3 := newHost(3, 1000)

	got := overload.Exclude([]fleet.Host{h1, h2, h3}, []fleet.Host{h2})
	if len(got) != 2 || got[0].ID() != 1 || got[1].ID() != 3 {
		t.Fatalf("expected [1,3], got %v", ids(got))
	}
}

func TestStaticThreshold(t *testing.T) {
	h := newHost(1, 1000)
	h.CreateVM(simfleet.NewVM(850, 0))
	view := fleet.NewView(simfleet.NewFleet(h))
	metric := overload.CpuUtilizationMetric(view)

	pred := overload.StaticThreshold(metric, 0.8)
	if !pred(h) {
		t.Fatal("expected host at 0.85 utilization to trip an 0.8 threshold")
	}

	lenient := overload.StaticThreshold(metric, 0.9)
	if lenient(h) {
		t.Fatal("expected host at 0.85 utilization not to trip an 0.9 threshold")
	}
}

func TestMovingAverage_NeedsTwoSamples(t *testing.T) {
	h := newHost(1, 1000)
	h.CreateVM(simfleet.NewVM(900, 0))
	view := fleet.NewView(simfleet.NewFleet(h))
	metric := overload.CpuUtilizationMetric(view)

	clk := 0.0
	rec := history.NewRecorder(func() float64 { return clk })
	pred := overload.MovingAverage(rec, metric, 5, 1.2)

	if pred(h) {
		t.Fatal("expected no trip with zero history samples")
	}

	rec.AddHistoryEntryIo(h.ID(), 0, 0.5)
	if pred(h) {
		t.Fatal("expected no trip with only one history sample")
	}

	clk = 1
	rec.AddHistoryEntryIo(h.ID(), 0, 0.5)
	if !pred(h) {
		t.Fatal("expected trip: current 0.9 > 1.2*mean(0.5)=0.6")
	}
}

func TestIQR_NeedsFourSamples(t *testing.T) {
	h := newHost(1, 1000)
	h.CreateVM(simfleet.NewVM(950, 0))
	view := fleet.NewView(simfleet.NewFleet(h))
	metric := overload.CpuUtilizationMetric(view)

	clk := 0.0
	rec := history.NewRecorder(func() float64 { return clk })
	pred := overload.IQR(rec, metric, 10, 1.5)

	samples := []float64{0.1, 0.12, 0.11, 0.13}
	for _, s := range samples[:3] {
		rec.AddHistoryEntryIo(h.ID(), 0, s)
		clk++
	}
	if pred(h) {
		t.Fatal("expected no trip with only three samples")
	}

	rec.AddHistoryEntryIo(h.ID(), 0, samples[3])
	if !pred(h) {
		t.Fatal("expected the 0.95-utilization host to be an IQR outlier against ~0.1 history")
	}
}

func ids(hosts []fleet.Host) []int64 {
	out := make([]int64, len(hosts))
	for i, h := range hosts {
		out[i] = h.ID()
	}
	return out
}
