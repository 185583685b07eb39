package graph

import (
	"errors"
	"testing"
)

const mib = 1 << 20

func TestIsAllocatedRuns(t *testing.T) {
	g := New()
	n := g.AddNode(NodeSpec{Name: "img", Length: 4 * mib})
	if err := g.MarkAllocated(n, mib, mib); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		off, limit int64
		alloc      bool
		run        int64
	}{
		{0, 4 * mib, false, mib},           // hole up to the extent
		{mib, 4 * mib, true, mib},          // the extent itself
		{mib + 512, 4 * mib, true, mib - 512},
		{2 * mib, 4 * mib, false, 2 * mib}, // hole to the end
		{0, 512, false, 512},               // clipped to limit
		{3 * mib, 4 * mib, false, mib},     // clipped to node end
	}
	for _, c := range cases {
		alloc, run, err := g.IsAllocated(n, c.off, c.limit)
		if err != nil {
			t.Fatalf("IsAllocated(%d) failed: %v", c.off, err)
		}
		if alloc != c.alloc || run != c.run {
			t.Errorf("IsAllocated(%d, %d) = (%v, %d), want (%v, %d)",
				c.off, c.limit, alloc, run, c.alloc, c.run)
		}
	}

	// Beyond the end of the node.
	alloc, run, err := g.IsAllocated(n, 4*mib, mib)
	if err != nil || alloc || run != 0 {
		t.Errorf("IsAllocated past EOF = (%v, %d, %v), want (false, 0, nil)", alloc, run, err)
	}
}

func TestExtentMerge(t *testing.T) {
	var m extentMap
	m.add(0, 100)
	m.add(200, 300)
	m.add(100, 200) // bridges the gap

	if len(m.extents) != 1 {
		t.Fatalf("extents = %v, want one merged extent", m.extents)
	}
	if m.extents[0] != (extent{0, 300}) {
		t.Errorf("merged extent = %v, want [0, 300)", m.extents[0])
	}
}

func TestIsAllocatedAbove(t *testing.T) {
	g := New()
	base := g.AddNode(NodeSpec{Name: "base", Length: 4 * mib})
	mid := g.AddNode(NodeSpec{Name: "mid", Length: 4 * mib})
	top := g.AddNode(NodeSpec{Name: "top", Length: 4 * mib})
	g.SetBacking(mid, base)
	g.SetBacking(top, mid)

	// Data only in mid at [1MiB, 2MiB). Scan from mid down to mid.
	g.MarkAllocated(mid, mib, mib)

	alloc, run, err := g.IsAllocatedAbove(mid, mid, 0, 4*mib)
	if err != nil {
		t.Fatal(err)
	}
	if alloc || run != mib {
		t.Errorf("hole before extent = (%v, %d), want (false, %d)", alloc, run, mib)
	}

	alloc, run, err = g.IsAllocatedAbove(mid, mid, mib, 4*mib)
	if err != nil {
		t.Fatal(err)
	}
	if !alloc || run != mib {
		t.Errorf("extent = (%v, %d), want (true, %d)", alloc, run, mib)
	}
}

func TestIsAllocatedAboveUnionRuns(t *testing.T) {
	g := New()
	base := g.AddNode(NodeSpec{Name: "base", Length: 4 * mib})
	mid := g.AddNode(NodeSpec{Name: "mid", Length: 4 * mib})
	g.SetBacking(mid, base)

	// mid allocated for the first 1 MiB, base from 512 KiB to 3 MiB: the
	// union is allocated at 0 but the reported run is conservative.
	g.MarkAllocated(mid, 0, mib)
	g.MarkAllocated(base, 512<<10, mib*3-512<<10)

	alloc, run, err := g.IsAllocatedAbove(mid, base, 0, 4*mib)
	if err != nil {
		t.Fatal(err)
	}
	if !alloc {
		t.Error("union should be allocated at offset 0")
	}
	if run <= 0 || run > mib {
		t.Errorf("run = %d, want a conservative run within the allocated union", run)
	}
}

func TestIsAllocatedAboveEndOfBackingFile(t *testing.T) {
	g := New()
	base := g.AddNode(NodeSpec{Name: "base", Length: mib})
	top := g.AddNode(NodeSpec{Name: "top", Length: 4 * mib})
	g.SetBacking(top, base)

	// Beyond every intermediate's end: reports "no remaining bytes".
	alloc, run, err := g.IsAllocatedAbove(base, base, 2*mib, mib)
	if err != nil {
		t.Fatal(err)
	}
	if alloc || run != 0 {
		t.Errorf("past backing EOF = (%v, %d), want (false, 0)", alloc, run)
	}
}

func TestPrefetchMaterializes(t *testing.T) {
	g := New()
	base := g.AddNode(NodeSpec{Name: "base", Length: 4 * mib})
	top := g.AddNode(NodeSpec{Name: "top", Length: 4 * mib})
	g.SetBacking(top, base)
	g.MarkAllocated(base, 0, 2*mib)

	f, err := g.InsertFilter(top, base, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Prefetch(f, 0, mib); err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}

	alloc, run, err := g.IsAllocated(top, 0, 4*mib)
	if err != nil {
		t.Fatal(err)
	}
	if !alloc || run != mib {
		t.Errorf("after Prefetch: IsAllocated(top, 0) = (%v, %d), want (true, %d)", alloc, run, mib)
	}
}

func TestPrefetchFaultInjection(t *testing.T) {
	g := New()
	base := g.AddNode(NodeSpec{Name: "base", Length: 4 * mib})
	top := g.AddNode(NodeSpec{Name: "top", Length: 4 * mib})
	g.SetBacking(top, base)

	boom := errors.New("read error")
	g.FailRange(base, mib, mib, boom)

	if err := g.Prefetch(top, 0, mib); err != nil {
		t.Errorf("Prefetch outside fault range = %v, want nil", err)
	}
	if err := g.Prefetch(top, mib, mib); !errors.Is(err, boom) {
		t.Errorf("Prefetch inside fault range = %v, want %v", err, boom)
	}

	g.ClearFaults(base)
	if err := g.Prefetch(top, mib, mib); err != nil {
		t.Errorf("Prefetch after ClearFaults = %v, want nil", err)
	}
}

func TestGuestReadNotifiesObserver(t *testing.T) {
	g := New()
	base := g.AddNode(NodeSpec{Name: "base", Length: mib})
	top := g.AddNode(NodeSpec{Name: "top", Length: mib})
	g.SetBacking(top, base)

	f, err := g.InsertFilter(top, base, "")
	if err != nil {
		t.Fatal(err)
	}

	var ops int64
	if err := g.SetIOObserver(f, func(n int64) { ops += n }); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := g.GuestRead(f, 0, 4096); err != nil {
			t.Fatal(err)
		}
	}
	if ops != 5 {
		t.Errorf("observer saw %d ops, want 5", ops)
	}
}
