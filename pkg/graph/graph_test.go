package graph

import (
	"errors"
	"testing"
)

// buildChain creates base <- mid <- top, each 2 MiB.
func buildChain(t *testing.T) (*Graph, NodeID, NodeID, NodeID) {
	t.Helper()
	g := New()
	base := g.AddNode(NodeSpec{Name: "base", Format: "qcow2", Length: 2 << 20})
	mid := g.AddNode(NodeSpec{Name: "mid", Format: "qcow2", Length: 2 << 20})
	top := g.AddNode(NodeSpec{Name: "top", Format: "qcow2", Length: 2 << 20})
	if err := g.SetBacking(mid, base); err != nil {
		t.Fatal(err)
	}
	if err := g.SetBacking(top, mid); err != nil {
		t.Fatal(err)
	}
	return g, base, mid, top
}

func TestFindOverlay(t *testing.T) {
	g, base, mid, top := buildChain(t)

	ov, err := g.FindOverlay(top, base)
	if err != nil {
		t.Fatalf("FindOverlay failed: %v", err)
	}
	if ov != mid {
		t.Errorf("FindOverlay(top, base) = %v, want mid %v", ov, mid)
	}

	ov, err = g.FindOverlay(top, mid)
	if err != nil {
		t.Fatalf("FindOverlay failed: %v", err)
	}
	if ov != top {
		t.Errorf("FindOverlay(top, mid) = %v, want top %v", ov, top)
	}
}

func TestFindOverlayChainRoot(t *testing.T) {
	g, base, _, top := buildChain(t)

	// A None base selects the bottom-most overlay.
	ov, err := g.FindOverlay(top, None)
	if err != nil {
		t.Fatalf("FindOverlay failed: %v", err)
	}
	if ov != base {
		t.Errorf("FindOverlay(top, None) = %v, want base %v", ov, base)
	}
}

func TestFindOverlayNotInChain(t *testing.T) {
	g, _, _, top := buildChain(t)
	stranger := g.AddNode(NodeSpec{Name: "stranger", Length: 1 << 20})

	if _, err := g.FindOverlay(top, stranger); !errors.Is(err, ErrNotInChain) {
		t.Errorf("FindOverlay error = %v, want ErrNotInChain", err)
	}
}

func TestSkipFiltersAndFilterChildren(t *testing.T) {
	g, _, mid, top := buildChain(t)

	f, err := g.InsertFilter(top, mid, "")
	if err != nil {
		t.Fatalf("InsertFilter failed: %v", err)
	}
	if !g.IsFilter(f) || !g.IsImplicit(f) {
		t.Error("unnamed filter should be implicit")
	}
	if got := g.SkipFilters(f); got != top {
		t.Errorf("SkipFilters(filter) = %v, want top %v", got, top)
	}
	if got := g.FilterChild(f); got != top {
		t.Errorf("FilterChild(filter) = %v, want top %v", got, top)
	}
	if got := g.FilterOrBacking(top); got != mid {
		t.Errorf("FilterOrBacking(top) = %v, want mid %v", got, mid)
	}

	named, err := g.InsertFilter(top, mid, "observer0")
	if err != nil {
		t.Fatalf("InsertFilter failed: %v", err)
	}
	if g.IsImplicit(named) {
		t.Error("named filter should not be implicit")
	}
	if g.Name(named) != "observer0" {
		t.Errorf("Name = %q, want observer0", g.Name(named))
	}
}

func TestDropFilter(t *testing.T) {
	g, _, mid, top := buildChain(t)

	f, err := g.InsertFilter(top, mid, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.DropFilter(f); err != nil {
		t.Fatalf("DropFilter failed: %v", err)
	}
	if _, err := g.Length(f); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("dropped filter still resolvable: %v", err)
	}

	if err := g.DropFilter(top); !errors.Is(err, ErrNotFilter) {
		t.Errorf("DropFilter(top) = %v, want ErrNotFilter", err)
	}
}

func TestSetBackingRefRequiresDrain(t *testing.T) {
	g, base, _, top := buildChain(t)

	if err := g.SetBackingRef(top, base, "base", "qcow2"); !errors.Is(err, ErrNotDrained) {
		t.Errorf("undrained SetBackingRef = %v, want ErrNotDrained", err)
	}

	g.DrainBegin(top)
	defer g.DrainEnd(top)

	if err := g.SetBackingRef(top, base, "base", "qcow2"); err != nil {
		t.Fatalf("SetBackingRef failed: %v", err)
	}
	if got := g.BackingChild(top); got != base {
		t.Errorf("BackingChild(top) = %v, want base %v", got, base)
	}
	name, format := g.BackingRef(top)
	if name != "base" || format != "qcow2" {
		t.Errorf("BackingRef = (%q, %q), want (base, qcow2)", name, format)
	}
}

func TestSetBackingRefRemoves(t *testing.T) {
	g, _, _, top := buildChain(t)

	g.DrainBegin(top)
	defer g.DrainEnd(top)

	if err := g.SetBackingRef(top, None, "", ""); err != nil {
		t.Fatalf("SetBackingRef(None) failed: %v", err)
	}
	if got := g.BackingChild(top); got != None {
		t.Errorf("BackingChild(top) = %v, want None", got)
	}
}

func TestFreezeChainBlocksRewrite(t *testing.T) {
	g, base, mid, top := buildChain(t)

	if err := g.FreezeChain(top, mid); err != nil {
		t.Fatalf("FreezeChain failed: %v", err)
	}

	g.DrainBegin(top)
	if err := g.SetBackingRef(top, base, "base", "qcow2"); !errors.Is(err, ErrFrozen) {
		t.Errorf("frozen SetBackingRef = %v, want ErrFrozen", err)
	}
	g.DrainEnd(top)

	if err := g.UnfreezeChain(top, mid); err != nil {
		t.Fatalf("UnfreezeChain failed: %v", err)
	}
	g.DrainBegin(top)
	defer g.DrainEnd(top)
	if err := g.SetBackingRef(top, base, "base", "qcow2"); err != nil {
		t.Errorf("unfrozen SetBackingRef = %v, want nil", err)
	}
}

func TestReopenReadOnly(t *testing.T) {
	g := New()
	n := g.AddNode(NodeSpec{Name: "img", Length: 1 << 20, ReadOnly: true})

	if !g.IsReadOnly(n) {
		t.Fatal("node should start read-only")
	}
	if err := g.ReopenReadOnly(n, false); err != nil {
		t.Fatalf("ReopenReadOnly(false) failed: %v", err)
	}
	if g.IsReadOnly(n) {
		t.Error("node still read-only after reopen")
	}

	boom := errors.New("reopen denied")
	g.SetReopenError(n, boom)
	g.ReopenReadOnly(n, true)
	if err := g.ReopenReadOnly(n, false); !errors.Is(err, boom) {
		t.Errorf("injected reopen error = %v, want %v", err, boom)
	}
}
