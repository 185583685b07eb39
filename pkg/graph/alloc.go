package graph

import (
	"fmt"
	"sort"
)

// extent is a half-open byte range [start, end) with materialized data.
type extent struct {
	start, end int64
}

// extentMap tracks the allocated ranges of one node as a sorted list of
// disjoint extents.
type extentMap struct {
	extents []extent
}

// add marks [start, end) allocated, merging with neighbors.
func (m *extentMap) add(start, end int64) {
	if end <= start {
		return
	}

	merged := extent{start, end}
	var out []extent
	for _, e := range m.extents {
		switch {
		case e.end < merged.start || e.start > merged.end:
			out = append(out, e)
		default:
			if e.start < merged.start {
				merged.start = e.start
			}
			if e.end > merged.end {
				merged.end = e.end
			}
		}
	}
	out = append(out, merged)
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	m.extents = out
}

// query reports whether the byte at off is allocated and the length of the
// run sharing that state, clipped to limit.
func (m *extentMap) query(off, limit int64) (bool, int64) {
	for _, e := range m.extents {
		if e.end <= off {
			continue
		}
		if e.start <= off {
			// Allocated: run extends to the end of this extent.
			run := e.end - off
			if run > limit {
				run = limit
			}
			return true, run
		}
		// Unallocated: run extends to the start of the next extent.
		run := e.start - off
		if run > limit {
			run = limit
		}
		return false, run
	}
	return false, limit
}

// faultRange injects a read error over [start, end) of a node, so the copy
// loop's failure paths can be exercised.
type faultRange struct {
	start, end int64
	err        error
}

// MarkAllocated records that [off, off+length) has materialized data in the
// node. Used when building chains and by Prefetch.
func (g *Graph) MarkAllocated(id NodeID, off, length int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.resolve(id)
	if err != nil {
		return err
	}
	if n.filter {
		return ErrNotFilter
	}
	if off < 0 || off+length > n.length {
		return fmt.Errorf("graph: range [%d, %d) outside node %q", off, off+length, n.name)
	}
	n.extents.add(off, off+length)
	return nil
}

// FailRange injects err for any read touching [off, off+length) of id.
func (g *Graph) FailRange(id NodeID, off, length int64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, rerr := g.resolve(id)
	if rerr != nil {
		return
	}
	n.faults = append(n.faults, faultRange{start: off, end: off + length, err: err})
}

// ClearFaults removes all injected read errors from id.
func (g *Graph) ClearFaults(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, err := g.resolve(id); err == nil {
		n.faults = nil
	}
}

func (n *node) faultFor(off, end int64) error {
	for _, f := range n.faults {
		if off < f.end && end > f.start {
			return f.err
		}
	}
	return nil
}

// IsAllocated reports whether data at off is materialized in the node
// itself (filters are skipped) rather than falling through to its backing
// chain, along with the length of the run sharing that state, clipped to
// length and to the node's end.
func (g *Graph) IsAllocated(id NodeID, off, length int64) (bool, int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.resolve(g.skipFiltersLocked(id))
	if err != nil {
		return false, 0, err
	}
	if off >= n.length {
		return false, 0, nil
	}
	limit := length
	if rest := n.length - off; rest < limit {
		limit = rest
	}
	alloc, run := n.extents.query(off, limit)
	return alloc, run, nil
}

// IsAllocatedAbove reports whether data at off is materialized anywhere in
// the chain from top down to base, inclusive, and the length of the run
// over which that answer holds, clipped to length. Filters in between are
// transparent. A false result with a zero run means the end of the backing
// file has been reached.
func (g *Graph) IsAllocatedAbove(top, base NodeID, off, length int64) (bool, int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	allocated := false
	run := length
	covered := false

	id := top
	for id != None {
		n, err := g.resolve(id)
		if err != nil {
			return false, 0, err
		}
		if !n.filter {
			if off < n.length {
				covered = true
				limit := run
				if rest := n.length - off; rest < limit {
					limit = rest
				}
				a, r := n.extents.query(off, limit)
				allocated = allocated || a
				if r < run {
					run = r
				}
			}
		}
		if id == base {
			break
		}
		id = g.filterOrBackingLocked(id)
	}

	if id == None {
		return false, 0, ErrNotInChain
	}
	if !covered {
		return false, 0, nil
	}
	return allocated, run, nil
}

// Prefetch materializes [off, off+length) into the first non-filter node at
// or below id by reading it through the backing chain, the copy-on-read
// path streaming jobs use. Injected read faults anywhere below the target
// node surface as copy errors.
func (g *Graph) Prefetch(id NodeID, off, length int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	top := g.skipFiltersLocked(id)
	tn, err := g.resolve(top)
	if err != nil {
		return err
	}
	if off < 0 || off+length > tn.length {
		return fmt.Errorf("graph: prefetch range [%d, %d) outside node %q", off, off+length, tn.name)
	}

	// The read consults every node the data could fall through to.
	for cur := top; cur != None; cur = g.filterOrBackingLocked(cur) {
		n, err := g.resolve(cur)
		if err != nil {
			return err
		}
		if ferr := n.faultFor(off, off+length); ferr != nil {
			return ferr
		}
	}

	tn.extents.add(off, off+length)
	return nil
}

// GuestRead models a foreground read entering the chain at id. It notifies
// the I/O observer of every filter it passes through, which is how a
// streaming job's throughput tracker sees guest demand.
func (g *Graph) GuestRead(id NodeID, off, length int64) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for cur := id; cur != None; {
		n, err := g.resolve(cur)
		if err != nil {
			return err
		}
		if n.observer != nil {
			n.observer(1)
		}
		if !n.filter {
			if ferr := n.faultFor(off, off+length); ferr != nil {
				return ferr
			}
			if alloc, _ := n.extents.query(off, length); alloc {
				return nil
			}
			cur = n.backing
			continue
		}
		cur = n.file
	}
	return nil
}
