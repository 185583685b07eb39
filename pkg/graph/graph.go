// Package graph implements the backing-chain graph the streaming engine
// operates on: an arena of image nodes addressed by stable handles, where
// each overlay's unallocated regions fall through to the node below it.
//
// Traversal and allocation queries take the graph's reader lock; structural
// mutation (filter insertion, backing rewrites) takes the writer lock, held
// only for the duration of the mutation and never across a suspension
// point.
package graph

import (
	"errors"
	"fmt"
	"sync"
)

// NodeID is a stable handle into the graph's node arena. The zero value
// means "no node".
type NodeID int

// None is the absent node handle.
const None NodeID = 0

var (
	// ErrNodeNotFound indicates an invalid or dropped node handle.
	ErrNodeNotFound = errors.New("graph: node not found")

	// ErrNotInChain indicates the requested node is not part of the
	// backing chain being operated on.
	ErrNotInChain = errors.New("graph: node not in backing chain")

	// ErrFrozen indicates the backing link is frozen and cannot be
	// rewritten.
	ErrFrozen = errors.New("graph: backing link is frozen")

	// ErrNotDrained indicates a structural mutation was attempted without
	// draining the affected nodes first.
	ErrNotDrained = errors.New("graph: node not drained")

	// ErrNotFilter indicates a filter-only operation was applied to a
	// regular node.
	ErrNotFilter = errors.New("graph: node is not a filter")
)

// node is one image in the arena. Filters are transparent pass-through
// nodes: they carry no allocation state and forward I/O to their file
// child.
type node struct {
	name     string
	format   string
	protocol bool
	filter   bool
	implicit bool
	readOnly bool
	dropped  bool
	frozen   bool
	length   int64

	backing NodeID // COW child: where unallocated reads fall through
	file    NodeID // filter child: where a filter forwards I/O

	// backingName/backingFormat are the reference strings written into
	// the image header at commit time.
	backingName   string
	backingFormat string

	extents    extentMap
	faults     []faultRange
	reopenErr  error
	drainCount int

	// observer is notified with an operation count for I/O passing
	// through this node (used by interposing filters to feed the
	// throughput tracker).
	observer func(ops int64)
}

// NodeSpec describes a node to add to the graph.
type NodeSpec struct {
	Name     string
	Format   string
	Protocol bool
	ReadOnly bool
	Length   int64
}

// Graph is an arena of chain nodes guarded by a single RWMutex shared by
// all jobs and foreground I/O in the process.
type Graph struct {
	mu    sync.RWMutex
	nodes []*node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// AddNode adds a standalone node and returns its handle.
func (g *Graph) AddNode(spec NodeSpec) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = append(g.nodes, &node{
		name:     spec.Name,
		format:   spec.Format,
		protocol: spec.Protocol,
		readOnly: spec.ReadOnly,
		length:   spec.Length,
	})
	return NodeID(len(g.nodes))
}

// resolve returns the node for id. Callers must hold the lock.
func (g *Graph) resolve(id NodeID) (*node, error) {
	if id <= 0 || int(id) > len(g.nodes) {
		return nil, ErrNodeNotFound
	}
	n := g.nodes[id-1]
	if n.dropped {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// SetBacking wires child as the COW backing of top. Used while building a
// chain; committed rewrites go through SetBackingRef.
func (g *Graph) SetBacking(top, child NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.resolve(top)
	if err != nil {
		return err
	}
	if child != None {
		if _, err := g.resolve(child); err != nil {
			return err
		}
	}
	n.backing = child
	return nil
}

// Lookup returns the handle of the node with the given name.
func (g *Graph) Lookup(name string) (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for i, n := range g.nodes {
		if !n.dropped && n.name == name {
			return NodeID(i + 1), true
		}
	}
	return None, false
}

// Name returns the node's name.
func (g *Graph) Name(id NodeID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return ""
	}
	return n.name
}

// Format returns the node's image format.
func (g *Graph) Format(id NodeID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return ""
	}
	return n.format
}

// IsProtocol reports whether the node is a protocol-level driver (the kind
// whose format is masked as "raw" in backing references when requested).
func (g *Graph) IsProtocol(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return false
	}
	return n.protocol
}

// IsFilter reports whether the node is a transparent filter.
func (g *Graph) IsFilter(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return false
	}
	return n.filter
}

// IsImplicit reports whether the node was inserted without an explicit
// name.
func (g *Graph) IsImplicit(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return false
	}
	return n.implicit
}

// IsReadOnly reports whether the node is opened read-only.
func (g *Graph) IsReadOnly(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return false
	}
	return n.readOnly
}

// Length returns the node's size in bytes.
func (g *Graph) Length(id NodeID) (int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return 0, err
	}
	return n.length, nil
}

// BackingChild returns the COW child of id, or None.
func (g *Graph) BackingChild(id NodeID) NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return None
	}
	return n.backing
}

// FilterChild returns the file child of a filter node, or None for regular
// nodes.
func (g *Graph) FilterChild(id NodeID) NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil || !n.filter {
		return None
	}
	return n.file
}

// FilterOrBacking returns the child I/O falls through to: the file child
// for filters, the backing child otherwise.
func (g *Graph) FilterOrBacking(id NodeID) NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filterOrBackingLocked(id)
}

func (g *Graph) filterOrBackingLocked(id NodeID) NodeID {
	n, err := g.resolve(id)
	if err != nil {
		return None
	}
	if n.filter {
		return n.file
	}
	return n.backing
}

// SkipFilters walks down through filter nodes and returns the first
// non-filter node at or below id.
func (g *Graph) SkipFilters(id NodeID) NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.skipFiltersLocked(id)
}

func (g *Graph) skipFiltersLocked(id NodeID) NodeID {
	for id != None {
		n, err := g.resolve(id)
		if err != nil {
			return None
		}
		if !n.filter {
			return id
		}
		id = n.file
	}
	return None
}

// backingChainNextLocked returns the next COW node below id, skipping
// filters on the way.
func (g *Graph) backingChainNextLocked(id NodeID) NodeID {
	q := g.skipFiltersLocked(id)
	if q == None {
		return None
	}
	n, err := g.resolve(q)
	if err != nil {
		return None
	}
	return g.skipFiltersLocked(n.backing)
}

// FindOverlay returns the COW overlay in top's chain that directly covers
// base: the node whose next COW node below is base. A None base selects the
// bottom-most overlay (streaming the whole chain). Returns ErrNotInChain
// when base is not in top's backing chain.
func (g *Graph) FindOverlay(top, base NodeID) (NodeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	target := g.skipFiltersLocked(base)
	for n := g.skipFiltersLocked(top); n != None; n = g.backingChainNextLocked(n) {
		if g.backingChainNextLocked(n) == target {
			return n, nil
		}
	}
	return None, ErrNotInChain
}

// InsertFilter creates an interposing filter node above top, forwarding I/O
// to it. bottom marks the lower boundary the filter's copy-on-read covers.
// An empty name marks the node implicit and auto-names it.
func (g *Graph) InsertFilter(top, bottom NodeID, name string) (NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tn, err := g.resolve(top)
	if err != nil {
		return None, err
	}
	if _, err := g.resolve(bottom); err != nil {
		return None, err
	}

	implicit := name == ""
	if implicit {
		name = fmt.Sprintf("#filter%d", len(g.nodes)+1)
	}

	g.nodes = append(g.nodes, &node{
		name:     name,
		format:   "copy-on-read",
		filter:   true,
		implicit: implicit,
		file:     top,
		length:   tn.length,
	})
	return NodeID(len(g.nodes)), nil
}

// DropFilter removes an interposing filter from the graph.
func (g *Graph) DropFilter(id NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.resolve(id)
	if err != nil {
		return err
	}
	if !n.filter {
		return ErrNotFilter
	}
	n.dropped = true
	n.file = None
	n.observer = nil
	return nil
}

// SetBackingRef rewrites the backing link of id to point at base (None
// removes the backing reference entirely) and records the reference string
// and format written into the image. The node must be drained and its
// backing link not frozen.
func (g *Graph) SetBackingRef(id, base NodeID, refName, refFormat string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.resolve(id)
	if err != nil {
		return err
	}
	if n.filter {
		return ErrNotFilter
	}
	if n.frozen {
		return ErrFrozen
	}
	if n.drainCount == 0 {
		return ErrNotDrained
	}
	if base != None {
		if _, err := g.resolve(base); err != nil {
			return err
		}
	}

	n.backing = base
	n.backingName = refName
	n.backingFormat = refFormat
	return nil
}

// BackingRef returns the committed backing reference string and format of
// id.
func (g *Graph) BackingRef(id NodeID) (name, format string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.resolve(id)
	if err != nil {
		return "", ""
	}
	return n.backingName, n.backingFormat
}

// ReopenReadOnly transitions the node between read-only and read-write.
func (g *Graph) ReopenReadOnly(id NodeID, readOnly bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.resolve(id)
	if err != nil {
		return err
	}
	if !readOnly && n.reopenErr != nil {
		return n.reopenErr
	}
	n.readOnly = readOnly
	return nil
}

// SetReopenError injects a failure for read-write reopen attempts on id.
func (g *Graph) SetReopenError(id NodeID, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, rerr := g.resolve(id); rerr == nil {
		n.reopenErr = err
	}
}

// FreezeChain freezes the backing links from top down to through,
// inclusive, preventing backing rewrites while a reopen is in flight.
func (g *Graph) FreezeChain(top, through NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.walkChainLocked(top, through, func(n *node) { n.frozen = true })
}

// UnfreezeChain reverses FreezeChain.
func (g *Graph) UnfreezeChain(top, through NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.walkChainLocked(top, through, func(n *node) { n.frozen = false })
}

// walkChainLocked applies fn to every node from top down to through,
// inclusive, following filter and backing links.
func (g *Graph) walkChainLocked(top, through NodeID, fn func(*node)) error {
	for id := top; id != None; id = g.filterOrBackingLocked(id) {
		n, err := g.resolve(id)
		if err != nil {
			return err
		}
		fn(n)
		if id == through {
			return nil
		}
	}
	return ErrNotInChain
}

// DrainBegin quiesces pending I/O on the node. Structural mutation of the
// node's links requires an active drain section.
func (g *Graph) DrainBegin(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, err := g.resolve(id); err == nil {
		n.drainCount++
	}
}

// DrainEnd ends a drain section started by DrainBegin.
func (g *Graph) DrainEnd(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, err := g.resolve(id); err == nil && n.drainCount > 0 {
		n.drainCount--
	}
}

// SetIOObserver attaches an I/O observer to id. Interposing filters use
// this to feed a throughput tracker from foreground I/O completions.
func (g *Graph) SetIOObserver(id NodeID, fn func(ops int64)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.resolve(id)
	if err != nil {
		return err
	}
	n.observer = fn
	return nil
}
