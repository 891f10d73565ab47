package doctree

import (
	"errors"
	"fmt"
	"slices"
)

// WalkFunc is called for each node in reading order. depth is 0 for the
// body's direct children. Returning SkipChildren skips the node's subtree.
type WalkFunc func(n *Node, depth int) error

// SkipChildren can be returned from a WalkFunc to skip a subtree.
var SkipChildren = errors.New("doctree: skip children")

// Walk visits every node reachable from the body in depth-first reading
// order, excluding the body itself. It fails on dangling references and
// cycles.
func (d *Document) Walk(fn WalkFunc) error {
	seen := make([]bool, len(d.Nodes))
	seen[RootID] = true
	return d.walk(d.Root(), 0, seen, fn)
}

func (d *Document) walk(n *Node, depth int, seen []bool, fn WalkFunc) error {
	for _, id := range n.Children {
		c := d.Node(id)
		if c == nil {
			return fmt.Errorf("%w: node %d lists child %d", ErrDanglingRef, n.ID, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: node %d reached twice", ErrCycle, id)
		}
		seen[id] = true
		err := fn(c, depth)
		if errors.Is(err, SkipChildren) {
			continue
		}
		if err != nil {
			return err
		}
		if err := d.walk(c, depth+1, seen, fn); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the structural invariants: the graph reachable from the
// body is a tree, parent back-references agree with child lists, caption
// references resolve to children of their owner, and table spans never
// overlap.
func (d *Document) Validate() error {
	if len(d.Nodes) == 0 || d.Root().Label != LabelBody {
		return fmt.Errorf("%w: missing body node", ErrDanglingRef)
	}
	for i, n := range d.Nodes {
		if n == nil || n.ID != NodeID(i) {
			return fmt.Errorf("%w: arena slot %d holds the wrong node", ErrDanglingRef, i)
		}
	}
	return d.Walk(func(n *Node, _ int) error {
		p := d.Node(n.Parent)
		if p == nil || !slices.Contains(p.Children, n.ID) {
			return fmt.Errorf("%w: node %d claims parent %d", ErrParentMismatch, n.ID, n.Parent)
		}
		for _, c := range n.Captions {
			cn := d.Node(c)
			if cn == nil || cn.Parent != n.ID {
				return fmt.Errorf("%w: node %d caption %d", ErrDanglingRef, n.ID, c)
			}
		}
		if n.Table != nil {
			if err := n.Table.Validate(); err != nil {
				return fmt.Errorf("node %d: %w", n.ID, err)
			}
		}
		return nil
	})
}

// Compact drops nodes unreachable from the body and renumbers the rest so
// that IDs follow reading order. It returns the old-to-new ID mapping.
func (d *Document) Compact() (map[NodeID]NodeID, error) {
	order := []NodeID{RootID}
	if err := d.Walk(func(n *Node, _ int) error {
		order = append(order, n.ID)
		return nil
	}); err != nil {
		return nil, err
	}
	remap := make(map[NodeID]NodeID, len(order))
	for i, old := range order {
		remap[old] = NodeID(i)
	}
	nodes := make([]*Node, len(order))
	for i, old := range order {
		n := d.Nodes[old]
		n.ID = NodeID(i)
		if n.Parent != NoParent {
			n.Parent = remap[n.Parent]
		}
		for j, c := range n.Children {
			n.Children[j] = remap[c]
		}
		caps := n.Captions[:0]
		for _, c := range n.Captions {
			if nc, ok := remap[c]; ok {
				caps = append(caps, nc)
			}
		}
		if len(caps) == 0 {
			caps = nil
		}
		n.Captions = caps
		nodes[i] = n
	}
	d.Nodes = nodes
	return remap, nil
}

// Ancestors returns the chain of ancestors of id from the body's child
// downwards, excluding id itself and the body.
func (d *Document) Ancestors(id NodeID) []*Node {
	var chain []*Node
	n := d.Node(id)
	for n != nil && n.Parent != NoParent && n.Parent != RootID {
		n = d.Node(n.Parent)
		if n == nil {
			break
		}
		chain = append(chain, n)
	}
	slices.Reverse(chain)
	return chain
}
