// Package metrics holds hierarchical build measurements and the reductions
// applied to them across repeated runs.
package metrics

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned by Merge when a name is a leaf in one
// container and a nested container in the other.
var ErrShapeMismatch = errors.New("metric shape mismatch")

// Node is either a leaf value or a nested container.
type Node[V any] struct {
	value    V
	children *Container[V]
}

// Leaf wraps a single value.
func Leaf[V any](v V) Node[V] {
	return Node[V]{value: v}
}

// Nested wraps a child container.
func Nested[V any](c *Container[V]) Node[V] {
	if c == nil {
		c = NewContainer[V]()
	}

	return Node[V]{children: c}
}

// IsLeaf reports whether the node holds a value rather than children.
func (n Node[V]) IsLeaf() bool {
	return n.children == nil
}

// Value returns the leaf value. It is the zero value for containers.
func (n Node[V]) Value() V {
	return n.value
}

// Children returns the nested container, or nil for leaves.
func (n Node[V]) Children() *Container[V] {
	return n.children
}

type entry[V any] struct {
	name   string
	parent string
	node   Node[V]
}

// Container is an insertion-ordered set of named metrics. Every entry may
// declare a parent name; Walk nests an entry under its parent when the
// parent is a sibling in the same container.
//
// A Container is not safe for concurrent use.
type Container[V any] struct {
	entries []entry[V]
	index   map[string]int
}

// NewContainer returns an empty container.
func NewContainer[V any]() *Container[V] {
	return &Container[V]{index: make(map[string]int)}
}

// Set inserts or overwrites a named node. Overwriting keeps the original
// position so reporting order stays stable.
func (c *Container[V]) Set(name string, node Node[V], parent string) {
	if i, ok := c.index[name]; ok {
		c.entries[i] = entry[V]{name: name, parent: parent, node: node}

		return
	}

	c.index[name] = len(c.entries)
	c.entries = append(c.entries, entry[V]{name: name, parent: parent, node: node})
}

// SetValue sets a top-level leaf without a parent.
func (c *Container[V]) SetValue(name string, v V) {
	c.Set(name, Leaf(v), "")
}

// SetContainer nests child under name with the given declared parent.
func (c *Container[V]) SetContainer(name string, child *Container[V], parent string) {
	c.Set(name, Nested(child), parent)
}

// SetPhase sets a leaf for a well-known build phase, recording the phase's
// parent.
func (c *Container[V]) SetPhase(p Phase, v V) {
	c.Set(p.Name, Leaf(v), p.Parent)
}

// Get returns the node stored under name.
func (c *Container[V]) Get(name string) (Node[V], bool) {
	i, ok := c.index[name]
	if !ok {
		return Node[V]{}, false
	}

	return c.entries[i].node, true
}

// Value returns the leaf stored under name. The second result is false when
// the name is missing or refers to a nested container.
func (c *Container[V]) Value(name string) (V, bool) {
	n, ok := c.Get(name)
	if !ok || !n.IsLeaf() {
		var zero V

		return zero, false
	}

	return n.value, true
}

// Parent returns the declared parent of name.
func (c *Container[V]) Parent(name string) string {
	if i, ok := c.index[name]; ok {
		return c.entries[i].parent
	}

	return ""
}

// Len returns the number of top-level entries.
func (c *Container[V]) Len() int {
	return len(c.entries)
}

// Names returns top-level names in insertion order.
func (c *Container[V]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}

	return names
}

// Map returns a structurally identical container with every leaf
// transformed by fn.
func Map[V, W any](c *Container[V], fn func(V) W) *Container[W] {
	out := NewContainer[W]()
	if c == nil {
		return out
	}

	for _, e := range c.entries {
		if e.node.IsLeaf() {
			out.Set(e.name, Leaf(fn(e.node.value)), e.parent)

			continue
		}

		out.Set(e.name, Nested(Map(e.node.children, fn)), e.parent)
	}

	return out
}

// Merge zips a and b by name, combining shared leaves with reduce. Names
// present in only one side are copied through; order is a's names followed
// by names first seen in b.
func Merge[V any](a, b *Container[V], reduce func(V, V) V) (*Container[V], error) {
	if a == nil {
		a = NewContainer[V]()
	}

	if b == nil {
		b = NewContainer[V]()
	}

	out := NewContainer[V]()

	for _, e := range a.entries {
		j, ok := b.index[e.name]
		if !ok {
			out.Set(e.name, e.node, e.parent)

			continue
		}

		other := b.entries[j].node

		switch {
		case e.node.IsLeaf() && other.IsLeaf():
			out.Set(e.name, Leaf(reduce(e.node.value, other.value)), e.parent)
		case !e.node.IsLeaf() && !other.IsLeaf():
			merged, err := Merge(e.node.children, other.children, reduce)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.name, err)
			}

			out.Set(e.name, Nested(merged), e.parent)
		default:
			return nil, fmt.Errorf("%w: %q", ErrShapeMismatch, e.name)
		}
	}

	for _, e := range b.entries {
		if _, ok := a.index[e.name]; !ok {
			out.Set(e.name, e.node, e.parent)
		}
	}

	return out, nil
}

// Walk visits the container depth first. Leaves are passed to visit; nested
// containers and entries that have children by declared parent are bracketed
// by onEnter/onExit with the entry's name. Either hook may be nil.
func (c *Container[V]) Walk(
	visit func(name string, v V),
	onEnter, onExit func(name string),
) {
	if c == nil {
		return
	}

	if onEnter == nil {
		onEnter = func(string) {}
	}

	if onExit == nil {
		onExit = func(string) {}
	}

	c.walk(visit, onEnter, onExit)
}

func (c *Container[V]) walk(
	visit func(string, V),
	onEnter, onExit func(string),
) {
	kids := make(map[string][]int)
	var roots []int

	for i, e := range c.entries {
		if _, ok := c.index[e.parent]; ok && e.parent != e.name {
			kids[e.parent] = append(kids[e.parent], i)

			continue
		}

		roots = append(roots, i)
	}

	seen := make(map[int]bool, len(c.entries))

	var walkEntry func(i int)
	walkEntry = func(i int) {
		if seen[i] {
			return
		}
		seen[i] = true

		e := c.entries[i]
		children := kids[e.name]

		if e.node.IsLeaf() {
			visit(e.name, e.node.value)

			if len(children) == 0 {
				return
			}

			onEnter(e.name)
		} else {
			onEnter(e.name)
			e.node.children.walk(visit, onEnter, onExit)
		}

		for _, k := range children {
			walkEntry(k)
		}

		onExit(e.name)
	}

	for _, i := range roots {
		walkEntry(i)
	}

	// Entries caught in a parent cycle are not reachable from any root.
	for i := range c.entries {
		walkEntry(i)
	}
}

// Flatten walks c and returns every leaf keyed by its dotted path, in walk
// order.
func Flatten[V any](c *Container[V]) []Flat[V] {
	var (
		out    []Flat[V]
		prefix []string
	)

	c.Walk(
		func(name string, v V) {
			out = append(out, Flat[V]{Name: joinPath(prefix, name), Value: v})
		},
		func(name string) { prefix = append(prefix, name) },
		func(string) { prefix = prefix[:len(prefix)-1] },
	)

	return out
}

// Flat is a leaf with its fully qualified dotted name.
type Flat[V any] struct {
	Name  string
	Value V
}

func joinPath(prefix []string, name string) string {
	n := len(name)
	for _, p := range prefix {
		n += len(p) + 1
	}

	b := make([]byte, 0, n)
	for _, p := range prefix {
		b = append(b, p...)
		b = append(b, '.')
	}

	return string(append(b, name...))
}
