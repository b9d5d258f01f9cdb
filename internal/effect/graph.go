package effect

import (
	"fmt"
	"strings"
)

type kind uint8

const (
	kindAtom kind = iota + 1
	kindSequentially
	kindConcurrently
)

type node[E any] struct {
	kind  kind
	atom  E
	left  *node[E]
	right *node[E]
	size  int
}

// EventGraph is an immutable tree of events. The zero value is the empty
// graph. Graphs are safe to share between goroutines.
type EventGraph[E any] struct {
	root *node[E]
}

// Empty returns the empty graph.
func Empty[E any]() EventGraph[E] {
	return EventGraph[E]{}
}

// Atom returns a graph holding the single event e.
func Atom[E any](e E) EventGraph[E] {
	return EventGraph[E]{root: &node[E]{kind: kindAtom, atom: e, size: 1}}
}

// Sequentially returns prefix followed by suffix. Empty operands collapse.
func Sequentially[E any](prefix, suffix EventGraph[E]) EventGraph[E] {
	return join(kindSequentially, prefix, suffix)
}

// Concurrently returns left and right with no ordering between them.
// Empty operands collapse.
func Concurrently[E any](left, right EventGraph[E]) EventGraph[E] {
	return join(kindConcurrently, left, right)
}

// Sequence folds graphs left to right with Sequentially.
func Sequence[E any](graphs ...EventGraph[E]) EventGraph[E] {
	var out EventGraph[E]
	for _, g := range graphs {
		out = Sequentially(out, g)
	}
	return out
}

// Parallel folds graphs with Concurrently.
func Parallel[E any](graphs ...EventGraph[E]) EventGraph[E] {
	var out EventGraph[E]
	for _, g := range graphs {
		out = Concurrently(out, g)
	}
	return out
}

func join[E any](k kind, a, b EventGraph[E]) EventGraph[E] {
	if a.root == nil {
		return b
	}
	if b.root == nil {
		return a
	}
	return EventGraph[E]{root: &node[E]{
		kind:  k,
		left:  a.root,
		right: b.root,
		size:  a.root.size + b.root.size,
	}}
}

// IsEmpty reports whether g holds no events.
func (g EventGraph[E]) IsEmpty() bool {
	return g.root == nil
}

// Size returns the number of events in g.
func (g EventGraph[E]) Size() int {
	if g.root == nil {
		return 0
	}
	return g.root.size
}

// Atoms returns the events of g in textual left-to-right order.
func (g EventGraph[E]) Atoms() []E {
	out := make([]E, 0, g.Size())
	var walk func(n *node[E])
	walk = func(n *node[E]) {
		if n == nil {
			return
		}
		if n.kind == kindAtom {
			out = append(out, n.atom)
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(g.root)
	return out
}

// String renders g for diagnostics: "a; b" for sequential composition and
// "a | b" for concurrent composition.
func (g EventGraph[E]) String() string {
	if g.root == nil {
		return "ε"
	}
	var sb strings.Builder
	writeNode(&sb, g.root)
	return sb.String()
}

func writeNode[E any](sb *strings.Builder, n *node[E]) {
	switch n.kind {
	case kindAtom:
		fmt.Fprint(sb, n.atom)
	case kindSequentially:
		sb.WriteByte('(')
		writeNode(sb, n.left)
		sb.WriteString("; ")
		writeNode(sb, n.right)
		sb.WriteByte(')')
	case kindConcurrently:
		sb.WriteByte('(')
		writeNode(sb, n.left)
		sb.WriteString(" | ")
		writeNode(sb, n.right)
		sb.WriteByte(')')
	}
}

