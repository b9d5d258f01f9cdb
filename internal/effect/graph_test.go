package effect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// sumTrait is integer addition: commutative, associative, identity 0.
type sumTrait struct{}

func (sumTrait) Empty() int                { return 0 }
func (sumTrait) Sequentially(a, b int) int { return a + b }
func (sumTrait) Concurrently(a, b int) int { return a + b }

// traceTrait records fold order so tests can observe tree shape.
type traceTrait struct{}

func (traceTrait) Empty() string                   { return "" }
func (traceTrait) Sequentially(a, b string) string { return joinNonEmpty(a, b, ";") }
func (traceTrait) Concurrently(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "{" + joinNonEmpty(a, b, "|") + "}"
}

func joinNonEmpty(a, b, sep string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + sep + b
	}
}

func identity(s string) string { return s }
func itself(n int) int         { return n }

func TestEventGraph_EmptyCollapses(t *testing.T) {
	a := Atom(3)

	assert.True(t, Empty[int]().IsEmpty())
	assert.Equal(t, a, Sequentially(Empty[int](), a))
	assert.Equal(t, a, Sequentially(a, Empty[int]()))
	assert.Equal(t, a, Concurrently(Empty[int](), a))
	assert.Equal(t, 0, Sequence[int]().Size())
}

func TestEvaluate_EmptyIsIdentity(t *testing.T) {
	assert.Equal(t, 0, Evaluate(Empty[int](), sumTrait{}, itself))
	assert.Equal(t, "", Evaluate(Empty[string](), traceTrait{}, identity))
}

func TestEvaluate_SequentialOrderPreserved(t *testing.T) {
	// (a; (b | c)); d must keep a before the concurrent pair and d last.
	g := Sequentially(
		Sequentially(Atom("a"), Concurrently(Atom("c"), Atom("b"))),
		Atom("d"),
	)

	assert.Equal(t, "a;{b|c};d", Evaluate(g, traceTrait{}, identity))
	assert.Equal(t, []string{"a", "c", "b", "d"}, g.Atoms())
}

func TestEvaluate_ParallelPermutationInvariant(t *testing.T) {
	leaves := []int{5, -2, 11, 7}
	perms := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}

	var results []int
	for _, p := range perms {
		var g EventGraph[int]
		for _, i := range p {
			g = Concurrently(g, Atom(leaves[i]))
		}
		results = append(results, Evaluate(g, sumTrait{}, itself))
	}

	for _, r := range results {
		assert.Equal(t, 21, r)
	}
}

func TestEvaluate_TwoParallelAdds(t *testing.T) {
	ab := Concurrently(Atom(4), Atom(6))
	ba := Concurrently(Atom(6), Atom(4))

	assert.Equal(t, Evaluate(ab, sumTrait{}, itself), Evaluate(ba, sumTrait{}, itself))
	assert.Equal(t, 10, Evaluate(ab, sumTrait{}, itself))
}

func TestEvaluate_ProjectionDropsForeignLeaves(t *testing.T) {
	type tagged struct {
		cell int
		n    int
	}
	g := Sequence(Atom(tagged{0, 1}), Atom(tagged{1, 100}), Atom(tagged{0, 2}))

	only0 := func(e tagged) int {
		if e.cell != 0 {
			return 0
		}
		return e.n
	}
	assert.Equal(t, 3, Evaluate(g, sumTrait{}, only0))
}

func TestEventGraph_String(t *testing.T) {
	assert.Equal(t, "ε", Empty[int]().String())
	assert.Equal(t, "(1 | 2)", Parallel(Atom(1), Atom(2)).String())
}
