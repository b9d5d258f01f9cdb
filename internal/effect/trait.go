package effect

// EffectTrait is the algebra a cell folds its effects with.
//
// Empty must be the identity of both combinators. Concurrently must be
// associative and commutative for effects produced at the same instant;
// Sequentially need only be associative.
type EffectTrait[F any] interface {
	Empty() F
	Sequentially(prefix, suffix F) F
	Concurrently(left, right F) F
}

// Evaluate folds g into one effect. Leaves are projected with project;
// sequential nodes fold left to right, concurrent nodes with Concurrently.
// The empty graph evaluates to trait.Empty().
func Evaluate[E, F any](g EventGraph[E], trait EffectTrait[F], project func(E) F) F {
	if g.root == nil {
		return trait.Empty()
	}
	return evaluate(g.root, trait, project)
}

func evaluate[E, F any](n *node[E], trait EffectTrait[F], project func(E) F) F {
	switch n.kind {
	case kindAtom:
		return project(n.atom)
	case kindSequentially:
		return trait.Sequentially(evaluate(n.left, trait, project), evaluate(n.right, trait, project))
	default:
		return trait.Concurrently(evaluate(n.left, trait, project), evaluate(n.right, trait, project))
	}
}
