package rules

import (
	"fmt"

	"ruleengine/core"
)

// Evaluator evaluates rule trees against attribute maps.
// It holds only the catalog and is safe for concurrent use.
type Evaluator struct {
	catalog *core.Catalog
}

// NewEvaluator creates an evaluator. A nil catalog selects core.DefaultCatalog.
func NewEvaluator(catalog *core.Catalog) *Evaluator {
	if catalog == nil {
		catalog = core.DefaultCatalog()
	}
	return &Evaluator{catalog: catalog}
}

// Evaluate evaluates root against attrs using catalog for literal coercion.
func Evaluate(root Node, attrs core.Attributes, catalog *core.Catalog) (bool, error) {
	return NewEvaluator(catalog).Evaluate(root, attrs)
}

// Evaluate returns the verdict of root for attrs. A nil tree is false.
//
// Both children of an operator are always evaluated, so an error in either
// branch is reported regardless of the other branch's value.
func (e *Evaluator) Evaluate(root Node, attrs core.Attributes) (bool, error) {
	if isNil(root) {
		return false, nil
	}

	switch n := root.(type) {
	case *OperandNode:
		return n.Comparison.Evaluate(attrs, e.catalog)

	case *OperatorNode:
		left, err := e.Evaluate(n.Left, attrs)
		if err != nil {
			return false, err
		}
		right, err := e.Evaluate(n.Right, attrs)
		if err != nil {
			return false, err
		}
		switch n.Kind {
		case And:
			return left && right, nil
		case Or:
			return left || right, nil
		default:
			return false, fmt.Errorf("%w: unknown logical operator %d", ErrInvalidTree, int(n.Kind))
		}

	default:
		return false, fmt.Errorf("%w: unsupported node type %T", ErrInvalidTree, root)
	}
}
