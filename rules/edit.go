package rules

import (
	"fmt"
	"strings"

	"ruleengine/core"
)

// ReplaceOperator returns a copy of an operator node with a new kind.
func ReplaceOperator(node Node, kind LogicalOp) (*OperatorNode, error) {
	op, ok := node.(*OperatorNode)
	if !ok || op == nil {
		return nil, &EditError{Kind: ErrNotAnOperator, Detail: describe(node)}
	}
	if kind != And && kind != Or {
		return nil, &EditError{Kind: ErrNotAnOperator, Detail: fmt.Sprintf("unknown logical operator %d", int(kind))}
	}
	return &OperatorNode{Kind: kind, Left: op.Left, Right: op.Right}, nil
}

// ReplaceOperand returns a new operand holding comparison, which must name an
// attribute declared in catalog.
func ReplaceOperand(node Node, comparison string, catalog *core.Catalog) (*OperandNode, error) {
	if op, ok := node.(*OperandNode); !ok || op == nil {
		return nil, &EditError{Kind: ErrNotAnOperand, Detail: describe(node)}
	}

	c, err := ParseComparison(comparison)
	if err != nil {
		return nil, &EditError{Kind: ErrInvalidAttribute, Detail: err.Error()}
	}
	if !catalog.Contains(c.Attribute) {
		return nil, &EditError{
			Kind:   ErrInvalidAttribute,
			Detail: fmt.Sprintf("%q is not one of %v", c.Attribute, catalog.Names()),
		}
	}
	return &OperandNode{Comparison: c}, nil
}

// Combine joins root and sub under a new operator node. When either side is
// nil the other is returned unchanged.
func Combine(root, sub Node, kind LogicalOp) Node {
	if isNil(root) {
		return sub
	}
	if isNil(sub) {
		return root
	}
	return &OperatorNode{Kind: kind, Left: root, Right: sub}
}

// CombineRule parses rule and joins it onto root.
func CombineRule(root Node, rule string, kind LogicalOp, catalog *core.Catalog) (Node, error) {
	sub, err := Parse(rule, catalog)
	if err != nil {
		return nil, err
	}
	return Combine(root, sub, kind), nil
}

// CombineMany left-folds trees with kind. Nil entries are skipped; an empty
// input returns nil and a single tree is returned as is.
func CombineMany(trees []Node, kind LogicalOp) Node {
	var out Node
	for _, t := range trees {
		out = Combine(out, t, kind)
	}
	return out
}

// RemoveMatching removes every operand whose Value equals value. An operator
// that loses one child is replaced by the surviving child; one that loses both
// is removed too. Returns nil when nothing remains.
func RemoveMatching(root Node, value string) Node {
	switch n := root.(type) {
	case *OperandNode:
		if n == nil || n.Value() == value {
			return nil
		}
		return n
	case *OperatorNode:
		if n == nil {
			return nil
		}
		left := RemoveMatching(n.Left, value)
		right := RemoveMatching(n.Right, value)
		switch {
		case left == nil && right == nil:
			return nil
		case left == nil:
			return right
		case right == nil:
			return left
		case left == n.Left && right == n.Right:
			return n
		default:
			return &OperatorNode{Kind: n.Kind, Left: left, Right: right}
		}
	default:
		return nil
	}
}

// Step selects a child of an operator node.
type Step int

const (
	// StepLeft selects the left child
	StepLeft Step = iota
	// StepRight selects the right child
	StepRight
)

// Path addresses a node by the steps taken from the root. The empty path is the root.
type Path []Step

// ParsePath converts a string of 'L' and 'R' characters into a Path.
func ParsePath(s string) (Path, error) {
	path := make(Path, 0, len(s))
	for i, ch := range strings.ToUpper(s) {
		switch ch {
		case 'L':
			path = append(path, StepLeft)
		case 'R':
			path = append(path, StepRight)
		default:
			return nil, fmt.Errorf("invalid path step %q at %d", ch, i)
		}
	}
	return path, nil
}

// String renders the path as L/R characters.
func (p Path) String() string {
	var b strings.Builder
	for _, s := range p {
		if s == StepLeft {
			b.WriteByte('L')
		} else {
			b.WriteByte('R')
		}
	}
	return b.String()
}

// NodeAt returns the node at path.
func NodeAt(root Node, path Path) (Node, error) {
	cur := root
	for i, step := range path {
		op, ok := cur.(*OperatorNode)
		if !ok || op == nil {
			return nil, fmt.Errorf("path %s: %w at step %d", path, ErrNotAnOperator, i)
		}
		if step == StepLeft {
			cur = op.Left
		} else {
			cur = op.Right
		}
	}
	if isNil(cur) {
		return nil, fmt.Errorf("path %s: %w: no node", path, ErrInvalidTree)
	}
	return cur, nil
}

// ReplaceAt rebuilds the spine from root to path, substituting the node there
// with the result of fn. Subtrees off the path are shared with root. A nil
// result from fn removes the node and collapses its parent to the sibling.
func ReplaceAt(root Node, path Path, fn func(Node) (Node, error)) (Node, error) {
	if len(path) == 0 {
		if isNil(root) {
			return nil, fmt.Errorf("%w: empty tree", ErrInvalidTree)
		}
		return fn(root)
	}

	op, ok := root.(*OperatorNode)
	if !ok || op == nil {
		return nil, fmt.Errorf("path %s: %w", path, ErrNotAnOperator)
	}

	if path[0] == StepLeft {
		left, err := ReplaceAt(op.Left, path[1:], fn)
		if err != nil {
			return nil, err
		}
		if isNil(left) {
			return op.Right, nil
		}
		return &OperatorNode{Kind: op.Kind, Left: left, Right: op.Right}, nil
	}

	right, err := ReplaceAt(op.Right, path[1:], fn)
	if err != nil {
		return nil, err
	}
	if isNil(right) {
		return op.Left, nil
	}
	return &OperatorNode{Kind: op.Kind, Left: op.Left, Right: right}, nil
}

func describe(node Node) string {
	if isNil(node) {
		return "nil node"
	}
	return fmt.Sprintf("%s %q", node.Type(), node.Value())
}
