package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ErrSkipChildren can be returned by a WalkFunc to skip an operator's children.
var ErrSkipChildren = errors.New("skip children")

// WalkFunc is called for each node in pre-order with its depth (root is 0).
type WalkFunc func(n Node, depth int) error

// Walk visits root and its descendants in pre-order (node, left, right).
// Walking stops at the first error other than ErrSkipChildren.
func Walk(root Node, fn WalkFunc) error {
	return walk(root, 0, fn)
}

func walk(n Node, depth int, fn WalkFunc) error {
	if isNil(n) {
		return nil
	}
	if err := fn(n, depth); err != nil {
		if errors.Is(err, ErrSkipChildren) {
			return nil
		}
		return err
	}
	left, right := n.Children()
	if err := walk(left, depth+1, fn); err != nil {
		return err
	}
	return walk(right, depth+1, fn)
}

// CountLeaves returns the number of operand nodes.
func CountLeaves(root Node) int {
	count := 0
	_ = Walk(root, func(n Node, _ int) error {
		if n.Type() == NodeOperand {
			count++
		}
		return nil
	})
	return count
}

// CountOperators returns the number of operator nodes.
func CountOperators(root Node) int {
	count := 0
	_ = Walk(root, func(n Node, _ int) error {
		if n.Type() == NodeOperator {
			count++
		}
		return nil
	})
	return count
}

// Depth returns the number of levels in the tree; 0 for nil.
func Depth(root Node) int {
	deepest := 0
	_ = Walk(root, func(_ Node, depth int) error {
		if depth+1 > deepest {
			deepest = depth + 1
		}
		return nil
	})
	return deepest
}

// ReferencedAttributes returns the distinct attribute names used by the tree, sorted.
func ReferencedAttributes(root Node) []string {
	seen := make(map[string]struct{})
	_ = Walk(root, func(n Node, _ int) error {
		if op, ok := n.(*OperandNode); ok {
			seen[op.Comparison.Attribute] = struct{}{}
		}
		return nil
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether a and b have the same shape and values.
func Equal(a, b Node) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	switch x := a.(type) {
	case *OperandNode:
		y, ok := b.(*OperandNode)
		return ok && x.Comparison == y.Comparison
	case *OperatorNode:
		y, ok := b.(*OperatorNode)
		return ok && x.Kind == y.Kind && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	default:
		return false
	}
}

// String renders the tree as fully parenthesised rule text that parses back
// to an equal tree. Literals made only of digits are written bare; all others
// are single-quoted, so a literal containing a quote cannot be rendered faithfully.
func String(root Node) string {
	var b strings.Builder
	writeNode(&b, root)
	return b.String()
}

func writeNode(b *strings.Builder, n Node) {
	switch x := n.(type) {
	case *OperandNode:
		if x == nil {
			return
		}
		b.WriteString(x.Comparison.Attribute)
		b.WriteByte(' ')
		b.WriteString(string(x.Comparison.Operator))
		b.WriteByte(' ')
		if isDigits(x.Comparison.Literal) {
			b.WriteString(x.Comparison.Literal)
		} else {
			b.WriteByte('\'')
			b.WriteString(x.Comparison.Literal)
			b.WriteByte('\'')
		}
	case *OperatorNode:
		if x == nil {
			return
		}
		b.WriteByte('(')
		writeNode(b, x.Left)
		b.WriteByte(' ')
		b.WriteString(x.Kind.String())
		b.WriteByte(' ')
		writeNode(b, x.Right)
		b.WriteByte(')')
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// NodeRecord is the flat form of one node. Children are referenced by ID.
type NodeRecord struct {
	ID        int    `json:"id" msgpack:"id"`
	Type      string `json:"node_type" msgpack:"type"`
	Value     string `json:"value" msgpack:"value"`
	Attribute string `json:"attribute,omitempty" msgpack:"attribute,omitempty"`
	Operator  string `json:"operator,omitempty" msgpack:"operator,omitempty"`
	Literal   string `json:"literal,omitempty" msgpack:"literal,omitempty"`
	Left      *int   `json:"left_child,omitempty" msgpack:"left,omitempty"`
	Right     *int   `json:"right_child,omitempty" msgpack:"right,omitempty"`
}

// Flatten returns the tree as records numbered in pre-order from 0, so the
// root is always record 0. A nil tree yields nil.
func Flatten(root Node) []NodeRecord {
	var records []NodeRecord
	var visit func(n Node) int
	visit = func(n Node) int {
		id := len(records)
		records = append(records, NodeRecord{ID: id, Type: n.Type().String(), Value: n.Value()})

		switch x := n.(type) {
		case *OperandNode:
			records[id].Attribute = x.Comparison.Attribute
			records[id].Operator = string(x.Comparison.Operator)
			records[id].Literal = x.Comparison.Literal
		case *OperatorNode:
			left := visit(x.Left)
			right := visit(x.Right)
			records[id].Left = &left
			records[id].Right = &right
		}
		return id
	}
	if !isNil(root) {
		visit(root)
	}
	return records
}

// Rebuild reconstructs a tree from records produced by Flatten or loaded from
// storage. IDs need not be contiguous or ordered. The root is the one record
// no other record references. Operand records without a structured attribute
// fall back to splitting Value.
//
// Fails with ErrInvalidTree on duplicate IDs, dangling or repeated child
// references, cycles, unreachable records, or operators lacking a child.
// Empty input returns nil, nil.
func Rebuild(records []NodeRecord) (Node, error) {
	if len(records) == 0 {
		return nil, nil
	}

	byID := make(map[int]*NodeRecord, len(records))
	for i := range records {
		r := &records[i]
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %d", ErrInvalidTree, r.ID)
		}
		byID[r.ID] = r
	}

	referenced := make(map[int]bool, len(records))
	for _, r := range records {
		for _, child := range []*int{r.Left, r.Right} {
			if child == nil {
				continue
			}
			if _, ok := byID[*child]; !ok {
				return nil, fmt.Errorf("%w: node %d references missing node %d", ErrInvalidTree, r.ID, *child)
			}
			if referenced[*child] {
				return nil, fmt.Errorf("%w: node %d has more than one parent", ErrInvalidTree, *child)
			}
			referenced[*child] = true
		}
	}

	rootID, found := 0, false
	for _, r := range records {
		if referenced[r.ID] {
			continue
		}
		if found {
			return nil, fmt.Errorf("%w: multiple root nodes (%d and %d)", ErrInvalidTree, rootID, r.ID)
		}
		rootID, found = r.ID, true
	}
	if !found {
		return nil, fmt.Errorf("%w: no root node (cycle)", ErrInvalidTree)
	}

	visited := make(map[int]bool, len(records))
	var build func(id int) (Node, error)
	build = func(id int) (Node, error) {
		if visited[id] {
			return nil, fmt.Errorf("%w: cycle at node %d", ErrInvalidTree, id)
		}
		visited[id] = true
		r := byID[id]

		nodeType, err := ParseNodeType(r.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrInvalidTree, id, err)
		}

		if nodeType == NodeOperand {
			if r.Left != nil || r.Right != nil {
				return nil, fmt.Errorf("%w: operand node %d has children", ErrInvalidTree, id)
			}
			if r.Attribute != "" {
				return NewOperand(r.Attribute, ComparisonOp(r.Operator), r.Literal), nil
			}
			c, err := ParseComparison(r.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: node %d: %v", ErrInvalidTree, id, err)
			}
			return &OperandNode{Comparison: c}, nil
		}

		kind, err := ParseLogicalOp(r.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrInvalidTree, id, err)
		}
		if r.Left == nil || r.Right == nil {
			return nil, fmt.Errorf("%w: operator node %d requires two children", ErrInvalidTree, id)
		}
		left, err := build(*r.Left)
		if err != nil {
			return nil, err
		}
		right, err := build(*r.Right)
		if err != nil {
			return nil, err
		}
		return &OperatorNode{Kind: kind, Left: left, Right: right}, nil
	}

	root, err := build(rootID)
	if err != nil {
		return nil, err
	}
	if len(visited) != len(records) {
		return nil, fmt.Errorf("%w: %d records are unreachable from the root", ErrInvalidTree, len(records)-len(visited))
	}
	return root, nil
}
