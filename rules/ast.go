package rules

import (
	"fmt"
	"strings"
)

// NodeType distinguishes operand leaves from operator nodes.
type NodeType int

const (
	// NodeOperand is a leaf holding one comparison
	NodeOperand NodeType = iota + 1
	// NodeOperator is an AND/OR node with two children
	NodeOperator
)

// String returns "operand" or "operator".
func (t NodeType) String() string {
	switch t {
	case NodeOperand:
		return "operand"
	case NodeOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// ParseNodeType converts "operand" or "operator" into a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	switch s {
	case "operand":
		return NodeOperand, nil
	case "operator":
		return NodeOperator, nil
	default:
		return 0, fmt.Errorf("unknown node type %q", s)
	}
}

// LogicalOp is the operator of an operator node.
type LogicalOp int

const (
	// And requires both children to be true
	And LogicalOp = iota + 1
	// Or requires at least one child to be true
	Or
)

// String returns "AND" or "OR".
func (op LogicalOp) String() string {
	switch op {
	case And:
		return "AND"
	case Or:
		return "OR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogicalOp converts "AND" or "OR" (any case) into a LogicalOp.
func ParseLogicalOp(s string) (LogicalOp, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AND":
		return And, nil
	case "OR":
		return Or, nil
	default:
		return 0, fmt.Errorf("unknown logical operator %q", s)
	}
}

// ComparisonOp is the operator text of a comparison. The parser keeps whatever
// token it finds in the operator slot, so a ComparisonOp is not necessarily
// one of the six known operators; evaluation rejects unknown ones.
type ComparisonOp string

// Comparison operators
const (
	OpEqual        ComparisonOp = "="
	OpNotEqual     ComparisonOp = "!="
	OpGreater      ComparisonOp = ">"
	OpLess         ComparisonOp = "<"
	OpGreaterEqual ComparisonOp = ">="
	OpLessEqual    ComparisonOp = "<="
)

// Valid reports whether op is one of the six comparison operators.
func (op ComparisonOp) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Comparison is the (attribute, operator, literal) triple held by an operand.
type Comparison struct {
	Attribute string
	Operator  ComparisonOp
	Literal   string
}

// String formats the comparison as "attribute operator literal".
func (c Comparison) String() string {
	return c.Attribute + " " + string(c.Operator) + " " + c.Literal
}

// Node is an element of a rule tree. Implemented by *OperandNode and *OperatorNode.
type Node interface {
	// Type returns NodeOperand or NodeOperator
	Type() NodeType
	// Value returns the comparison string for operands and "AND"/"OR" for operators
	Value() string
	// Children returns the left and right children; both nil for operands
	Children() (left, right Node)
}

// OperandNode is a leaf comparing one attribute against a literal.
type OperandNode struct {
	Comparison Comparison
}

// NewOperand creates an operand node.
func NewOperand(attribute string, op ComparisonOp, literal string) *OperandNode {
	return &OperandNode{Comparison: Comparison{Attribute: attribute, Operator: op, Literal: literal}}
}

// Type returns NodeOperand.
func (n *OperandNode) Type() NodeType { return NodeOperand }

// Value returns the formatted comparison.
func (n *OperandNode) Value() string { return n.Comparison.String() }

// Children returns nil, nil.
func (n *OperandNode) Children() (Node, Node) { return nil, nil }

// OperatorNode joins two subtrees with AND or OR. Both children are always non-nil.
type OperatorNode struct {
	Kind  LogicalOp
	Left  Node
	Right Node
}

// NewOperator creates an operator node, rejecting nil children and unknown kinds.
func NewOperator(kind LogicalOp, left, right Node) (*OperatorNode, error) {
	if kind != And && kind != Or {
		return nil, fmt.Errorf("%w: unknown logical operator %d", ErrInvalidTree, int(kind))
	}
	if isNil(left) || isNil(right) {
		return nil, fmt.Errorf("%w: operator %s requires two children", ErrInvalidTree, kind)
	}
	return &OperatorNode{Kind: kind, Left: left, Right: right}, nil
}

// Type returns NodeOperator.
func (n *OperatorNode) Type() NodeType { return NodeOperator }

// Value returns "AND" or "OR".
func (n *OperatorNode) Value() string { return n.Kind.String() }

// Children returns the two children.
func (n *OperatorNode) Children() (Node, Node) { return n.Left, n.Right }

// isNil reports whether n is nil or a typed nil node pointer.
func isNil(n Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *OperandNode:
		return v == nil
	case *OperatorNode:
		return v == nil
	default:
		return false
	}
}
