package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"ruleengine/core"
)

// comparisonPattern splits "attribute op literal" at the first run of operator characters.
var comparisonPattern = regexp2.MustCompile(`^\s*(.*?)\s*([<>=!]+)\s*(.*?)\s*$`, regexp2.Singleline)

func init() {
	comparisonPattern.MatchTimeout = DefaultMatchTimeout
}

// ParseComparison splits a formatted comparison such as "age >= 30" or
// "department = 'Sales'" into its triple. Surrounding quotes are stripped
// from the literal. The attribute is not checked against any catalog.
func ParseComparison(s string) (Comparison, error) {
	m, err := comparisonPattern.FindStringMatch(s)
	if err != nil {
		return Comparison{}, fmt.Errorf("comparison match failed: %w", err)
	}
	if m == nil {
		return Comparison{}, fmt.Errorf("no comparison operator in %q", s)
	}

	groups := m.Groups()
	attr := groups[1].String()
	op := groups[2].String()
	lit := groups[3].String()

	if attr == "" {
		return Comparison{}, fmt.Errorf("comparison %q has no attribute", s)
	}
	if len(lit) >= 2 && strings.HasPrefix(lit, "'") && strings.HasSuffix(lit, "'") {
		lit = lit[1 : len(lit)-1]
	} else if lit == "" {
		return Comparison{}, fmt.Errorf("comparison %q has no value", s)
	}

	return Comparison{Attribute: attr, Operator: ComparisonOp(op), Literal: lit}, nil
}

// Evaluate compares the supplied attribute value against the literal.
//
// The literal is coerced to the catalog kind of the attribute; attributes the
// catalog does not declare take the kind of the supplied value. Integer
// attributes compare numerically and Text attributes lexicographically.
func (c Comparison) Evaluate(attrs core.Attributes, catalog *core.Catalog) (bool, error) {
	actual, ok := attrs[c.Attribute]
	if !ok {
		return false, c.evalError(ErrAttributeNotFound, nil)
	}

	kind, declared := catalog.Lookup(c.Attribute)
	if !declared {
		kind = actual.Kind
	}
	if actual.Kind != kind {
		return false, c.evalError(ErrTypeCoercion,
			fmt.Errorf("attribute is declared %s but the supplied value is %s", kind, actual.Kind))
	}

	var cmp int
	switch kind {
	case core.KindInteger:
		lit, err := strconv.ParseInt(strings.TrimSpace(c.Literal), 10, 64)
		if err != nil {
			return false, c.evalError(ErrTypeCoercion, err)
		}
		switch {
		case actual.Int < lit:
			cmp = -1
		case actual.Int > lit:
			cmp = 1
		}
	case core.KindText:
		cmp = strings.Compare(actual.Text, c.Literal)
	default:
		return false, c.evalError(ErrTypeCoercion, fmt.Errorf("unsupported kind %s", kind))
	}

	switch c.Operator {
	case OpEqual:
		return cmp == 0, nil
	case OpNotEqual:
		return cmp != 0, nil
	case OpGreater:
		return cmp > 0, nil
	case OpLess:
		return cmp < 0, nil
	case OpGreaterEqual:
		return cmp >= 0, nil
	case OpLessEqual:
		return cmp <= 0, nil
	default:
		return false, c.evalError(ErrUnknownOperator, nil)
	}
}

func (c Comparison) evalError(kind, cause error) *EvalError {
	return &EvalError{
		Kind:      kind,
		Attribute: c.Attribute,
		Operator:  string(c.Operator),
		Literal:   c.Literal,
		Err:       cause,
	}
}
