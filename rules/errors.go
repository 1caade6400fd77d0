package rules

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is against any error returned by this package.
var (
	// Parse errors
	ErrUnbalancedParentheses = errors.New("unbalanced parentheses")
	ErrEmptyInput            = errors.New("empty rule")
	ErrUnexpectedOperator    = errors.New("unexpected operator")
	ErrIncompleteExpression  = errors.New("incomplete expression")
	ErrUnknownAttribute      = errors.New("unknown attribute")
	ErrUnexpectedToken       = errors.New("unexpected token")

	// ErrLex is returned by a strict tokenizer for input it cannot recognise
	ErrLex = errors.New("invalid character")

	// Evaluation errors
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrTypeCoercion      = errors.New("type coercion failed")
	ErrUnknownOperator   = errors.New("unknown comparison operator")

	// Edit errors
	ErrNotAnOperator    = errors.New("node is not an operator")
	ErrNotAnOperand     = errors.New("node is not an operand")
	ErrInvalidAttribute = errors.New("invalid attribute")

	// ErrInvalidTree is returned when a tree cannot be rebuilt from records
	ErrInvalidTree = errors.New("invalid rule tree")
)

// ParseError represents a structural error in a rule expression.
type ParseError struct {
	// Kind is one of the parse error sentinels
	Kind error
	// Position is the character offset of the offending token, or -1 when unknown
	Position int
	// Token is the text of the offending token, if any
	Token string
	// Context describes the failure
	Context string
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Position >= 0 {
		msg = fmt.Sprintf("%s at position %d", msg, e.Position)
	}
	if e.Token != "" {
		msg = fmt.Sprintf("%s near %q", msg, e.Token)
	}
	if e.Context != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Context)
	}
	return msg
}

// Unwrap returns the error kind so errors.Is matches the sentinels.
func (e *ParseError) Unwrap() error {
	return e.Kind
}

// Is reports whether target is a ParseError of the same kind.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newParseError(kind error, tok Token, context string) *ParseError {
	return &ParseError{Kind: kind, Position: tok.Position, Token: tok.Value, Context: context}
}

// TokenizationError is returned in strict mode when the input contains text
// that matches no token pattern.
type TokenizationError struct {
	// Position is the character offset of the unrecognised text
	Position int
	// InvalidChar is the first unrecognised character
	InvalidChar rune
	// Context is the surrounding text
	Context string
}

// Error implements the error interface for TokenizationError.
func (e *TokenizationError) Error() string {
	return fmt.Sprintf("tokenization error at position %d: invalid character %q (context: %q)",
		e.Position, e.InvalidChar, e.Context)
}

// Unwrap returns ErrLex.
func (e *TokenizationError) Unwrap() error {
	return ErrLex
}

// EvalError represents a failure while evaluating a comparison.
type EvalError struct {
	// Kind is one of ErrAttributeNotFound, ErrTypeCoercion, ErrUnknownOperator
	Kind      error
	Attribute string
	Operator  string
	Literal   string
	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface for EvalError.
func (e *EvalError) Error() string {
	msg := fmt.Sprintf("%s: %s %s %s", e.Kind, e.Attribute, e.Operator, e.Literal)
	if e.Err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *EvalError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// EditError represents a rejected tree edit.
type EditError struct {
	// Kind is one of ErrNotAnOperator, ErrNotAnOperand, ErrInvalidAttribute
	Kind   error
	Detail string
}

// Error implements the error interface for EditError.
func (e *EditError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the error kind.
func (e *EditError) Unwrap() error {
	return e.Kind
}

var errorKindNames = []struct {
	kind error
	name string
}{
	{ErrUnbalancedParentheses, "unbalanced_parentheses"},
	{ErrEmptyInput, "empty_input"},
	{ErrUnexpectedOperator, "unexpected_operator"},
	{ErrIncompleteExpression, "incomplete_expression"},
	{ErrUnknownAttribute, "unknown_attribute"},
	{ErrUnexpectedToken, "unexpected_token"},
	{ErrLex, "lex_error"},
	{ErrAttributeNotFound, "attribute_not_found"},
	{ErrTypeCoercion, "type_coercion"},
	{ErrUnknownOperator, "unknown_operator"},
	{ErrNotAnOperator, "not_an_operator"},
	{ErrNotAnOperand, "not_an_operand"},
	{ErrInvalidAttribute, "invalid_attribute"},
	{ErrInvalidTree, "invalid_tree"},
}

// ErrorKind returns a stable snake_case name for the kind of err, suitable for
// metric labels and API error codes. Returns "unknown" for foreign errors and
// "" for nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "unknown"
}

// IsParseError reports whether err is a parse or tokenization failure.
func IsParseError(err error) bool {
	var pe *ParseError
	var te *TokenizationError
	return errors.As(err, &pe) || errors.As(err, &te)
}

// IsEvalError reports whether err is an evaluation failure.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}
