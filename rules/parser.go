package rules

import (
	"fmt"

	"ruleengine/core"
)

// DefaultMaxDepth bounds parenthesis nesting.
const DefaultMaxDepth = 64

// Parser is a recursive descent parser for rule expressions.
//
// Each parenthesis level is parsed by one call of parseGroup, which keeps a
// small node stack, a pending logical operator, and a flag recording whether
// an operand is expected next. Every completed operand or sub-group is
// combined with the accumulated left-hand tree as soon as it arrives, which
// gives strictly left-to-right grouping with no AND/OR precedence.
//
// A Parser holds only configuration and is safe for concurrent use.
//
// Example usage:
//
//	p := NewParser(core.DefaultCatalog())
//	tree, err := p.Parse("(age > 30 AND department = 'Sales') OR salary <= 50000")
type Parser struct {
	catalog   *core.Catalog
	tokenizer *Tokenizer
	maxDepth  int
}

// ParseOption configures a Parser.
type ParseOption func(*Parser)

// WithTokenizer replaces the default lenient tokenizer.
func WithTokenizer(t *Tokenizer) ParseOption {
	return func(p *Parser) {
		if t != nil {
			p.tokenizer = t
		}
	}
}

// WithMaxDepth sets the maximum parenthesis nesting depth.
func WithMaxDepth(depth int) ParseOption {
	return func(p *Parser) {
		if depth > 0 {
			p.maxDepth = depth
		}
	}
}

// NewParser creates a parser that recognises the attributes in catalog.
// A nil catalog selects core.DefaultCatalog.
func NewParser(catalog *core.Catalog, opts ...ParseOption) *Parser {
	if catalog == nil {
		catalog = core.DefaultCatalog()
	}
	p := &Parser{
		catalog:   catalog,
		tokenizer: defaultTokenizer,
		maxDepth:  DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Catalog returns the parser's attribute catalog.
func (p *Parser) Catalog() *core.Catalog {
	return p.catalog
}

// Parse tokenizes and parses a rule expression.
func Parse(text string, catalog *core.Catalog, opts ...ParseOption) (Node, error) {
	return NewParser(catalog, opts...).Parse(text)
}

// Parse tokenizes text and builds its tree.
//
// Returns an error if:
//   - the parentheses counts differ (ErrUnbalancedParentheses)
//   - the text is blank or has no tokens (ErrEmptyInput)
//   - AND/OR appears where an operand is expected (ErrUnexpectedOperator)
//   - a level ends with a dangling operator, a missing operator between terms,
//     or a truncated comparison (ErrIncompleteExpression)
//   - an operand position holds a word outside the catalog (ErrUnknownAttribute)
//     or a stray operator or literal (ErrUnexpectedToken)
func (p *Parser) Parse(text string) (Node, error) {
	tokens, err := p.tokenizer.Tokenize(text)
	if err != nil {
		return nil, err
	}
	return p.ParseTokens(tokens)
}

// ParseTokens builds a tree from an already tokenized expression. The slice
// need not end with TokenEOF.
func (p *Parser) ParseTokens(tokens []Token) (Node, error) {
	if len(tokens) == 0 || tokens[0].Type == TokenEOF {
		return nil, &ParseError{Kind: ErrEmptyInput, Position: -1, Context: "no tokens"}
	}
	s := &parseState{parser: p, tokens: tokens}
	return s.parseGroup(0)
}

// parseState is the cursor over one token stream.
type parseState struct {
	parser   *Parser
	tokens   []Token
	position int
}

// peek returns the current token without consuming it.
func (s *parseState) peek() Token {
	if s.position >= len(s.tokens) {
		pos := 0
		if len(s.tokens) > 0 {
			last := s.tokens[len(s.tokens)-1]
			pos = last.Position + len([]rune(last.Value))
		}
		return Token{Type: TokenEOF, Position: pos}
	}
	return s.tokens[s.position]
}

// consume returns the current token and advances.
func (s *parseState) consume() Token {
	tok := s.peek()
	if tok.Type != TokenEOF {
		s.position++
	}
	return tok
}

// parseGroup parses one parenthesis level. It returns at the matching ')' for
// nested levels and at end of input for the top level.
func (s *parseState) parseGroup(depth int) (Node, error) {
	if depth > s.parser.maxDepth {
		return nil, newParseError(ErrIncompleteExpression, s.peek(),
			fmt.Sprintf("nesting deeper than %d levels", s.parser.maxDepth))
	}

	var stack []Node
	var pending LogicalOp
	expectOperand := true

	push := func(n Node) {
		if pending != 0 && len(stack) == 1 {
			stack[0] = &OperatorNode{Kind: pending, Left: stack[0], Right: n}
			pending = 0
		} else {
			stack = append(stack, n)
		}
		expectOperand = false
	}

	for {
		tok := s.peek()

		switch tok.Type {
		case TokenEOF:
			if depth > 0 {
				return nil, newParseError(ErrUnbalancedParentheses, tok, "missing closing parenthesis")
			}
			return finishGroup(stack, pending, tok)

		case TokenRParen:
			if depth == 0 {
				return nil, newParseError(ErrUnbalancedParentheses, tok, "closing parenthesis without matching opening parenthesis")
			}
			s.consume()
			return finishGroup(stack, pending, tok)

		case TokenLParen:
			if !expectOperand {
				return nil, newParseError(ErrIncompleteExpression, tok, "missing AND/OR before group")
			}
			s.consume()
			sub, err := s.parseGroup(depth + 1)
			if err != nil {
				return nil, err
			}
			push(sub)

		case TokenAnd, TokenOr:
			if expectOperand {
				return nil, newParseError(ErrUnexpectedOperator, tok, "operator without preceding operand")
			}
			s.consume()
			if tok.Type == TokenAnd {
				pending = And
			} else {
				pending = Or
			}
			expectOperand = true

		case TokenWord:
			if !s.parser.catalog.Contains(tok.Value) {
				return nil, newParseError(ErrUnknownAttribute, tok,
					fmt.Sprintf("allowed attributes: %v", s.parser.catalog.Names()))
			}
			if !expectOperand {
				return nil, newParseError(ErrIncompleteExpression, tok, "missing AND/OR before comparison")
			}
			operand, err := s.parseComparison()
			if err != nil {
				return nil, err
			}
			push(operand)

		default:
			return nil, newParseError(ErrUnexpectedToken, tok,
				fmt.Sprintf("expected attribute or '(' but got %s", tok.Type))
		}
	}
}

// parseComparison consumes an attribute, an operator token, and a literal token.
// The operator token is kept verbatim and checked at evaluation time.
func (s *parseState) parseComparison() (*OperandNode, error) {
	attr := s.consume()

	op := s.peek()
	if op.Type == TokenEOF {
		return nil, newParseError(ErrIncompleteExpression, attr, "comparison is missing an operator")
	}
	s.consume()

	lit := s.peek()
	if lit.Type == TokenEOF {
		return nil, newParseError(ErrIncompleteExpression, op, "comparison is missing a value")
	}
	s.consume()

	return NewOperand(attr.Value, ComparisonOp(op.Value), lit.Value), nil
}

// finishGroup checks that a level reduced to exactly one tree.
func finishGroup(stack []Node, pending LogicalOp, at Token) (Node, error) {
	if pending != 0 {
		return nil, newParseError(ErrIncompleteExpression, at,
			fmt.Sprintf("%s is missing its right operand", pending))
	}
	if len(stack) != 1 {
		return nil, newParseError(ErrIncompleteExpression, at,
			fmt.Sprintf("expected one expression, found %d", len(stack)))
	}
	return stack[0], nil
}
