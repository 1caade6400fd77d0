package rules

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dlclark/regexp2"
)

// TokenType represents the type of a token in a rule expression.
type TokenType int

const (
	// TokenEOF marks the end of input
	TokenEOF TokenType = iota
	// TokenLParen is a left parenthesis
	TokenLParen
	// TokenRParen is a right parenthesis
	TokenRParen
	// TokenAnd is the AND keyword
	TokenAnd
	// TokenOr is the OR keyword
	TokenOr
	// TokenOperator is a comparison operator (= != < > <= >=)
	TokenOperator
	// TokenString is a single-quoted literal; Value holds the text without quotes
	TokenString
	// TokenWord is a bare run of letters and underscores
	TokenWord
	// TokenNumber is a bare run of digits
	TokenNumber
)

// String returns the string representation of a token type.
func (tt TokenType) String() string {
	switch tt {
	case TokenEOF:
		return "EOF"
	case TokenLParen:
		return "LPAREN"
	case TokenRParen:
		return "RPAREN"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenOperator:
		return "OPERATOR"
	case TokenString:
		return "STRING"
	case TokenWord:
		return "WORD"
	case TokenNumber:
		return "NUMBER"
	default:
		return "UNKNOWN"
	}
}

// Token is a single lexical token.
type Token struct {
	// Type is the token type
	Type TokenType
	// Value is the token text; quotes are stripped from TokenString values
	Value string
	// Position is the character (rune) offset where the token starts
	Position int
}

// String returns a string representation of the token for debugging.
func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at pos %d", t.Type, t.Value, t.Position)
}

// tokenPattern lists the alternatives in priority order. Matching is leftmost
// first, so at each scan position the earliest alternative that matches wins.
const tokenPattern = `\(|\)|\bAND\b|\bOR\b|<=|>=|!=|[=<>]|'[^']*'|[a-zA-Z_]+|\d+`

// DefaultMatchTimeout bounds a single pattern match.
const DefaultMatchTimeout = 250 * time.Millisecond

// Tokenizer converts rule text into tokens.
//
// In the default lenient mode any text that matches no token pattern is
// skipped. In strict mode such text produces a *TokenizationError.
//
// A Tokenizer is safe for concurrent use.
type Tokenizer struct {
	pattern *regexp2.Regexp
	strict  bool
}

// TokenizerOption configures a Tokenizer.
type TokenizerOption func(*Tokenizer)

// WithStrict enables or disables strict lexing.
func WithStrict(strict bool) TokenizerOption {
	return func(t *Tokenizer) {
		t.strict = strict
	}
}

// WithMatchTimeout sets the per-match timeout. Zero or negative leaves the default.
func WithMatchTimeout(d time.Duration) TokenizerOption {
	return func(t *Tokenizer) {
		if d > 0 {
			t.pattern.MatchTimeout = d
		}
	}
}

// NewTokenizer creates a tokenizer with its own compiled pattern.
func NewTokenizer(opts ...TokenizerOption) *Tokenizer {
	t := &Tokenizer{pattern: regexp2.MustCompile(tokenPattern, regexp2.None)}
	t.pattern.MatchTimeout = DefaultMatchTimeout
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Strict reports whether the tokenizer rejects unrecognised text.
func (t *Tokenizer) Strict() bool {
	return t.strict
}

var defaultTokenizer = NewTokenizer()

// Tokenize converts text into tokens using a lenient tokenizer.
func Tokenize(text string) ([]Token, error) {
	return defaultTokenizer.Tokenize(text)
}

// Tokenize converts text into a token slice terminated by a TokenEOF token.
//
// Before scanning, the raw counts of '(' and ')' are compared; a mismatch fails
// with ErrUnbalancedParentheses. Blank input, or input that yields no tokens,
// fails with ErrEmptyInput.
func (t *Tokenizer) Tokenize(text string) ([]Token, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Kind: ErrEmptyInput, Position: -1, Context: "rule string cannot be empty"}
	}

	if open, closed := strings.Count(text, "("), strings.Count(text, ")"); open != closed {
		return nil, &ParseError{
			Kind:     ErrUnbalancedParentheses,
			Position: -1,
			Context:  fmt.Sprintf("%d opening and %d closing parentheses", open, closed),
		}
	}

	runes := []rune(text)
	var tokens []Token
	end := 0

	m, err := t.pattern.FindRunesMatch(runes)
	for ; m != nil && err == nil; m, err = t.pattern.FindNextMatch(m) {
		if t.strict {
			if gapErr := checkGap(runes, end, m.Index); gapErr != nil {
				return nil, gapErr
			}
		}
		tokens = append(tokens, classify(m.String(), m.Index))
		end = m.Index + m.Length
	}
	if err != nil {
		return nil, fmt.Errorf("tokenizer match failed: %w", err)
	}
	if t.strict {
		if gapErr := checkGap(runes, end, len(runes)); gapErr != nil {
			return nil, gapErr
		}
	}

	if len(tokens) == 0 {
		return nil, &ParseError{Kind: ErrEmptyInput, Position: -1, Context: "no recognisable tokens"}
	}

	return append(tokens, Token{Type: TokenEOF, Position: len(runes)}), nil
}

// classify assigns a type by the matched text, the same way the parser
// inspects token text: a word spelled AND or OR is a keyword even when the
// word-boundary alternative did not match it.
func classify(text string, pos int) Token {
	switch {
	case text == "(":
		return Token{Type: TokenLParen, Value: text, Position: pos}
	case text == ")":
		return Token{Type: TokenRParen, Value: text, Position: pos}
	case text == "AND":
		return Token{Type: TokenAnd, Value: text, Position: pos}
	case text == "OR":
		return Token{Type: TokenOr, Value: text, Position: pos}
	case strings.HasPrefix(text, "'"):
		return Token{Type: TokenString, Value: strings.Trim(text, "'"), Position: pos}
	case strings.ContainsAny(text[:1], "=<>!"):
		return Token{Type: TokenOperator, Value: text, Position: pos}
	case unicode.IsDigit([]rune(text)[0]):
		return Token{Type: TokenNumber, Value: text, Position: pos}
	default:
		return Token{Type: TokenWord, Value: text, Position: pos}
	}
}

// checkGap rejects any non-whitespace rune in runes[from:to].
func checkGap(runes []rune, from, to int) error {
	for i := from; i < to; i++ {
		if unicode.IsSpace(runes[i]) {
			continue
		}
		start := i - 20
		if start < 0 {
			start = 0
		}
		stop := i + 20
		if stop > len(runes) {
			stop = len(runes)
		}
		return &TokenizationError{
			Position:    i,
			InvalidChar: runes[i],
			Context:     string(runes[start:stop]),
		}
	}
	return nil
}
