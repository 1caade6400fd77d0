package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenTypes(tokens []Token) []TokenType {
	types := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		types[i] = tok.Type
	}
	return types
}

func tokenValues(tokens []Token) []string {
	values := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Type != TokenEOF {
			values = append(values, tok.Value)
		}
	}
	return values
}

func TestTokenize_SimpleExpressions(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []TokenType
		values   []string
	}{
		{
			name:     "single comparison",
			input:    "age > 30",
			expected: []TokenType{TokenWord, TokenOperator, TokenNumber, TokenEOF},
			values:   []string{"age", ">", "30"},
		},
		{
			name:     "quoted literal",
			input:    "department = 'Sales'",
			expected: []TokenType{TokenWord, TokenOperator, TokenString, TokenEOF},
			values:   []string{"department", "=", "Sales"},
		},
		{
			name:     "two character operators",
			input:    "a <= 1 b >= 2 c != 3",
			expected: []TokenType{TokenWord, TokenOperator, TokenNumber, TokenWord, TokenOperator, TokenNumber, TokenWord, TokenOperator, TokenNumber, TokenEOF},
			values:   []string{"a", "<=", "1", "b", ">=", "2", "c", "!=", "3"},
		},
		{
			name:     "grouping and keywords",
			input:    "(age > 30 AND salary < 5) OR experience = 2",
			expected: []TokenType{TokenLParen, TokenWord, TokenOperator, TokenNumber, TokenAnd, TokenWord, TokenOperator, TokenNumber, TokenRParen, TokenOr, TokenWord, TokenOperator, TokenNumber, TokenEOF},
		},
		{
			name:     "operators without spaces",
			input:    "age>=30",
			expected: []TokenType{TokenWord, TokenOperator, TokenNumber, TokenEOF},
			values:   []string{"age", ">=", "30"},
		},
		{
			name:     "lowercase keywords are words",
			input:    "age > 1 and salary < 2",
			expected: []TokenType{TokenWord, TokenOperator, TokenNumber, TokenWord, TokenWord, TokenOperator, TokenNumber, TokenEOF},
		},
		{
			name:     "keyword prefix is a word",
			input:    "ANDROID",
			expected: []TokenType{TokenWord, TokenEOF},
			values:   []string{"ANDROID"},
		},
		{
			name:     "quoted keyword is a string",
			input:    "department = 'AND'",
			expected: []TokenType{TokenWord, TokenOperator, TokenString, TokenEOF},
			values:   []string{"department", "=", "AND"},
		},
		{
			name:     "empty quoted literal",
			input:    "department = ''",
			expected: []TokenType{TokenWord, TokenOperator, TokenString, TokenEOF},
			values:   []string{"department", "=", ""},
		},
		{
			name:     "quoted literal keeps spaces",
			input:    "department = 'Human Resources'",
			expected: []TokenType{TokenWord, TokenOperator, TokenString, TokenEOF},
			values:   []string{"department", "=", "Human Resources"},
		},
		{
			name:     "letters and digits split",
			input:    "abc123",
			expected: []TokenType{TokenWord, TokenNumber, TokenEOF},
			values:   []string{"abc", "123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := Tokenize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tokenTypes(tokens))
			if tt.values != nil {
				assert.Equal(t, tt.values, tokenValues(tokens))
			}
		})
	}
}

func TestTokenize_Positions(t *testing.T) {
	tokens, err := Tokenize("(age > 30)")
	require.NoError(t, err)

	positions := make([]int, len(tokens))
	for i, tok := range tokens {
		positions[i] = tok.Position
	}
	assert.Equal(t, []int{0, 1, 5, 7, 9, 10}, positions)
}

func TestTokenize_LenientDropsUnknownCharacters(t *testing.T) {
	tokens, err := Tokenize("age > 30 # comment; salary")
	require.NoError(t, err)
	assert.Equal(t, []string{"age", ">", "30", "comment", "salary"}, tokenValues(tokens))

	tokens, err = Tokenize("department = 'unterminated")
	require.NoError(t, err)
	assert.Equal(t, []string{"department", "=", "unterminated"}, tokenValues(tokens))
}

func TestTokenize_Strict(t *testing.T) {
	strict := NewTokenizer(WithStrict(true))
	assert.True(t, strict.Strict())

	_, err := strict.Tokenize("age > 30 AND salary < 5")
	require.NoError(t, err)

	_, err = strict.Tokenize("age > 30 # x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLex))

	var tokErr *TokenizationError
	require.ErrorAs(t, err, &tokErr)
	assert.Equal(t, 9, tokErr.Position)
	assert.Equal(t, '#', tokErr.InvalidChar)

	_, err = strict.Tokenize("age > 30 %")
	assert.ErrorIs(t, err, ErrLex, "trailing garbage is rejected")
}

func TestTokenize_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  error
	}{
		{"empty", "", ErrEmptyInput},
		{"whitespace", "   \t\n", ErrEmptyInput},
		{"only symbols", "@@ ##", ErrEmptyInput},
		{"more opening", "((age > 30)", ErrUnbalancedParentheses},
		{"more closing", "(age > 30))", ErrUnbalancedParentheses},
		{"quoted parenthesis counts", "department = '('", ErrUnbalancedParentheses},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestTokenTypeString(t *testing.T) {
	assert.Equal(t, "LPAREN", TokenLParen.String())
	assert.Equal(t, "STRING", TokenString.String())
	assert.Equal(t, "UNKNOWN", TokenType(99).String())
	assert.Equal(t, `WORD("age") at pos 0`, Token{Type: TokenWord, Value: "age"}.String())
}
