// Package rules implements the boolean rule language: tokenizer, parser, AST,
// structural edits, and evaluation against typed attribute maps.
//
// # Grammar
//
// A rule is a sequence of comparisons joined by AND or OR, optionally grouped
// with parentheses:
//
//	(age > 30 AND department = 'Sales') OR (salary <= 50000)
//
// A comparison is an attribute name from the catalog, one of the operators
// = != < > <= >=, and a literal (a number, a bare word, or a single-quoted string).
//
// # Grouping
//
// Operators inside one parenthesis level are applied strictly in arrival order.
// AND does not bind tighter than OR:
//
//	a AND b OR c   parses as  ((a AND b) OR c)
//	a OR b AND c   parses as  ((a OR b) AND c)
//
// Use parentheses to get any other grouping.
//
// # Trees
//
// Trees are immutable. Edit operations (ReplaceOperator, ReplaceOperand,
// Combine, RemoveMatching, ReplaceAt) return new trees that share untouched
// subtrees with the input, so a tree may be evaluated from many goroutines
// while edits produce new versions.
//
// Flatten and Rebuild convert a tree to and from a flat list of NodeRecords,
// which is the shape the storage layer persists. EncodeTree and DecodeTree
// wrap the same records in msgpack.
//
// This package performs no logging and keeps no global mutable state.
package rules
