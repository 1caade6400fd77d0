package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"ruleengine/core"
	"ruleengine/rules"
)

func printSection(w io.Writer, title string) {
	fmt.Fprintln(w)
	headerColor.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", len(title)))
}

func printField(w io.Writer, label string, value interface{}) {
	valueStr := fmt.Sprintf("%v", value)
	if valueStr == "" {
		valueStr = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", label+":", valueStr)
}

// printTree draws a tree with box-drawing branches, one node per line:
//
//	AND
//	├── age > 30
//	└── department = 'Sales'
func printTree(w io.Writer, root rules.Node) {
	if root == nil {
		warningColor.Fprintln(w, "(empty)")
		return
	}
	printNode(w, root, "", "", "")
}

func printNode(w io.Writer, node rules.Node, prefix, branch, childPrefix string) {
	fmt.Fprint(w, prefix+branch)
	if node.Type() == rules.NodeOperator {
		infoColor.Fprintln(w, node.Value())
	} else {
		fmt.Fprintln(w, node.Value())
	}

	left, right := node.Children()
	if left == nil || right == nil {
		return
	}
	next := prefix + childPrefix
	printNode(w, left, next, "├── ", "│   ")
	printNode(w, right, next, "└── ", "    ")
}

func printResult(w io.Writer, result bool) {
	if result {
		successColor.Fprintln(w, "true")
		return
	}
	errorColor.Fprintln(w, "false")
}

func printStoredRule(w io.Writer, rule *core.StoredRule) {
	printSection(w, "Rule "+rule.ID)
	printField(w, "Name", rule.Name)
	printField(w, "Rule", rule.Rule)
	printField(w, "Nodes", rule.NodeCount)
	printField(w, "Fingerprint", rule.Fingerprint)
	printField(w, "Created", rule.CreatedAt.Format(time.RFC3339))
	printField(w, "Updated", rule.UpdatedAt.Format(time.RFC3339))
}

func printRuleTable(w io.Writer, items []core.StoredRule, total int64) {
	if len(items) == 0 {
		warningColor.Fprintln(w, "No rules found")
		return
	}

	headerColor.Fprintf(w, "%-36s  %-20s  %s\n", "ID", "NAME", "RULE")
	for _, rule := range items {
		name := rule.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %s\n", rule.ID, truncate(name, 20), truncate(rule.Rule, 60))
	}
	fmt.Fprintf(w, "\n%d of %d rules\n", len(items), total)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
