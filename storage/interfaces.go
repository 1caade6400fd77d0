package storage

import (
	"context"

	"ruleengine/core"
	"ruleengine/rules"
)

// RuleStorageInterface defines the interface for rule and AST persistence
type RuleStorageInterface interface {
	CreateRule(ctx context.Context, rule *core.StoredRule, tree rules.Node) error
	GetRule(ctx context.Context, id string) (*core.StoredRule, error)
	GetRules(ctx context.Context, limit int, offset int) ([]core.StoredRule, error)
	GetRuleCount(ctx context.Context) (int64, error)
	LoadTree(ctx context.Context, id string) (rules.Node, error)
	LoadNodes(ctx context.Context, id string) ([]rules.NodeRecord, error)
	EditRuleTree(ctx context.Context, id string, fn EditFunc) (*core.StoredRule, rules.Node, error)
	DeleteRule(ctx context.Context, id string) error
}

var _ RuleStorageInterface = (*SQLiteRuleStorage)(nil)
