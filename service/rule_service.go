package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ruleengine/core"
	"ruleengine/metrics"
	"ruleengine/rules"
	"ruleengine/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRulePageSize = 50
	maxRulePageSize     = 1000
	maxCombineRules     = 100
	maxEditAttempts     = 3

	defaultRemoteCacheTTL = time.Hour
)

var (
	// ErrInvalidRuleID is returned for IDs that are not UUIDs
	ErrInvalidRuleID = errors.New("invalid rule id")
	// ErrNoRules is returned when a combine request carries no rules
	ErrNoRules = errors.New("no rules to combine")
	// ErrStorageUnavailable is returned by stored-rule operations when no store is configured
	ErrStorageUnavailable = errors.New("rule storage not configured")
	// ErrConditionNotFound is returned when a removal matches no condition
	ErrConditionNotFound = errors.New("condition not found in rule")
	// ErrEmptyRule is returned when an edit would leave a rule without conditions
	ErrEmptyRule = errors.New("edit would leave the rule empty")
	// ErrInvalidPath is returned for node paths that are not strings of L and R
	ErrInvalidPath = errors.New("invalid node path")
)

// RuleStore defines the rule persistence operations needed by the service.
// Satisfied by storage.SQLiteRuleStorage.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *core.StoredRule, tree rules.Node) error
	GetRule(ctx context.Context, id string) (*core.StoredRule, error)
	GetRules(ctx context.Context, limit int, offset int) ([]core.StoredRule, error)
	GetRuleCount(ctx context.Context) (int64, error)
	LoadTree(ctx context.Context, id string) (rules.Node, error)
	EditRuleTree(ctx context.Context, id string, fn storage.EditFunc) (*core.StoredRule, rules.Node, error)
	DeleteRule(ctx context.Context, id string) error
}

// RemoteCache is a shared second-level tree cache. Satisfied by core.RedisCache.
type RemoteCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Options configures a RuleService. Zero values select defaults.
type Options struct {
	Catalog      *core.Catalog
	ParseOptions []rules.ParseOption
	CacheSize    int
	CacheTTL     time.Duration
	Remote       RemoteCache
	RemoteTTL    time.Duration
}

// RuleService ties parsing, evaluation and editing to storage and caching.
//
// Lookups for stored trees go memory cache, then the remote cache, then the
// store. Every write invalidates both cache layers for the rule.
type RuleService struct {
	parser    *rules.Parser
	evaluator *rules.Evaluator
	catalog   *core.Catalog
	store     RuleStore
	cache     *TreeCache
	remote    RemoteCache
	remoteTTL time.Duration
	logger    *zap.SugaredLogger
}

// NewRuleService creates a RuleService. store and opts.Remote may be nil;
// a nil store disables the stored-rule operations.
func NewRuleService(store RuleStore, logger *zap.SugaredLogger, opts Options) *RuleService {
	if logger == nil {
		panic("logger is required")
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog = core.DefaultCatalog()
	}
	remoteTTL := opts.RemoteTTL
	if remoteTTL <= 0 {
		remoteTTL = defaultRemoteCacheTTL
	}

	return &RuleService{
		parser:    rules.NewParser(catalog, opts.ParseOptions...),
		evaluator: rules.NewEvaluator(catalog),
		catalog:   catalog,
		store:     store,
		cache:     NewTreeCache(opts.CacheSize, opts.CacheTTL),
		remote:    opts.Remote,
		remoteTTL: remoteTTL,
		logger:    logger,
	}
}

// Catalog returns the attribute catalog rules are checked against
func (s *RuleService) Catalog() *core.Catalog {
	return s.catalog
}

// Parse parses text, reusing a cached tree for rules with the same fingerprint
func (s *RuleService) Parse(text string) (rules.Node, error) {
	key := core.GetTreeCacheKey(core.Fingerprint(text))
	if tree, ok := s.cache.Get(key); ok {
		return tree, nil
	}

	tree, err := s.parser.Parse(text)
	if err != nil {
		metrics.RulesParsed.WithLabelValues(rules.ErrorKind(err)).Inc()
		return nil, err
	}
	metrics.RulesParsed.WithLabelValues("ok").Inc()
	metrics.RuleTreeSize.Observe(float64(rules.CountLeaves(tree) + rules.CountOperators(tree)))

	s.cache.Add(key, tree)
	return tree, nil
}

// Validate reports whether text parses against the catalog
func (s *RuleService) Validate(text string) error {
	_, err := s.Parse(text)
	return err
}

// Evaluate parses text and evaluates it against attrs
func (s *RuleService) Evaluate(ctx context.Context, text string, attrs core.Attributes) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tree, err := s.Parse(text)
	if err != nil {
		return false, err
	}
	return s.EvaluateTree(tree, attrs)
}

// EvaluateTree evaluates an already parsed tree
func (s *RuleService) EvaluateTree(tree rules.Node, attrs core.Attributes) (bool, error) {
	start := time.Now()
	result, err := s.evaluator.Evaluate(tree, attrs)
	metrics.RuleEvaluationDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.RuleEvaluations.WithLabelValues("error").Inc()
	case result:
		metrics.RuleEvaluations.WithLabelValues("true").Inc()
	default:
		metrics.RuleEvaluations.WithLabelValues("false").Inc()
	}
	return result, err
}

// CombineRules parses each text and left-folds the trees with kind
func (s *RuleService) CombineRules(texts []string, kind rules.LogicalOp) (rules.Node, error) {
	if len(texts) == 0 {
		return nil, ErrNoRules
	}
	if len(texts) > maxCombineRules {
		return nil, fmt.Errorf("too many rules to combine: %d (max %d)", len(texts), maxCombineRules)
	}

	trees := make([]rules.Node, 0, len(texts))
	for i, text := range texts {
		tree, err := s.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		trees = append(trees, tree)
	}
	return rules.CombineMany(trees, kind), nil
}

// CreateRule parses text and stores it with its tree under a new ID
func (s *RuleService) CreateRule(ctx context.Context, name, text string) (*core.StoredRule, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}

	tree, err := s.Parse(text)
	if err != nil {
		return nil, err
	}

	rule := &core.StoredRule{
		ID:          uuid.New().String(),
		Name:        name,
		Rule:        text,
		Fingerprint: core.Fingerprint(text),
	}
	if err := s.store.CreateRule(ctx, rule, tree); err != nil {
		return nil, fmt.Errorf("failed to store rule: %w", err)
	}

	s.cache.Add(core.GetRuleCacheKey(rule.ID), tree)
	s.logger.Infow("Rule created",
		"rule_id", rule.ID,
		"name", rule.Name,
		"fingerprint", rule.Fingerprint,
		"nodes", rule.NodeCount)
	return rule, nil
}

// GetRule returns a stored rule
func (s *RuleService) GetRule(ctx context.Context, id string) (*core.StoredRule, error) {
	if err := s.checkStored(id); err != nil {
		return nil, err
	}
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve rule %s: %w", id, err)
	}
	return rule, nil
}

// RulePage is one page of stored rules with the limit and offset actually applied
type RulePage struct {
	Items  []core.StoredRule `json:"items"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// ListRules returns a page of stored rules and the total count. A limit of
// zero or less selects the default page size and larger limits are capped.
func (s *RuleService) ListRules(ctx context.Context, limit, offset int) (*RulePage, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	if limit <= 0 {
		limit = defaultRulePageSize
	}
	if limit > maxRulePageSize {
		limit = maxRulePageSize
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.store.GetRules(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	total, err := s.store.GetRuleCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count rules: %w", err)
	}
	if items == nil {
		items = []core.StoredRule{}
	}
	return &RulePage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// DeleteRule deletes a stored rule and drops it from both caches
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	if err := s.checkStored(id); err != nil {
		return err
	}
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	s.invalidate(ctx, id)
	return nil
}

// LoadTree returns the tree of a stored rule
func (s *RuleService) LoadTree(ctx context.Context, id string) (rules.Node, error) {
	if err := s.checkStored(id); err != nil {
		return nil, err
	}
	key := core.GetRuleCacheKey(id)

	if tree, ok := s.cache.Get(key); ok {
		return tree, nil
	}

	if s.remote != nil {
		var data []byte
		found, err := s.remote.Get(ctx, key, &data)
		if err != nil {
			s.logger.Warnw("Remote tree cache lookup failed", "rule_id", id, "error", err)
		} else if found {
			tree, err := rules.DecodeTree(data)
			if err == nil && tree != nil {
				s.cache.Add(key, tree)
				return tree, nil
			}
			s.logger.Warnw("Discarding undecodable cached tree", "rule_id", id, "error", err)
		}
	}

	tree, err := s.store.LoadTree(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", id, err)
	}
	s.cache.Add(key, tree)
	s.publish(ctx, id, tree)
	return tree, nil
}

// EvaluateStored evaluates a stored rule against attrs
func (s *RuleService) EvaluateStored(ctx context.Context, id string, attrs core.Attributes) (bool, error) {
	tree, err := s.LoadTree(ctx, id)
	if err != nil {
		return false, err
	}
	return s.EvaluateTree(tree, attrs)
}

// AddCondition joins text onto a stored rule with kind
func (s *RuleService) AddCondition(ctx context.Context, id, text string, kind rules.LogicalOp) (*core.StoredRule, error) {
	return s.edit(ctx, id, "add_condition", func(tree rules.Node) (rules.Node, error) {
		sub, err := s.Parse(text)
		if err != nil {
			return nil, err
		}
		return rules.Combine(tree, sub, kind), nil
	})
}

// RemoveCondition removes every condition of a stored rule whose comparison equals value
func (s *RuleService) RemoveCondition(ctx context.Context, id, value string) (*core.StoredRule, error) {
	return s.edit(ctx, id, "remove_condition", func(tree rules.Node) (rules.Node, error) {
		pruned := rules.RemoveMatching(tree, value)
		if pruned == nil {
			return nil, ErrEmptyRule
		}
		if rules.Equal(pruned, tree) {
			return nil, fmt.Errorf("%w: %q", ErrConditionNotFound, value)
		}
		return pruned, nil
	})
}

// UpdateNode replaces the node at path in a stored rule. An operator node
// takes a new logical operator ("AND" or "OR"); an operand node takes a new
// comparison such as "age > 40".
func (s *RuleService) UpdateNode(ctx context.Context, id, path, value string) (*core.StoredRule, error) {
	p, err := rules.ParsePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return s.edit(ctx, id, "update_node", func(tree rules.Node) (rules.Node, error) {
		return rules.ReplaceAt(tree, p, func(n rules.Node) (rules.Node, error) {
			if n.Type() == rules.NodeOperator {
				kind, err := rules.ParseLogicalOp(value)
				if err != nil {
					return nil, &rules.EditError{Kind: rules.ErrNotAnOperator, Detail: err.Error()}
				}
				return rules.ReplaceOperator(n, kind)
			}
			return rules.ReplaceOperand(n, value, s.catalog)
		})
	})
}

// edit loads a stored tree, applies fn and writes the result back
func (s *RuleService) edit(ctx context.Context, id, op string, fn func(rules.Node) (rules.Node, error)) (*core.StoredRule, error) {
	if err := s.checkStored(id); err != nil {
		return nil, err
	}

	var (
		rule    *core.StoredRule
		updated rules.Node
		err     error
	)
	for attempt := 1; attempt <= maxEditAttempts; attempt++ {
		rule, updated, err = s.store.EditRuleTree(ctx, id, storage.EditFunc(fn))
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
		s.logger.Debugw("Rule edit conflicted, retrying", "rule_id", id, "op", op, "attempt", attempt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", id, err)
	}
	s.invalidate(ctx, id)
	s.cache.Add(core.GetRuleCacheKey(id), updated)

	s.logger.Infow("Rule edited", "rule_id", id, "op", op, "rule", rule.Rule)
	return rule, nil
}

func (s *RuleService) checkStored(id string) error {
	if s.store == nil {
		return ErrStorageUnavailable
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRuleID, id)
	}
	return nil
}

// publish writes an encoded tree to the remote cache; failures only log
func (s *RuleService) publish(ctx context.Context, id string, tree rules.Node) {
	if s.remote == nil {
		return
	}
	data, err := rules.EncodeTree(tree)
	if err != nil {
		s.logger.Warnw("Failed to encode tree for remote cache", "rule_id", id, "error", err)
		return
	}
	if err := s.remote.Set(ctx, core.GetRuleCacheKey(id), data, s.remoteTTL); err != nil {
		s.logger.Warnw("Failed to publish tree to remote cache", "rule_id", id, "error", err)
	}
}

func (s *RuleService) invalidate(ctx context.Context, id string) {
	key := core.GetRuleCacheKey(id)
	s.cache.Remove(key)
	if s.remote == nil {
		return
	}
	if err := s.remote.Delete(ctx, key); err != nil {
		s.logger.Warnw("Failed to invalidate remote tree cache", "rule_id", id, "error", err)
	}
}

// IsNotFound reports whether err means the rule does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrRuleNotFound)
}
