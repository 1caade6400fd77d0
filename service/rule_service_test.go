package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ruleengine/core"
	"ruleengine/rules"
	"ruleengine/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const validRule = "((age > 30 AND department = 'Sales') OR (salary <= 50000))"

var matchingAttrs = core.Attributes{
	"age":        core.IntValue(35),
	"department": core.TextValue("Sales"),
	"salary":     core.IntValue(45000),
	"experience": core.IntValue(5),
}

func newTestStore(t *testing.T) *storage.SQLiteRuleStorage {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "rules.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return storage.NewSQLiteRuleStorage(sqlite, logger)
}

func newTestService(t *testing.T, store RuleStore, opts Options) *RuleService {
	t.Helper()
	return NewRuleService(store, zaptest.NewLogger(t).Sugar(), opts)
}

func TestNewRuleService_RequiresLogger(t *testing.T) {
	assert.Panics(t, func() { NewRuleService(nil, nil, Options{}) })
}

func TestRuleService_ParseCachesByFingerprint(t *testing.T) {
	svc := newTestService(t, nil, Options{})

	first, err := svc.Parse("age > 30 AND salary < 5")
	require.NoError(t, err)

	// Same fingerprint after whitespace normalization
	second, err := svc.Parse("age > 30   AND  salary < 5")
	require.NoError(t, err)
	assert.Same(t, first.(*rules.OperatorNode), second.(*rules.OperatorNode))
	assert.Equal(t, 1, svc.cache.Len())

	_, err = svc.Parse("age > 31 AND salary < 5")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.cache.Len())
}

func TestRuleService_ParseErrorsAreNotCached(t *testing.T) {
	svc := newTestService(t, nil, Options{})

	err := svc.Validate("((age > 30)")
	assert.ErrorIs(t, err, rules.ErrUnbalancedParentheses)

	err = svc.Validate("AND age > 30")
	assert.ErrorIs(t, err, rules.ErrUnexpectedOperator)

	err = svc.Validate("height > 30")
	assert.ErrorIs(t, err, rules.ErrUnknownAttribute)

	assert.Equal(t, 0, svc.cache.Len())
}

func TestRuleService_CustomCatalog(t *testing.T) {
	catalog, err := core.NewCatalog(
		core.Attribute{Name: "height", Kind: core.KindInteger},
		core.Attribute{Name: "team", Kind: core.KindText},
	)
	require.NoError(t, err)
	svc := newTestService(t, nil, Options{Catalog: catalog})

	assert.Same(t, catalog, svc.Catalog())
	ok, err := svc.Evaluate(context.Background(), "height >= 180 AND team = 'blue'", core.Attributes{
		"height": core.IntValue(185),
		"team":   core.TextValue("blue"),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, svc.Validate("age > 30"), rules.ErrUnknownAttribute)
}

func TestRuleService_Evaluate(t *testing.T) {
	svc := newTestService(t, nil, Options{})
	ctx := context.Background()

	ok, err := svc.Evaluate(ctx, validRule, matchingAttrs)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Evaluate(ctx, validRule, core.Attributes{
		"age":        core.IntValue(25),
		"department": core.TextValue("Engineering"),
		"salary":     core.IntValue(60000),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Evaluate(ctx, validRule, core.Attributes{"age": core.IntValue(40)})
	assert.ErrorIs(t, err, rules.ErrAttributeNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = svc.Evaluate(cancelled, validRule, matchingAttrs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRuleService_CombineRules(t *testing.T) {
	svc := newTestService(t, nil, Options{})

	_, err := svc.CombineRules(nil, rules.And)
	assert.ErrorIs(t, err, ErrNoRules)

	tree, err := svc.CombineRules([]string{"age > 30", "salary < 50000", "department = 'Sales'"}, rules.Or)
	require.NoError(t, err)
	assert.Equal(t, "((age > 30 OR salary < 50000) OR department = 'Sales')", rules.String(tree))

	single, err := svc.CombineRules([]string{"age > 30"}, rules.And)
	require.NoError(t, err)
	assert.Equal(t, "age > 30", rules.String(single))

	_, err = svc.CombineRules([]string{"age > 30", "age >"}, rules.And)
	assert.ErrorIs(t, err, rules.ErrIncompleteExpression)
	assert.Contains(t, err.Error(), "rule 1")
}

func TestRuleService_WithoutStore(t *testing.T) {
	svc := newTestService(t, nil, Options{})
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, "r", "age > 30")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	_, err = svc.ListRules(ctx, 10, 0)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	_, err = svc.EvaluateStored(ctx, uuid.New().String(), matchingAttrs)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestRuleService_StoredRuleLifecycle(t *testing.T) {
	svc := newTestService(t, newTestStore(t), Options{})
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "sales seniors", validRule)
	require.NoError(t, err)
	_, err = uuid.Parse(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Fingerprint(validRule), rule.Fingerprint)
	assert.Equal(t, 5, rule.NodeCount)

	got, err := svc.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, validRule, got.Rule)

	page, err := svc.ListRules(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, defaultRulePageSize, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, rule.ID, page.Items[0].ID)

	page, err = svc.ListRules(ctx, maxRulePageSize+1, -3)
	require.NoError(t, err)
	assert.Equal(t, maxRulePageSize, page.Limit)
	assert.Equal(t, 0, page.Offset)

	ok, err := svc.EvaluateStored(ctx, rule.ID, matchingAttrs)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.DeleteRule(ctx, rule.ID))
	_, err = svc.GetRule(ctx, rule.ID)
	assert.True(t, IsNotFound(err))
	_, err = svc.EvaluateStored(ctx, rule.ID, matchingAttrs)
	assert.True(t, IsNotFound(err))
}

func TestRuleService_InvalidRuleID(t *testing.T) {
	svc := newTestService(t, newTestStore(t), Options{})
	ctx := context.Background()

	_, err := svc.GetRule(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidRuleID)
	assert.ErrorIs(t, svc.DeleteRule(ctx, "../etc"), ErrInvalidRuleID)
}

func TestRuleService_AddAndRemoveCondition(t *testing.T) {
	svc := newTestService(t, newTestStore(t), Options{})
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "", "age > 30")
	require.NoError(t, err)

	updated, err := svc.AddCondition(ctx, rule.ID, "salary < 50000", rules.And)
	require.NoError(t, err)
	assert.Equal(t, "(age > 30 AND salary < 50000)", updated.Rule)
	assert.Equal(t, 3, updated.NodeCount)

	ok, err := svc.EvaluateStored(ctx, rule.ID, core.Attributes{"age": core.IntValue(40), "salary": core.IntValue(60000)})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.AddCondition(ctx, rule.ID, "height > 3", rules.Or)
	assert.ErrorIs(t, err, rules.ErrUnknownAttribute)

	_, err = svc.RemoveCondition(ctx, rule.ID, "experience > 1")
	assert.ErrorIs(t, err, ErrConditionNotFound)

	updated, err = svc.RemoveCondition(ctx, rule.ID, "salary < 50000")
	require.NoError(t, err)
	assert.Equal(t, "age > 30", updated.Rule)

	ok, err = svc.EvaluateStored(ctx, rule.ID, core.Attributes{"age": core.IntValue(40), "salary": core.IntValue(60000)})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.RemoveCondition(ctx, rule.ID, "age > 30")
	assert.ErrorIs(t, err, ErrEmptyRule)
}

func TestRuleService_ConcurrentEditsAreKept(t *testing.T) {
	svc := newTestService(t, newTestStore(t), Options{})
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "", "age > 30")
	require.NoError(t, err)

	const editors = 8
	var wg sync.WaitGroup
	errs := make(chan error, editors)
	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddCondition(ctx, rule.ID, fmt.Sprintf("salary > %d", 1000*(i+1)), rules.And)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tree, err := svc.LoadTree(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, editors+1, rules.CountLeaves(tree))

	stored, err := svc.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rules.String(tree), stored.Rule)
}

// conflictingStore fails the first n edits with storage.ErrConflict
type conflictingStore struct {
	RuleStore
	conflicts int
	calls     int
}

func (c *conflictingStore) EditRuleTree(ctx context.Context, id string, fn storage.EditFunc) (*core.StoredRule, rules.Node, error) {
	c.calls++
	if c.calls <= c.conflicts {
		return nil, nil, storage.ErrConflict
	}
	return c.RuleStore.EditRuleTree(ctx, id, fn)
}

func TestRuleService_EditRetriesConflicts(t *testing.T) {
	store := &conflictingStore{RuleStore: newTestStore(t), conflicts: maxEditAttempts - 1}
	svc := newTestService(t, store, Options{})
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "", "age > 30")
	require.NoError(t, err)

	updated, err := svc.AddCondition(ctx, rule.ID, "salary < 50000", rules.And)
	require.NoError(t, err)
	assert.Equal(t, "(age > 30 AND salary < 50000)", updated.Rule)
	assert.Equal(t, maxEditAttempts, store.calls)

	store.calls, store.conflicts = 0, maxEditAttempts
	_, err = svc.AddCondition(ctx, rule.ID, "experience > 2", rules.And)
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, maxEditAttempts, store.calls)

	tree, err := svc.LoadTree(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "(age > 30 AND salary < 50000)", rules.String(tree))
}

func TestRuleService_UpdateNode(t *testing.T) {
	svc := newTestService(t, newTestStore(t), Options{})
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "", validRule)
	require.NoError(t, err)

	updated, err := svc.UpdateNode(ctx, rule.ID, "", "AND")
	require.NoError(t, err)
	assert.Equal(t, "((age > 30 AND department = 'Sales') AND salary <= 50000)", updated.Rule)

	updated, err = svc.UpdateNode(ctx, rule.ID, "LR", "department = 'Marketing'")
	require.NoError(t, err)
	assert.Equal(t, "((age > 30 AND department = 'Marketing') AND salary <= 50000)", updated.Rule)

	_, err = svc.UpdateNode(ctx, rule.ID, "R", "OR")
	assert.ErrorIs(t, err, rules.ErrInvalidAttribute)

	_, err = svc.UpdateNode(ctx, rule.ID, "L", "XOR")
	assert.ErrorIs(t, err, rules.ErrNotAnOperator)

	_, err = svc.UpdateNode(ctx, rule.ID, "RL", "age > 1")
	assert.ErrorIs(t, err, rules.ErrNotAnOperator)

	_, err = svc.UpdateNode(ctx, rule.ID, "LX", "age > 1")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

// failingStore serves rule rows but cannot load trees
type failingStore struct {
	RuleStore
	loads int
}

func (f *failingStore) LoadTree(ctx context.Context, id string) (rules.Node, error) {
	f.loads++
	return nil, errors.New("store offline")
}

func TestRuleService_RemoteCacheServesTrees(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := core.NewRedisCache(mr.Addr(), "", 0, 5, zaptest.NewLogger(t).Sugar())
	defer redisCache.Close()

	store := newTestStore(t)
	writer := newTestService(t, store, Options{Remote: redisCache, RemoteTTL: time.Minute})
	ctx := context.Background()

	rule, err := writer.CreateRule(ctx, "", validRule)
	require.NoError(t, err)

	// CreateRule only fills the memory cache; the first store load publishes
	writer.cache.Purge()
	_, err = writer.LoadTree(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(core.GetRuleCacheKey(rule.ID)))
	assert.Equal(t, time.Minute, mr.TTL(core.GetRuleCacheKey(rule.ID)))

	offline := &failingStore{RuleStore: store}
	reader := newTestService(t, offline, Options{Remote: redisCache})
	ok, err := reader.EvaluateStored(ctx, rule.ID, matchingAttrs)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, offline.loads)

	// Deleting through the writer invalidates the shared entry
	require.NoError(t, writer.DeleteRule(ctx, rule.ID))
	assert.False(t, mr.Exists(core.GetRuleCacheKey(rule.ID)))

	_, err = newTestService(t, offline, Options{Remote: redisCache}).LoadTree(ctx, rule.ID)
	assert.Error(t, err)
	assert.Equal(t, 1, offline.loads)
}

func TestRuleService_RemoteCacheFailureFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := core.NewRedisCache(mr.Addr(), "", 0, 5, zaptest.NewLogger(t).Sugar())
	defer redisCache.Close()

	store := newTestStore(t)
	svc := newTestService(t, store, Options{Remote: redisCache})
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "", "age > 30")
	require.NoError(t, err)
	svc.cache.Purge()

	require.NoError(t, mr.Set(core.GetRuleCacheKey(rule.ID), "garbage"))
	ok, err := svc.EvaluateStored(ctx, rule.ID, core.Attributes{"age": core.IntValue(31)})
	require.NoError(t, err)
	assert.True(t, ok)

	svc.cache.Purge()
	mr.Close()
	ok, err = svc.EvaluateStored(ctx, rule.ID, core.Attributes{"age": core.IntValue(31)})
	require.NoError(t, err)
	assert.True(t, ok)
}
