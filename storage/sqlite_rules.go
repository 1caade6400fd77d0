package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ruleengine/core"
	"ruleengine/metrics"
	"ruleengine/rules"

	"go.uber.org/zap"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteRuleStorage persists rule text in the rules table and each tree node
// as a row of ast_nodes, with children linked by row id.
type SQLiteRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteRuleStorage creates a rule store over an open database
func NewSQLiteRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteRuleStorage {
	return &SQLiteRuleStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

// CreateRule inserts the rule row and all of its nodes in one transaction
func (srs *SQLiteRuleStorage) CreateRule(ctx context.Context, rule *core.StoredRule, tree rules.Node) (err error) {
	defer func() { observe("create", err) }()

	if tree == nil {
		return fmt.Errorf("%w: rule %s has no tree", ErrInvalidRule, rule.ID)
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	rule.NodeCount = rules.CountLeaves(tree) + rules.CountOperators(tree)

	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	return srs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rules (id, name, rule, fingerprint, node_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rule.ID,
			nullIfEmpty(rule.Name),
			rule.Rule,
			rule.Fingerprint,
			rule.NodeCount,
			formatTimestamp(rule.CreatedAt),
			formatTimestamp(rule.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
			}
			return fmt.Errorf("failed to insert rule: %w", err)
		}

		if _, err := insertNodes(ctx, tx, rule.ID, tree); err != nil {
			return err
		}
		return nil
	})
}

// insertNodes writes a subtree bottom-up so each parent row can reference its
// children's ids, returning the id of the subtree's root row.
func insertNodes(ctx context.Context, tx *sql.Tx, ruleID string, node rules.Node) (int64, error) {
	var leftID, rightID interface{}
	var attribute, operator, literal interface{}

	switch n := node.(type) {
	case *rules.OperatorNode:
		l, err := insertNodes(ctx, tx, ruleID, n.Left)
		if err != nil {
			return 0, err
		}
		r, err := insertNodes(ctx, tx, ruleID, n.Right)
		if err != nil {
			return 0, err
		}
		leftID, rightID = l, r
	case *rules.OperandNode:
		attribute = n.Comparison.Attribute
		operator = string(n.Comparison.Operator)
		literal = n.Comparison.Literal
	default:
		return 0, fmt.Errorf("%w: unsupported node %T", rules.ErrInvalidTree, node)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ast_nodes (rule_id, node_type, value, attribute, operator, literal, left_child, right_child)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ruleID, node.Type().String(), node.Value(), attribute, operator, literal, leftID, rightID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert AST node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read AST node id: %w", err)
	}
	return id, nil
}

const ruleColumns = `id, name, rule, fingerprint, node_count, created_at, updated_at`

// GetRule retrieves a rule by id
func (srs *SQLiteRuleStorage) GetRule(ctx context.Context, id string) (*core.StoredRule, error) {
	row := srs.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// GetRules returns rules ordered by creation time, newest first
func (srs *SQLiteRuleStorage) GetRules(ctx context.Context, limit int, offset int) ([]core.StoredRule, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := srs.sqlite.ReadDB.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	result := make([]core.StoredRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return result, nil
}

// GetRuleCount returns the number of stored rules
func (srs *SQLiteRuleStorage) GetRuleCount(ctx context.Context) (int64, error) {
	var count int64
	if err := srs.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return count, nil
}

// LoadNodes returns the stored node rows of a rule, with row ids as record ids
func (srs *SQLiteRuleStorage) LoadNodes(ctx context.Context, id string) ([]rules.NodeRecord, error) {
	if _, err := srs.GetRule(ctx, id); err != nil {
		return nil, err
	}
	return queryNodes(ctx, srs.sqlite.ReadDB, id)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryNodes(ctx context.Context, q queryer, id string) ([]rules.NodeRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, node_type, value, attribute, operator, literal, left_child, right_child
		FROM ast_nodes WHERE rule_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query AST nodes: %w", err)
	}
	defer rows.Close()

	var records []rules.NodeRecord
	for rows.Next() {
		var rec rules.NodeRecord
		var rowID int64
		var attribute, operator, literal sql.NullString
		var left, right sql.NullInt64
		if err := rows.Scan(&rowID, &rec.Type, &rec.Value, &attribute, &operator, &literal, &left, &right); err != nil {
			return nil, fmt.Errorf("failed to scan AST node: %w", err)
		}
		rec.ID = int(rowID)
		rec.Attribute = attribute.String
		rec.Operator = operator.String
		rec.Literal = literal.String
		if left.Valid {
			l := int(left.Int64)
			rec.Left = &l
		}
		if right.Valid {
			r := int(right.Int64)
			rec.Right = &r
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate AST nodes: %w", err)
	}
	return records, nil
}

func rebuildTree(id string, records []rules.NodeRecord) (rules.Node, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: rule %s has no stored nodes", rules.ErrInvalidTree, id)
	}
	tree, err := rules.Rebuild(records)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild rule %s: %w", id, err)
	}
	return tree, nil
}

// LoadTree rebuilds the stored tree of a rule
func (srs *SQLiteRuleStorage) LoadTree(ctx context.Context, id string) (node rules.Node, err error) {
	defer func() { observe("load_tree", err) }()

	records, err := srs.LoadNodes(ctx, id)
	if err != nil {
		return nil, err
	}
	return rebuildTree(id, records)
}

// EditFunc derives a new tree from a stored one. It runs inside a write
// transaction and must not call back into the store.
type EditFunc func(tree rules.Node) (rules.Node, error)

// EditRuleTree loads a rule's tree, applies fn and writes the result in one
// transaction. The write is conditional on updated_at still holding the value
// that was read, so an edit committed by another writer in between yields
// ErrConflict instead of being overwritten. An error from fn is returned
// unchanged and nothing is written.
func (srs *SQLiteRuleStorage) EditRuleTree(ctx context.Context, id string, fn EditFunc) (rule *core.StoredRule, tree rules.Node, err error) {
	defer func() { observe("edit", err) }()

	err = srs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var stamp string
		err := tx.QueryRowContext(ctx, `SELECT updated_at FROM rules WHERE id = ?`, id).Scan(&stamp)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRuleNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read rule: %w", err)
		}
		previous, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return fmt.Errorf("failed to parse updated_at for rule %s: %w", id, err)
		}

		records, err := queryNodes(ctx, tx, id)
		if err != nil {
			return err
		}
		current, err := rebuildTree(id, records)
		if err != nil {
			return err
		}

		updated, err := fn(current)
		if err != nil {
			return err
		}
		if updated == nil {
			return fmt.Errorf("%w: rule %s would have no conditions left", ErrInvalidRule, id)
		}

		text := rules.String(updated)
		res, err := tx.ExecContext(ctx, `
			UPDATE rules SET rule = ?, fingerprint = ?, node_count = ?, updated_at = ?
			WHERE id = ? AND updated_at = ?`,
			text, core.Fingerprint(text),
			rules.CountLeaves(updated)+rules.CountOperators(updated),
			formatTimestamp(nextTimestamp(previous)),
			id, stamp,
		)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if affected == 0 {
			return fmt.Errorf("%w: %s", ErrConflict, id)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM ast_nodes WHERE rule_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete AST nodes: %w", err)
		}
		if _, err := insertNodes(ctx, tx, id, updated); err != nil {
			return err
		}

		rule, err = scanRule(tx.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("failed to reload rule: %w", err)
		}
		tree = updated
		return nil
	})
	if isBusy(err) {
		// another connection committed after our read snapshot
		err = fmt.Errorf("%w: %s: %v", ErrConflict, id, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return rule, tree, nil
}

// DeleteRule deletes a rule; its nodes are removed by cascade
func (srs *SQLiteRuleStorage) DeleteRule(ctx context.Context, id string) (err error) {
	defer func() { observe("delete", err) }()

	res, err := srs.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	srs.logger.Infow("Rule deleted", "rule_id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*core.StoredRule, error) {
	var rule core.StoredRule
	var name sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&rule.ID, &name, &rule.Rule, &rule.Fingerprint, &rule.NodeCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rule.Name = name.String

	var err error
	// RFC3339Nano parsing also accepts the fixed-width layout
	rule.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for rule %s: %w", rule.ID, err)
	}
	rule.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}

// timestampLayout is fixed width so that string order in SQLite matches time
// order. time.RFC3339Nano trims trailing zeros and does not.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// nextTimestamp returns the current time, or previous plus 1ns when the clock
// has not moved past it, so every edit changes updated_at.
func nextTimestamp(previous time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(previous) {
		return previous.Add(time.Nanosecond)
	}
	return now
}

// nullIfEmpty returns nil for empty strings so they are stored as NULL
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusy(err error) bool {
	var se *sqlitedriver.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_BUSY
}

func observe(op string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrRuleNotFound):
		result = "not_found"
	case errors.Is(err, ErrConflict):
		result = "conflict"
	case err != nil:
		result = "error"
	}
	metrics.StorageOperations.WithLabelValues(op, result).Inc()
}
