/*
Package sqlite provides the SQLite-backed implementation of the engine's
persistence contracts.

PURPOSE:
  Implements recur.RuleStore, recur.ExecutionStore, and
  recur.TransactionLedger on a single SQLite database. The same patterns
  apply to PostgreSQL with only minor dialect differences.

KEY TABLES:
  recurrence_rules: Mutable rule rows (schedule advanced by the engine)
  rule_executions:  One row per fired occurrence, the idempotency mutex
  transactions:     Append-only ledger of produced transactions

CORRECTNESS ANCHORS:
  - UNIQUE(rule_id, execution_date) on rule_executions: two racing triggers
    both insert; exactly one wins, the loser observes
    recur.ErrOccurrenceClaimed.
  - ConditionalAdvance is one UPDATE guarded on owner + id + expected next
    date + is_active, so a user edit racing a scheduled advance is detected
    via RowsAffected instead of being clobbered.
  - No UPDATE or DELETE ever touches the transactions table.

WAL MODE:
  Opened with WAL for concurrent readers alongside the single writer.

USAGE:
  store, err := sqlite.New("./data/recurring.db")
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - recur/store.go: Contract definitions
  - recur/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/recurring-engine/recur"
)

// Store implements all persistence contracts using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Recurrence rules (schedule fields mutated only via ConditionalAdvance,
	-- Update, and Deactivate)
	CREATE TABLE IF NOT EXISTS recurrence_rules (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		category_id TEXT,
		tx_kind TEXT NOT NULL,
		pattern TEXT NOT NULL,
		interval INTEGER NOT NULL,
		next_execution_date TEXT NOT NULL,
		last_executed_date TEXT,
		recurrence_end_date TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_owner
		ON recurrence_rules(owner_id);

	-- Due-rule scan (hot path for the daily trigger)
	CREATE INDEX IF NOT EXISTS idx_rules_due
		ON recurrence_rules(next_execution_date)
		WHERE is_active = 1;

	-- Execution audit trail and idempotency mutex
	CREATE TABLE IF NOT EXISTS rule_executions (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL REFERENCES recurrence_rules(id) ON DELETE CASCADE,
		execution_date TEXT NOT NULL,
		transaction_id TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one execution per (rule, calendar date). This constraint is
	-- what makes RunDue idempotent under retries and overlapping triggers.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_rule_execution
		ON rule_executions(rule_id, execution_date);

	CREATE INDEX IF NOT EXISTS idx_executions_rule
		ON rule_executions(rule_id, execution_date);

	-- Produced transactions (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		rule_id TEXT,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		category_id TEXT,
		tx_kind TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_owner_date
		ON transactions(owner_id, tx_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_rule
		ON transactions(rule_id) WHERE rule_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RULE STORE (recur.RuleStore interface)
// =============================================================================

// Create persists a new rule.
func (s *Store) Create(ctx context.Context, rule recur.RecurrenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO recurrence_rules
		(id, owner_id, description, amount, category_id, tx_kind, pattern, interval,
		 next_execution_date, last_executed_date, recurrence_end_date, is_active,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		rule.ID,
		rule.OwnerID,
		rule.Description,
		rule.Amount.Value.String(),
		nullString(string(rule.CategoryID)),
		rule.Kind,
		rule.Pattern,
		rule.Interval,
		rule.NextExecutionDate.String(),
		nullDate(rule.LastExecutedDate),
		nullDate(rule.RecurrenceEndDate),
		boolToInt(rule.IsActive),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get returns the rule for (id, owner).
func (s *Store) Get(ctx context.Context, id recur.RuleID, owner recur.OwnerID) (recur.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectRule+" WHERE id = ? AND owner_id = ?", id, owner)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return recur.RecurrenceRule{}, recur.ErrRuleNotFound
	}
	return rule, err
}

// ListByOwner returns all of an owner's rules, soonest due first.
func (s *Store) ListByOwner(ctx context.Context, owner recur.OwnerID) ([]recur.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRules(ctx, selectRule+" WHERE owner_id = ? ORDER BY next_execution_date ASC", owner)
}

// FindDue returns all active rules due on or before asOf.
func (s *Store) FindDue(ctx context.Context, asOf recur.Date) ([]recur.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRules(ctx,
		selectRule+" WHERE is_active = 1 AND next_execution_date <= ? ORDER BY next_execution_date ASC",
		asOf.String())
}

// ConditionalAdvance applies the advance only if the rule is still active and
// its next execution date still equals expected. The guard makes a concurrent
// user edit observable instead of silently clobbered.
func (s *Store) ConditionalAdvance(ctx context.Context, id recur.RuleID, owner recur.OwnerID, expected recur.Date, adv recur.RuleAdvance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE recurrence_rules
		SET next_execution_date = ?,
		    last_executed_date = ?,
		    is_active = ?,
		    updated_at = ?
		WHERE id = ? AND owner_id = ? AND next_execution_date = ? AND is_active = 1
	`

	res, err := s.db.ExecContext(ctx, query,
		adv.NextExecutionDate.String(),
		adv.LastExecutedDate.String(),
		boolToInt(!adv.Deactivate),
		time.Now().UTC().Format(time.RFC3339),
		id,
		owner,
		expected.String(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance rule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Update replaces a rule's payload and schedule (explicit user edit).
// Inactive rules are immutable.
func (s *Store) Update(ctx context.Context, rule recur.RecurrenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE recurrence_rules
		SET description = ?,
		    amount = ?,
		    category_id = ?,
		    tx_kind = ?,
		    pattern = ?,
		    interval = ?,
		    next_execution_date = ?,
		    recurrence_end_date = ?,
		    updated_at = ?
		WHERE id = ? AND owner_id = ? AND is_active = 1
	`

	res, err := s.db.ExecContext(ctx, query,
		rule.Description,
		rule.Amount.Value.String(),
		nullString(string(rule.CategoryID)),
		rule.Kind,
		rule.Pattern,
		rule.Interval,
		rule.NextExecutionDate.String(),
		nullDate(rule.RecurrenceEndDate),
		time.Now().UTC().Format(time.RFC3339),
		rule.ID,
		rule.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish missing from deactivated for the caller.
		var active int
		err := s.db.QueryRowContext(ctx,
			"SELECT is_active FROM recurrence_rules WHERE id = ? AND owner_id = ?",
			rule.ID, rule.OwnerID,
		).Scan(&active)
		if err == sql.ErrNoRows {
			return recur.ErrRuleNotFound
		}
		if err != nil {
			return err
		}
		return recur.ErrInactiveRule
	}
	return nil
}

// Deactivate marks the rule inactive. Idempotent; terminal.
func (s *Store) Deactivate(ctx context.Context, id recur.RuleID, owner recur.OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE recurrence_rules SET is_active = 0, updated_at = ? WHERE id = ? AND owner_id = ?",
		time.Now().UTC().Format(time.RFC3339), id, owner,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return recur.ErrRuleNotFound
	}
	return nil
}

const selectRule = `
	SELECT id, owner_id, description, amount, category_id, tx_kind, pattern, interval,
	       next_execution_date, last_executed_date, recurrence_end_date, is_active
	FROM recurrence_rules
`

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]recur.RecurrenceRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []recur.RecurrenceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (recur.RecurrenceRule, error) {
	var (
		rule         recur.RecurrenceRule
		amount       string
		categoryID   sql.NullString
		nextDate     string
		lastExecuted sql.NullString
		endDate      sql.NullString
		isActive     int
	)

	err := row.Scan(
		&rule.ID, &rule.OwnerID, &rule.Description, &amount, &categoryID,
		&rule.Kind, &rule.Pattern, &rule.Interval,
		&nextDate, &lastExecuted, &endDate, &isActive,
	)
	if err != nil {
		return rule, err
	}

	rule.Amount, err = recur.ParseAmount(amount)
	if err != nil {
		return rule, fmt.Errorf("failed to scan rule %s: %w", rule.ID, err)
	}
	rule.CategoryID = recur.CategoryID(categoryID.String)
	rule.IsActive = isActive == 1

	if rule.NextExecutionDate, err = recur.ParseDate(nextDate); err != nil {
		return rule, fmt.Errorf("failed to scan rule %s: %w", rule.ID, err)
	}
	if rule.LastExecutedDate, err = scanNullDate(lastExecuted); err != nil {
		return rule, fmt.Errorf("failed to scan rule %s: %w", rule.ID, err)
	}
	if rule.RecurrenceEndDate, err = scanNullDate(endDate); err != nil {
		return rule, fmt.Errorf("failed to scan rule %s: %w", rule.ID, err)
	}
	return rule, nil
}

// =============================================================================
// EXECUTION STORE (recur.ExecutionStore interface)
// =============================================================================

// Insert adds an execution record. The unique index on
// (rule_id, execution_date) converts a lost race into ErrOccurrenceClaimed.
func (s *Store) Insert(ctx context.Context, rec recur.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO rule_executions (id, rule_id, execution_date, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.RuleID,
		rec.ExecutionDate.String(),
		nullString(string(rec.TransactionID)),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return recur.ErrOccurrenceClaimed
		}
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	return nil
}

// SetTransactionID attaches the produced transaction to a claim.
func (s *Store) SetTransactionID(ctx context.Context, id recur.ExecutionID, txID recur.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE rule_executions SET transaction_id = ? WHERE id = ?",
		txID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

// Delete removes an orphaned claim (compensation after a failed transaction
// creation). Idempotent.
func (s *Store) Delete(ctx context.Context, id recur.ExecutionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM rule_executions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete execution record: %w", err)
	}
	return nil
}

// ListByRule returns the rule's execution history, oldest first.
func (s *Store) ListByRule(ctx context.Context, ruleID recur.RuleID) ([]recur.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, execution_date, transaction_id, created_at
		FROM rule_executions
		WHERE rule_id = ?
		ORDER BY execution_date ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var records []recur.ExecutionRecord
	for rows.Next() {
		var (
			rec       recur.ExecutionRecord
			execDate  string
			txID      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RuleID, &execDate, &txID, &createdAt); err != nil {
			return nil, err
		}
		if rec.ExecutionDate, err = recur.ParseDate(execDate); err != nil {
			return nil, fmt.Errorf("failed to scan execution %s: %w", rec.ID, err)
		}
		rec.TransactionID = recur.TransactionID(txID.String)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = recur.DateOf(t)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// TRANSACTION LEDGER (recur.TransactionLedger interface)
// =============================================================================

// Append records a produced transaction. The transactions table is
// append-only: no update or delete path exists.
func (s *Store) Append(ctx context.Context, entry recur.LedgerEntry) (recur.TransactionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recur.TransactionID(uuid.NewString())
	query := `
		INSERT INTO transactions
		(id, owner_id, rule_id, description, amount, category_id, tx_kind, tx_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		id,
		entry.OwnerID,
		nullString(string(entry.RuleID)),
		entry.Description,
		entry.Amount.Value.String(),
		nullString(string(entry.CategoryID)),
		entry.Kind,
		entry.Date.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}
	return id, nil
}

// ProducedTransaction is a read model over the append-only transactions table.
type ProducedTransaction struct {
	ID          recur.TransactionID
	OwnerID     recur.OwnerID
	RuleID      recur.RuleID
	Description string
	Amount      recur.Amount
	CategoryID  recur.CategoryID
	Kind        recur.TransactionKind
	Date        recur.Date
}

// ListTransactionsByOwner returns an owner's produced transactions in a date
// range, oldest first.
func (s *Store) ListTransactionsByOwner(ctx context.Context, owner recur.OwnerID, from, to recur.Date) ([]ProducedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, rule_id, description, amount, category_id, tx_kind, tx_date
		FROM transactions
		WHERE owner_id = ? AND tx_date >= ? AND tx_date <= ?
		ORDER BY tx_date ASC, created_at ASC
	`, owner, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ProducedTransaction
	for rows.Next() {
		var (
			tx         ProducedTransaction
			ruleID     sql.NullString
			amount     string
			categoryID sql.NullString
			txDate     string
		)
		if err := rows.Scan(&tx.ID, &tx.OwnerID, &ruleID, &tx.Description, &amount, &categoryID, &tx.Kind, &txDate); err != nil {
			return nil, err
		}
		tx.RuleID = recur.RuleID(ruleID.String)
		tx.CategoryID = recur.CategoryID(categoryID.String)
		if tx.Amount, err = recur.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("failed to scan transaction %s: %w", tx.ID, err)
		}
		if tx.Date, err = recur.ParseDate(txDate); err != nil {
			return nil, fmt.Errorf("failed to scan transaction %s: %w", tx.ID, err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *recur.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func scanNullDate(ns sql.NullString) (*recur.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := recur.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
