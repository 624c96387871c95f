/*
Package recur implements the recurring-transaction scheduling engine.

PURPOSE:
  This package turns a user-defined recurrence rule ("50 subscription,
  monthly, starting Jan 31") into concrete ledger transactions on a timeline,
  exactly once per due date, and answers "what will fire between date A and
  date B" for forecasting.

KEY CONCEPTS IN THIS FILE (types.go):
  - RecurrenceRule: The user-defined template (payload + schedule)
  - Pattern: Closed set of recurrence patterns (once/daily/weekly/monthly/yearly)
  - ExecutionRecord: One row per fired occurrence, unique per (rule, date)
  - Occurrence: Transient projection result, never persisted
  - Amount: Signed money value using decimal.Decimal

DESIGN PRINCIPLES:
  1. Idempotency: (RuleID, ExecutionDate) uniqueness makes execution exactly-once
  2. Precision: decimal.Decimal, never float, for money
  3. Closed enums: Pattern is validated at construction, not dispatched on
     free-form strings
  4. Day granularity: all scheduling dates are calendar dates (see date.go)

SEE ALSO:
  - calculator.go: Date advancement per pattern
  - engine.go: Due-rule execution orchestration
  - projection.go: Read-only occurrence enumeration
*/
package recur

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Signed money value
// =============================================================================

// Amount is a signed money value. Expenses are negative, income positive;
// the engine copies it verbatim into produced transactions.
type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value)}
}

func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Value: d}, nil
}

func (a Amount) IsZero() bool     { return a.Value.IsZero() }
func (a Amount) Neg() Amount      { return Amount{Value: a.Value.Neg()} }
func (a Amount) String() string   { return a.Value.String() }
func (a Amount) Equal(b Amount) bool { return a.Value.Equal(b.Value) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RuleID string
type OwnerID string
type ExecutionID string
type TransactionID string
type CategoryID string

// =============================================================================
// PATTERN - Closed recurrence pattern enum
// =============================================================================

// Pattern is the recurrence pattern of a rule. The set is closed: values are
// produced only by ParsePattern or the constants below, so an unrecognized
// pattern is a construction-time error rather than a silent runtime default.
type Pattern string

const (
	PatternOnce    Pattern = "once"
	PatternDaily   Pattern = "daily"
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
	PatternYearly  Pattern = "yearly"
)

// ParsePattern validates a raw pattern string.
func ParsePattern(s string) (Pattern, error) {
	switch Pattern(s) {
	case PatternOnce, PatternDaily, PatternWeekly, PatternMonthly, PatternYearly:
		return Pattern(s), nil
	}
	return "", &UnknownPatternError{Raw: s}
}

// IsRecurring reports whether the pattern repeats. Only `once` does not.
func (p Pattern) IsRecurring() bool { return p != PatternOnce }

// =============================================================================
// TRANSACTION KIND - Tag replicated into produced transactions
// =============================================================================

type TransactionKind string

const (
	KindExpense  TransactionKind = "expense"
	KindIncome   TransactionKind = "income"
	KindTransfer TransactionKind = "transfer"
)

func ParseTransactionKind(s string) (TransactionKind, error) {
	switch TransactionKind(s) {
	case KindExpense, KindIncome, KindTransfer:
		return TransactionKind(s), nil
	}
	return "", fmt.Errorf("unknown transaction kind %q", s)
}

// =============================================================================
// RECURRENCE RULE
// =============================================================================

// RecurrenceRule is a user-defined template describing a repeating (or
// one-off) financial transaction and its schedule.
//
// INVARIANTS:
//   - NextExecutionDate is monotonically non-decreasing over the rule's life
//   - IsActive never transitions false -> true (deactivation is terminal)
//   - If RecurrenceEndDate is set, no execution is recorded after it
type RecurrenceRule struct {
	ID      RuleID
	OwnerID OwnerID

	// Payload replicated into produced transactions
	Description string
	Amount      Amount
	CategoryID  CategoryID
	Kind        TransactionKind

	// Schedule
	Pattern           Pattern
	Interval          int // count of pattern units between occurrences, >= 1
	NextExecutionDate Date
	LastExecutedDate  *Date
	RecurrenceEndDate *Date
	IsActive          bool
}

// Validate checks construction-time invariants.
func (r RecurrenceRule) Validate() error {
	if _, err := ParsePattern(string(r.Pattern)); err != nil {
		return err
	}
	if r.Interval < 1 {
		return &InvalidIntervalError{RuleID: r.ID, Interval: r.Interval}
	}
	if r.NextExecutionDate.IsZero() {
		return fmt.Errorf("rule %s: next execution date is required: %w", r.ID, ErrInvalidSchedule)
	}
	if r.RecurrenceEndDate != nil && r.RecurrenceEndDate.Before(r.NextExecutionDate) {
		return fmt.Errorf("rule %s: recurrence end date %s precedes next execution %s: %w",
			r.ID, r.RecurrenceEndDate, r.NextExecutionDate, ErrInvalidSchedule)
	}
	return nil
}

// DueAt reports whether the rule is due on or before asOf.
func (r RecurrenceRule) DueAt(asOf Date) bool {
	return r.IsActive && r.NextExecutionDate.BeforeOrEqual(asOf)
}

// =============================================================================
// EXECUTION RECORD - One row per fired occurrence
// =============================================================================

// ExecutionRecord is the audit row recording that a rule's occurrence on a
// specific calendar date was executed. The pair (RuleID, ExecutionDate) is
// unique; that constraint is what makes execution idempotent under retries,
// overlapping triggers, or manual + automatic runs colliding.
type ExecutionRecord struct {
	ID            ExecutionID
	RuleID        RuleID
	ExecutionDate Date
	TransactionID TransactionID // set after the produced transaction is durable
	CreatedAt     Date
}

// =============================================================================
// OCCURRENCE - Transient projection output
// =============================================================================

// Occurrence is a projected firing of a rule. It carries no identity beyond
// the (rule, date) pair and is never persisted.
type Occurrence struct {
	RuleID        RuleID
	ExecutionDate Date
}

// =============================================================================
// LEDGER ENTRY - Payload handed to the transaction ledger collaborator
// =============================================================================

// LedgerEntry is the payload for one produced transaction. The transaction
// entity itself is an opaque append-only record owned by the ledger
// collaborator; the engine only supplies its contents.
type LedgerEntry struct {
	OwnerID     OwnerID
	RuleID      RuleID
	Description string
	Amount      Amount
	CategoryID  CategoryID
	Kind        TransactionKind
	Date        Date
}
