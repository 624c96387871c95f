/*
errors.go - Centralized error types for the recurring engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify with errors.Is/errors.As; the API layer maps these
  to HTTP statuses.

ERROR CATEGORIES:
  1. Rule errors - Bad patterns, bad intervals, missing/inactive rules
  2. Execution errors - Claim conflicts, transaction creation failures
  3. Concurrency errors - Conditional advance losing to a user edit

SEE ALSO:
  - ledger.go: Returns ErrOccurrenceClaimed
  - engine.go: Returns TransactionCreationError, ErrConcurrentEdit
*/
package recur

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownPattern is returned when a rule references a pattern outside
	// the five recognized values. Fatal for that rule's processing this cycle.
	ErrUnknownPattern = errors.New("unknown recurrence pattern")

	// ErrPatternNotRecurring is returned when the calculator is asked to
	// advance a `once` rule. Callers must not advance one-off rules.
	ErrPatternNotRecurring = errors.New("pattern does not recur")

	// ErrInvalidInterval is returned for intervals < 1.
	ErrInvalidInterval = errors.New("interval must be at least 1")

	// ErrOccurrenceClaimed is returned when an occurrence claim already
	// exists for (rule, date). This is the expected idempotency signal, not
	// a failure: another trigger owns that occurrence.
	ErrOccurrenceClaimed = errors.New("occurrence already claimed")

	// ErrConcurrentEdit is returned when a conditional advance finds the
	// rule's schedule no longer matches what was read. Someone else changed
	// the schedule; the engine skips advancing this cycle.
	ErrConcurrentEdit = errors.New("concurrent rule edit detected")

	// ErrRuleNotFound is returned when a referenced rule doesn't exist for
	// the given owner.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrInactiveRule is returned for operations on a deactivated rule.
	// Deactivation is terminal.
	ErrInactiveRule = errors.New("rule is inactive")

	// ErrInvalidRange is returned when a projection range is malformed.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrInvalidSchedule is returned when a rule's schedule fields are
	// inconsistent (missing start, end before start).
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownPatternError reports the raw value that failed to parse.
type UnknownPatternError struct {
	Raw    string
	RuleID RuleID
}

func (e *UnknownPatternError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("rule %s: unknown recurrence pattern %q", e.RuleID, e.Raw)
	}
	return fmt.Sprintf("unknown recurrence pattern %q", e.Raw)
}

func (e *UnknownPatternError) Unwrap() error { return ErrUnknownPattern }

// InvalidIntervalError reports an out-of-range interval.
type InvalidIntervalError struct {
	RuleID   RuleID
	Interval int
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("rule %s: interval %d is invalid", e.RuleID, e.Interval)
}

func (e *InvalidIntervalError) Unwrap() error { return ErrInvalidInterval }

// TransactionCreationError wraps a transaction ledger failure for one rule.
// The engine does not advance the rule; the occurrence is retried on the
// next trigger.
type TransactionCreationError struct {
	RuleID        RuleID
	ExecutionDate Date
	Err           error
}

func (e *TransactionCreationError) Error() string {
	return fmt.Sprintf("rule %s: transaction creation failed for %s: %v",
		e.RuleID, e.ExecutionDate, e.Err)
}

func (e *TransactionCreationError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the error is an expected concurrency signal
// rather than a failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOccurrenceClaimed) || errors.Is(err, ErrConcurrentEdit)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownPattern) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInactiveRule)
}

// IsNotFound returns true if the error indicates a missing rule.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}
