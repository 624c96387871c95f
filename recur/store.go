/*
store.go - Persistence contracts for rules, executions, and transactions

PURPOSE:
  Defines the interfaces between the engine and its collaborators. The
  engine never touches SQL; correctness rests on two store-level guarantees:

  1. ExecutionStore.Insert enforces UNIQUE(rule_id, execution_date). That
     constraint is the distributed mutex per occurrence: whichever caller's
     insert succeeds owns it, every other caller observes
     ErrOccurrenceClaimed.

  2. RuleStore.ConditionalAdvance is a single atomic guarded update scoped
     to owner+id+expected next date, so a scheduled advance never silently
     clobbers a concurrent user edit.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - recur/store: In-memory for testing/dev

SEE ALSO:
  - ledger.go: ExecutionLedger built on ExecutionStore
  - engine.go: Orchestrates all three contracts
*/
package recur

import "context"

// =============================================================================
// RULE STORE
// =============================================================================

// RuleAdvance is the mutation applied to a rule after a fired occurrence.
type RuleAdvance struct {
	NextExecutionDate Date
	LastExecutedDate  Date
	Deactivate        bool
}

// RuleStore persists recurrence rules.
type RuleStore interface {
	// Create persists a new rule.
	Create(ctx context.Context, rule RecurrenceRule) error

	// Get returns the rule for (id, owner), or ErrRuleNotFound.
	Get(ctx context.Context, id RuleID, owner OwnerID) (RecurrenceRule, error)

	// ListByOwner returns all of an owner's rules, active and inactive.
	ListByOwner(ctx context.Context, owner OwnerID) ([]RecurrenceRule, error)

	// FindDue returns all active rules with NextExecutionDate <= asOf.
	FindDue(ctx context.Context, asOf Date) ([]RecurrenceRule, error)

	// ConditionalAdvance applies adv to the rule only if it is still active
	// and its NextExecutionDate still equals expected. Returns false when the
	// guard fails (concurrent user edit or concurrent advance); the caller
	// must not retry within the same cycle.
	ConditionalAdvance(ctx context.Context, id RuleID, owner OwnerID, expected Date, adv RuleAdvance) (bool, error)

	// Update replaces a rule's payload and schedule (explicit user edit).
	// Fails with ErrInactiveRule for deactivated rules.
	Update(ctx context.Context, rule RecurrenceRule) error

	// Deactivate marks the rule inactive. Terminal; idempotent.
	Deactivate(ctx context.Context, id RuleID, owner OwnerID) error
}

// =============================================================================
// EXECUTION STORE
// =============================================================================

// ExecutionStore persists execution records. Insert is the claim primitive.
type ExecutionStore interface {
	// Insert adds an execution record. Returns ErrOccurrenceClaimed if a
	// record for (RuleID, ExecutionDate) already exists.
	Insert(ctx context.Context, rec ExecutionRecord) error

	// SetTransactionID attaches the produced transaction to a claim.
	SetTransactionID(ctx context.Context, id ExecutionID, txID TransactionID) error

	// Delete removes an orphaned claim so the occurrence can be retried.
	// This is the only deletion path outside rule-deletion cascade.
	Delete(ctx context.Context, id ExecutionID) error

	// ListByRule returns the rule's execution history, oldest first.
	ListByRule(ctx context.Context, ruleID RuleID) ([]ExecutionRecord, error)
}

// =============================================================================
// TRANSACTION LEDGER - External collaborator
// =============================================================================

// TransactionLedger creates the concrete ledger transactions the engine
// produces. It must fail loudly: a swallowed error here would let the engine
// advance past an occurrence that never materialized.
type TransactionLedger interface {
	Append(ctx context.Context, entry LedgerEntry) (TransactionID, error)
}
