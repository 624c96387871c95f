/*
ledger.go - Idempotent execution claims

PURPOSE:
  The ExecutionLedger records one row per (rule, execution date) and uses
  the uniqueness of that pair to guarantee each occurrence fires exactly
  once, no matter how many triggers race for it.

CLAIM PROTOCOL:
  1. TryClaim inserts the execution record. Success means "you are the
     exclusive executor of this occurrence".
  2. The caller creates the ledger transaction.
  3. RecordCompletion attaches the transaction id to the claim.
  4. If step 2 fails, Release deletes the claim so the occurrence is
     retried on the next trigger instead of being permanently stuck in a
     claimed-but-incomplete state.

ALREADY CLAIMED:
  ErrOccurrenceClaimed from TryClaim is not an error condition. It is the
  expected idempotency signal: another runner (cron vs. manual trigger,
  or a prior invocation for the same day) owns the occurrence. Callers
  skip silently.

SEE ALSO:
  - store.go: ExecutionStore contract backing this type
  - engine.go: The only writer through this ledger
*/
package recur

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// EXECUTION LEDGER
// =============================================================================

// Claim is a successfully reserved occurrence.
type Claim struct {
	ExecutionID   ExecutionID
	RuleID        RuleID
	ExecutionDate Date
}

// ExecutionLedger mediates all writes to the execution audit trail.
type ExecutionLedger struct {
	store ExecutionStore
}

func NewExecutionLedger(store ExecutionStore) *ExecutionLedger {
	return &ExecutionLedger{store: store}
}

// TryClaim attempts to reserve (ruleID, date) for execution. Returns
// ErrOccurrenceClaimed when another trigger already holds the occurrence.
func (l *ExecutionLedger) TryClaim(ctx context.Context, ruleID RuleID, date Date) (Claim, error) {
	rec := ExecutionRecord{
		ID:            ExecutionID(uuid.NewString()),
		RuleID:        ruleID,
		ExecutionDate: date,
		CreatedAt:     Today(),
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return Claim{}, err
	}
	return Claim{ExecutionID: rec.ID, RuleID: ruleID, ExecutionDate: date}, nil
}

// RecordCompletion attaches the durably created transaction to the claim.
func (l *ExecutionLedger) RecordCompletion(ctx context.Context, claim Claim, txID TransactionID) error {
	if txID == "" {
		return fmt.Errorf("claim %s: empty transaction id", claim.ExecutionID)
	}
	return l.store.SetTransactionID(ctx, claim.ExecutionID, txID)
}

// Release compensates an orphaned claim after a failed transaction creation
// so the occurrence is retried rather than lost.
func (l *ExecutionLedger) Release(ctx context.Context, claim Claim) error {
	return l.store.Delete(ctx, claim.ExecutionID)
}

// History returns the rule's execution records, oldest first. Read-only.
func (l *ExecutionLedger) History(ctx context.Context, ruleID RuleID) ([]ExecutionRecord, error) {
	return l.store.ListByRule(ctx, ruleID)
}
