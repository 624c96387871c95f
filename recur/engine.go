/*
engine.go - Due-rule execution orchestration

PURPOSE:
  On each trigger, finds due rules, executes each occurrence exactly once,
  and advances or deactivates the rule. Safe to invoke repeatedly for the
  same day, concurrently from two trigger sources (cron + manual "process
  now"), and with gaps (missed days are caught up one occurrence at a time).

PER-RULE SEQUENCE (must stay in this order):
  a. Claim (rule, nextExecutionDate) in the execution ledger.
     Already claimed -> no-op for this rule; another runner owns it.
  b. Create the ledger transaction from the rule's payload.
     Failure -> release the claim, do NOT advance; the next trigger
     retries the same date. An occurrence is never silently lost.
  c. Record completion on the claim.
  d. Advance (or deactivate: `once` fired, or next date past the end date)
     via a single conditional update scoped to owner+id+expected date.

  Advancing before the transaction is durable would lose the occurrence on
  a crash between the steps; the ordering above is load-bearing.

  A claim orphaned by a crash between steps (a) and (d) blocks its rule:
  every later run observes "already claimed" and skips without advancing.
  The run report's Skipped dates are the operator signal; recovery is
  releasing or completing the stuck execution record by hand.

FAILURE ISOLATION:
  One rule's failure never blocks the others. RunDue returns a structured
  per-rule report instead of aborting on first error.

SEE ALSO:
  - ledger.go: Claim protocol
  - calculator.go: Date advancement
  - store.go: RuleStore.ConditionalAdvance guard
*/
package recur

import (
	"context"
	"errors"
	"fmt"
)

// maxCatchUpSteps bounds the per-rule catch-up loop within one RunDue call.
// A healthy daily rule three days behind needs three steps; anything near
// the cap indicates corrupted state and is surfaced as an error.
const maxCatchUpSteps = 1000

// =============================================================================
// EXECUTION ENGINE
// =============================================================================

// ExecutionEngine orchestrates due-rule execution. It owns the mutable
// schedule fields of a rule during RunDue; user edits race only against the
// ConditionalAdvance guard.
type ExecutionEngine struct {
	Rules        RuleStore
	Ledger       *ExecutionLedger
	Transactions TransactionLedger
}

func NewExecutionEngine(rules RuleStore, ledger *ExecutionLedger, transactions TransactionLedger) *ExecutionEngine {
	return &ExecutionEngine{Rules: rules, Ledger: ledger, Transactions: transactions}
}

// RuleResult is the outcome of processing one due rule in a single run.
type RuleResult struct {
	RuleID      RuleID
	Fired       []Date // occurrence dates executed by this runner
	Skipped     []Date // occurrence dates already claimed elsewhere
	Deactivated bool
	Err         error
}

// RuleFailure pairs a rule with the error that stopped its processing.
type RuleFailure struct {
	RuleID RuleID `json:"ruleId"`
	Err    string `json:"error"`
}

// RunReport summarizes one RunDue invocation.
type RunReport struct {
	AsOf      Date
	Attempted int
	Succeeded int
	Failed    []RuleFailure
	Results   []RuleResult
}

// RunDue processes every active rule whose NextExecutionDate <= asOf.
// Failures are isolated per rule; the returned error covers only the due-rule
// query itself.
func (e *ExecutionEngine) RunDue(ctx context.Context, asOf Date) (*RunReport, error) {
	due, err := e.Rules.FindDue(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("find due rules: %w", err)
	}

	report := &RunReport{AsOf: asOf, Attempted: len(due)}
	for _, rule := range due {
		res := e.processRule(ctx, rule, asOf)
		report.Results = append(report.Results, res)
		if res.Err != nil {
			report.Failed = append(report.Failed, RuleFailure{RuleID: res.RuleID, Err: res.Err.Error()})
		} else {
			report.Succeeded++
		}
	}
	return report, nil
}

// processRule fires every due occurrence of one rule, oldest first. If the
// trigger was down for several days, each missed date is claimed and advanced
// sequentially; the engine never skips directly to "today".
func (e *ExecutionEngine) processRule(ctx context.Context, rule RecurrenceRule, asOf Date) RuleResult {
	res := RuleResult{RuleID: rule.ID}

	// A corrupt schedule must fail before any claim or transaction exists.
	// Claiming first would charge the occurrence and then hold the claim
	// forever, hiding the rule from every later run.
	if _, err := ParsePattern(string(rule.Pattern)); err != nil {
		res.Err = &UnknownPatternError{Raw: string(rule.Pattern), RuleID: rule.ID}
		return res
	}
	if rule.Interval < 1 {
		res.Err = &InvalidIntervalError{RuleID: rule.ID, Interval: rule.Interval}
		return res
	}

	for step := 0; rule.DueAt(asOf); step++ {
		if step >= maxCatchUpSteps {
			res.Err = fmt.Errorf("rule %s: catch-up exceeded %d steps at %s",
				rule.ID, maxCatchUpSteps, rule.NextExecutionDate)
			return res
		}

		dueDate := rule.NextExecutionDate

		claim, err := e.Ledger.TryClaim(ctx, rule.ID, dueDate)
		if errors.Is(err, ErrOccurrenceClaimed) {
			// Another runner owns this occurrence and is responsible for
			// advancing the rule. Re-advancing here would double-step.
			res.Skipped = append(res.Skipped, dueDate)
			return res
		}
		if err != nil {
			res.Err = fmt.Errorf("rule %s: claim %s: %w", rule.ID, dueDate, err)
			return res
		}

		txID, err := e.Transactions.Append(ctx, LedgerEntry{
			OwnerID:     rule.OwnerID,
			RuleID:      rule.ID,
			Description: rule.Description,
			Amount:      rule.Amount,
			CategoryID:  rule.CategoryID,
			Kind:        rule.Kind,
			Date:        dueDate,
		})
		if err != nil {
			// Compensate the claim so the next trigger retries this date.
			if relErr := e.Ledger.Release(ctx, claim); relErr != nil {
				err = errors.Join(err, fmt.Errorf("release claim %s: %w", claim.ExecutionID, relErr))
			}
			res.Err = &TransactionCreationError{RuleID: rule.ID, ExecutionDate: dueDate, Err: err}
			return res
		}

		if err := e.Ledger.RecordCompletion(ctx, claim, txID); err != nil {
			// The transaction is durable; the claim stays held so the
			// occurrence is not refired. Surface for reconciliation.
			res.Err = fmt.Errorf("rule %s: record completion for %s: %w", rule.ID, dueDate, err)
			return res
		}

		adv, err := e.fateAfterFiring(rule, dueDate)
		if err != nil {
			res.Err = err
			return res
		}

		won, err := e.Rules.ConditionalAdvance(ctx, rule.ID, rule.OwnerID, dueDate, adv)
		if err != nil {
			res.Err = fmt.Errorf("rule %s: advance from %s: %w", rule.ID, dueDate, err)
			return res
		}
		res.Fired = append(res.Fired, dueDate)
		if !won {
			// A user edit changed the schedule mid-flight. The occurrence
			// fired; the new schedule stands. Do not retry this cycle.
			res.Err = fmt.Errorf("rule %s: %w", rule.ID, ErrConcurrentEdit)
			return res
		}

		if adv.Deactivate {
			res.Deactivated = true
			return res
		}

		// Continue catch-up against the locally advanced copy.
		last := dueDate
		rule.NextExecutionDate = adv.NextExecutionDate
		rule.LastExecutedDate = &last
	}

	return res
}

// fateAfterFiring decides how the rule's schedule moves after an occurrence
// on dueDate fired: advance to the next computed date, or deactivate when
// the pattern is `once` or the next date would pass the recurrence end date.
func (e *ExecutionEngine) fateAfterFiring(rule RecurrenceRule, dueDate Date) (RuleAdvance, error) {
	if rule.Pattern == PatternOnce {
		return RuleAdvance{
			NextExecutionDate: dueDate,
			LastExecutedDate:  dueDate,
			Deactivate:        true,
		}, nil
	}

	candidate, err := Next(dueDate, rule.Pattern, rule.Interval)
	if err != nil {
		return RuleAdvance{}, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	if rule.RecurrenceEndDate != nil && candidate.After(*rule.RecurrenceEndDate) {
		return RuleAdvance{
			NextExecutionDate: dueDate,
			LastExecutedDate:  dueDate,
			Deactivate:        true,
		}, nil
	}

	return RuleAdvance{
		NextExecutionDate: candidate,
		LastExecutedDate:  dueDate,
	}, nil
}
