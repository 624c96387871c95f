/*
service.go - Contract surface consumed by the controller layer

PURPOSE:
  The RuleService is the boundary the HTTP layer talks to: rule CRUD,
  the manual "process now" trigger, and owner-wide occurrence forecasting.
  Handlers validate transport concerns; this layer owns domain validation
  and owner scoping.

SEE ALSO:
  - engine.go: ProcessDueNow delegates to ExecutionEngine.RunDue
  - projection.go: ProjectOccurrences merges per-rule projections
*/
package recur

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// =============================================================================
// RULE SERVICE
// =============================================================================

type RuleService struct {
	Rules  RuleStore
	Engine *ExecutionEngine
}

func NewRuleService(rules RuleStore, engine *ExecutionEngine) *RuleService {
	return &RuleService{Rules: rules, Engine: engine}
}

// NewRuleInput is the payload for creating a rule.
type NewRuleInput struct {
	OwnerID     OwnerID
	Description string
	Amount      Amount
	CategoryID  CategoryID
	Kind        TransactionKind

	Pattern           Pattern
	Interval          int
	StartDate         Date
	RecurrenceEndDate *Date
}

// CreateRule validates and persists a new active rule. The rule's first due
// date is its start date.
func (s *RuleService) CreateRule(ctx context.Context, in NewRuleInput) (RecurrenceRule, error) {
	rule := RecurrenceRule{
		ID:                RuleID(uuid.NewString()),
		OwnerID:           in.OwnerID,
		Description:       in.Description,
		Amount:            in.Amount,
		CategoryID:        in.CategoryID,
		Kind:              in.Kind,
		Pattern:           in.Pattern,
		Interval:          in.Interval,
		NextExecutionDate: in.StartDate,
		RecurrenceEndDate: in.RecurrenceEndDate,
		IsActive:          true,
	}
	if err := rule.Validate(); err != nil {
		return RecurrenceRule{}, err
	}
	if err := s.Rules.Create(ctx, rule); err != nil {
		return RecurrenceRule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// ListRules returns all of an owner's rules.
func (s *RuleService) ListRules(ctx context.Context, owner OwnerID) ([]RecurrenceRule, error) {
	return s.Rules.ListByOwner(ctx, owner)
}

// GetRule returns one rule scoped to its owner.
func (s *RuleService) GetRule(ctx context.Context, id RuleID, owner OwnerID) (RecurrenceRule, error) {
	return s.Rules.Get(ctx, id, owner)
}

// RulePatch is a partial update from an explicit user edit. Nil fields are
// left unchanged. Editing the schedule resets it directly; this is the one
// transition not mediated by the engine.
type RulePatch struct {
	Description *string
	Amount      *Amount
	CategoryID  *CategoryID
	Kind        *TransactionKind

	Pattern           *Pattern
	Interval          *int
	NextExecutionDate *Date
	RecurrenceEndDate *Date
	ClearEndDate      bool
}

// UpdateRule applies a user edit to an active rule.
func (s *RuleService) UpdateRule(ctx context.Context, id RuleID, owner OwnerID, patch RulePatch) (RecurrenceRule, error) {
	rule, err := s.Rules.Get(ctx, id, owner)
	if err != nil {
		return RecurrenceRule{}, err
	}
	if !rule.IsActive {
		return RecurrenceRule{}, fmt.Errorf("rule %s: %w", id, ErrInactiveRule)
	}

	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Amount != nil {
		rule.Amount = *patch.Amount
	}
	if patch.CategoryID != nil {
		rule.CategoryID = *patch.CategoryID
	}
	if patch.Kind != nil {
		rule.Kind = *patch.Kind
	}
	if patch.Pattern != nil {
		rule.Pattern = *patch.Pattern
	}
	if patch.Interval != nil {
		rule.Interval = *patch.Interval
	}
	if patch.NextExecutionDate != nil {
		rule.NextExecutionDate = *patch.NextExecutionDate
	}
	if patch.ClearEndDate {
		rule.RecurrenceEndDate = nil
	} else if patch.RecurrenceEndDate != nil {
		rule.RecurrenceEndDate = patch.RecurrenceEndDate
	}

	if err := rule.Validate(); err != nil {
		return RecurrenceRule{}, err
	}
	if err := s.Rules.Update(ctx, rule); err != nil {
		return RecurrenceRule{}, err
	}
	return rule, nil
}

// DeactivateRule terminally deactivates a rule (user deletion).
func (s *RuleService) DeactivateRule(ctx context.Context, id RuleID, owner OwnerID) error {
	if _, err := s.Rules.Get(ctx, id, owner); err != nil {
		return err
	}
	return s.Rules.Deactivate(ctx, id, owner)
}

// ProcessDueNow synchronously runs all due rules as of today and returns the
// per-rule report. The manual counterpart of the daily trigger.
func (s *RuleService) ProcessDueNow(ctx context.Context) (*RunReport, error) {
	return s.Engine.RunDue(ctx, Today())
}

// ProjectOccurrences enumerates every occurrence the owner's rules would
// produce in [start, end], merged and sorted by date. Read-only.
func (s *RuleService) ProjectOccurrences(ctx context.Context, owner OwnerID, start, end Date) ([]Occurrence, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	rules, err := s.Rules.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	var out []Occurrence
	for _, rule := range rules {
		occs, err := Project(rule, start, end)
		if err != nil {
			return nil, fmt.Errorf("project rule %s: %w", rule.ID, err)
		}
		out = append(out, occs...)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutionDate.Equal(out[j].ExecutionDate) {
			return out[i].ExecutionDate.Before(out[j].ExecutionDate)
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out, nil
}
