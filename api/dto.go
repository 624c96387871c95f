/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model from
  the external contract. All dates cross the wire as YYYY-MM-DD strings;
  amounts as decimal strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Transport-level validation (parsing, required fields) happens in
  handlers; domain validation lives in recur.RuleService.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/recurring-engine/recur"
	"github.com/warp/recurring-engine/store/sqlite"
)

// =============================================================================
// RULE TYPES
// =============================================================================

// RuleDTO represents a recurrence rule in API responses.
type RuleDTO struct {
	ID                string  `json:"id"`
	OwnerID           string  `json:"ownerId"`
	Description       string  `json:"description"`
	Amount            string  `json:"amount"`
	CategoryID        string  `json:"categoryId,omitempty"`
	Kind              string  `json:"kind"`
	Pattern           string  `json:"pattern"`
	Interval          int     `json:"interval"`
	NextExecutionDate string  `json:"nextExecutionDate"`
	LastExecutedDate  *string `json:"lastExecutedDate,omitempty"`
	RecurrenceEndDate *string `json:"recurrenceEndDate,omitempty"`
	IsActive          bool    `json:"isActive"`
}

func toRuleDTO(r recur.RecurrenceRule) RuleDTO {
	dto := RuleDTO{
		ID:                string(r.ID),
		OwnerID:           string(r.OwnerID),
		Description:       r.Description,
		Amount:            r.Amount.String(),
		CategoryID:        string(r.CategoryID),
		Kind:              string(r.Kind),
		Pattern:           string(r.Pattern),
		Interval:          r.Interval,
		NextExecutionDate: r.NextExecutionDate.String(),
		IsActive:          r.IsActive,
	}
	if r.LastExecutedDate != nil {
		s := r.LastExecutedDate.String()
		dto.LastExecutedDate = &s
	}
	if r.RecurrenceEndDate != nil {
		s := r.RecurrenceEndDate.String()
		dto.RecurrenceEndDate = &s
	}
	return dto
}

// CreateRuleRequest is the payload for POST /api/rules.
type CreateRuleRequest struct {
	OwnerID           string `json:"ownerId"`
	Description       string `json:"description"`
	Amount            string `json:"amount"`
	CategoryID        string `json:"categoryId"`
	Kind              string `json:"kind"`
	Pattern           string `json:"pattern"`
	Interval          int    `json:"interval"`
	StartDate         string `json:"startDate"`
	RecurrenceEndDate string `json:"recurrenceEndDate,omitempty"`
}

// UpdateRuleRequest is the payload for PUT /api/rules/{id}. Nil fields are
// left unchanged; clearEndDate removes the recurrence end date.
type UpdateRuleRequest struct {
	OwnerID           string  `json:"ownerId"`
	Description       *string `json:"description,omitempty"`
	Amount            *string `json:"amount,omitempty"`
	CategoryID        *string `json:"categoryId,omitempty"`
	Kind              *string `json:"kind,omitempty"`
	Pattern           *string `json:"pattern,omitempty"`
	Interval          *int    `json:"interval,omitempty"`
	NextExecutionDate *string `json:"nextExecutionDate,omitempty"`
	RecurrenceEndDate *string `json:"recurrenceEndDate,omitempty"`
	ClearEndDate      bool    `json:"clearEndDate,omitempty"`
}

// =============================================================================
// EXECUTION / OCCURRENCE / TRANSACTION TYPES
// =============================================================================

// ExecutionDTO is one row of a rule's execution audit trail.
type ExecutionDTO struct {
	ID            string `json:"id"`
	RuleID        string `json:"ruleId"`
	ExecutionDate string `json:"executionDate"`
	TransactionID string `json:"transactionId,omitempty"`
}

func toExecutionDTO(rec recur.ExecutionRecord) ExecutionDTO {
	return ExecutionDTO{
		ID:            string(rec.ID),
		RuleID:        string(rec.RuleID),
		ExecutionDate: rec.ExecutionDate.String(),
		TransactionID: string(rec.TransactionID),
	}
}

// OccurrenceDTO is one projected occurrence.
type OccurrenceDTO struct {
	RuleID        string `json:"ruleId"`
	ExecutionDate string `json:"executionDate"`
}

// TransactionDTO is one produced ledger transaction.
type TransactionDTO struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	RuleID      string `json:"ruleId,omitempty"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	CategoryID  string `json:"categoryId,omitempty"`
	Kind        string `json:"kind"`
	Date        string `json:"date"`
}

func toTransactionDTO(tx sqlite.ProducedTransaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		OwnerID:     string(tx.OwnerID),
		RuleID:      string(tx.RuleID),
		Description: tx.Description,
		Amount:      tx.Amount.String(),
		CategoryID:  string(tx.CategoryID),
		Kind:        string(tx.Kind),
		Date:        tx.Date.String(),
	}
}

// =============================================================================
// RUN REPORT TYPES
// =============================================================================

// RunReportDTO summarizes a manual "process now" invocation.
type RunReportDTO struct {
	AsOf      string             `json:"asOf"`
	Attempted int                `json:"attempted"`
	Succeeded int                `json:"succeeded"`
	Failed    []recur.RuleFailure `json:"failed"`
	Results   []RuleResultDTO    `json:"results"`
}

// RuleResultDTO is the outcome for one rule in a run.
type RuleResultDTO struct {
	RuleID      string   `json:"ruleId"`
	Fired       []string `json:"fired,omitempty"`
	Skipped     []string `json:"skipped,omitempty"`
	Deactivated bool     `json:"deactivated,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func toRunReportDTO(report *recur.RunReport) RunReportDTO {
	dto := RunReportDTO{
		AsOf:      report.AsOf.String(),
		Attempted: report.Attempted,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Results:   []RuleResultDTO{},
	}
	if dto.Failed == nil {
		dto.Failed = []recur.RuleFailure{}
	}
	for _, res := range report.Results {
		r := RuleResultDTO{
			RuleID:      string(res.RuleID),
			Deactivated: res.Deactivated,
		}
		for _, d := range res.Fired {
			r.Fired = append(r.Fired, d.String())
		}
		for _, d := range res.Skipped {
			r.Skipped = append(r.Skipped, d.String())
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		dto.Results = append(dto.Results, r)
	}
	return dto
}
