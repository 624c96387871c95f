/*
handlers.go - HTTP API handlers for the recurring-transaction engine

PURPOSE:
  Exposes the engine via REST. Handlers stay thin: parse, validate
  transport concerns, delegate to recur.RuleService, serialize.

ENDPOINTS:
  Rules:
    GET    /api/rules?owner=             List an owner's rules
    POST   /api/rules                    Create rule
    GET    /api/rules/{id}?owner=        Get rule
    PUT    /api/rules/{id}               Update rule (user edit)
    DELETE /api/rules/{id}?owner=        Deactivate rule (terminal)
    GET    /api/rules/{id}/executions    Execution audit trail

  Forecasting:
    GET    /api/occurrences?owner=&from=&to=  Projected occurrences

  Transactions:
    GET    /api/transactions?owner=&from=&to= Produced transactions

  Admin:
    POST   /api/admin/process            Run all due rules now

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Rule not found
  - 409: Conflict (inactive rule edit, concurrent modification)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/recurring-engine/recur"
	"github.com/warp/recurring-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Service *recur.RuleService
	Ledger  *recur.ExecutionLedger
}

// NewHandler wires the service and ledger on top of the given store.
func NewHandler(store *sqlite.Store) *Handler {
	ledger := recur.NewExecutionLedger(store)
	engine := recur.NewExecutionEngine(store, ledger, store)
	return &Handler{
		Store:   store,
		Service: recur.NewRuleService(store, engine),
		Ledger:  ledger,
	}
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all rules for an owner.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	rules, err := h.Service.ListRules(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule creates a new recurrence rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required", nil)
		return
	}

	pattern, err := recur.ParsePattern(req.Pattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pattern", err)
		return
	}
	kind, err := recur.ParseTransactionKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction kind", err)
		return
	}
	amount, err := recur.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	startDate, err := recur.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid startDate", err)
		return
	}

	var endDate *recur.Date
	if req.RecurrenceEndDate != "" {
		d, err := recur.ParseDate(req.RecurrenceEndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid recurrenceEndDate", err)
			return
		}
		endDate = &d
	}

	rule, err := h.Service.CreateRule(r.Context(), recur.NewRuleInput{
		OwnerID:           recur.OwnerID(req.OwnerID),
		Description:       req.Description,
		Amount:            amount,
		CategoryID:        recur.CategoryID(req.CategoryID),
		Kind:              kind,
		Pattern:           pattern,
		Interval:          req.Interval,
		StartDate:         startDate,
		RecurrenceEndDate: endDate,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRuleDTO(rule))
}

// GetRule returns a single rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := recur.RuleID(chi.URLParam(r, "id"))

	rule, err := h.Service.GetRule(r.Context(), id, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(rule))
}

// UpdateRule applies a user edit to a rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required", nil)
		return
	}
	id := recur.RuleID(chi.URLParam(r, "id"))

	patch := recur.RulePatch{
		Description:  req.Description,
		Interval:     req.Interval,
		ClearEndDate: req.ClearEndDate,
	}

	if req.Amount != nil {
		amount, err := recur.ParseAmount(*req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		patch.Amount = &amount
	}
	if req.CategoryID != nil {
		c := recur.CategoryID(*req.CategoryID)
		patch.CategoryID = &c
	}
	if req.Kind != nil {
		kind, err := recur.ParseTransactionKind(*req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid transaction kind", err)
			return
		}
		patch.Kind = &kind
	}
	if req.Pattern != nil {
		pattern, err := recur.ParsePattern(*req.Pattern)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid pattern", err)
			return
		}
		patch.Pattern = &pattern
	}
	if req.NextExecutionDate != nil {
		d, err := recur.ParseDate(*req.NextExecutionDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid nextExecutionDate", err)
			return
		}
		patch.NextExecutionDate = &d
	}
	if req.RecurrenceEndDate != nil {
		d, err := recur.ParseDate(*req.RecurrenceEndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid recurrenceEndDate", err)
			return
		}
		patch.RecurrenceEndDate = &d
	}

	rule, err := h.Service.UpdateRule(r.Context(), id, recur.OwnerID(req.OwnerID), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(rule))
}

// DeactivateRule terminally deactivates a rule.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := recur.RuleID(chi.URLParam(r, "id"))

	if err := h.Service.DeactivateRule(r.Context(), id, owner); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ListExecutions returns a rule's execution audit trail.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := recur.RuleID(chi.URLParam(r, "id"))

	// Owner scoping: the rule must exist for this owner.
	if _, err := h.Service.GetRule(r.Context(), id, owner); err != nil {
		writeDomainError(w, err)
		return
	}

	records, err := h.Ledger.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list executions", err)
		return
	}

	dtos := make([]ExecutionDTO, len(records))
	for i, rec := range records {
		dtos[i] = toExecutionDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// FORECAST / TRANSACTION HANDLERS
// =============================================================================

// ListOccurrences projects occurrences for an owner over a date range.
func (h *Handler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	from, to, ok := requireRange(w, r)
	if !ok {
		return
	}

	occs, err := h.Service.ProjectOccurrences(r.Context(), owner, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]OccurrenceDTO, len(occs))
	for i, o := range occs {
		dtos[i] = OccurrenceDTO{RuleID: string(o.RuleID), ExecutionDate: o.ExecutionDate.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTransactions returns an owner's produced transactions over a range.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	from, to, ok := requireRange(w, r)
	if !ok {
		return
	}

	txs, err := h.Store.ListTransactionsByOwner(r.Context(), owner, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ProcessNow synchronously runs all due rules and returns the per-rule
// report. The manual counterpart of the daily trigger; colliding with it is
// safe because occurrences are claimed, not re-counted.
func (h *Handler) ProcessNow(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.ProcessDueNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process due rules", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func requireOwner(w http.ResponseWriter, r *http.Request) (recur.OwnerID, bool) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required", nil)
		return "", false
	}
	return recur.OwnerID(owner), true
}

func requireRange(w http.ResponseWriter, r *http.Request) (recur.Date, recur.Date, bool) {
	from, err := recur.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return recur.Date{}, recur.Date{}, false
	}
	to, err := recur.ParseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return recur.Date{}, recur.Date{}, false
	}
	return from, to, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := map[string]any{"error": message}
	if err != nil {
		resp["detail"] = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case recur.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Rule not found", err)
	case errors.Is(err, recur.ErrInactiveRule):
		writeError(w, http.StatusConflict, "Rule is inactive", err)
	case recur.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case recur.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
