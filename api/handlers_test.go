/*
handlers_test.go - HTTP-level tests for the rules API

Tests for:
- Rule lifecycle over HTTP (create, update, deactivate)
- Manual processing producing transactions idempotently
- Occurrence forecasting endpoint
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/warp/recurring-engine/recur"
	"github.com/warp/recurring-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestAPI(t *testing.T) (*Handler, http.Handler) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(store)
	return handler, NewRouter(handler)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func createDailyRule(t *testing.T, router http.Handler, owner string, start recur.Date) RuleDTO {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/rules", CreateRuleRequest{
		OwnerID:     owner,
		Description: "coffee subscription",
		Amount:      "-4.50",
		CategoryID:  "cat-coffee",
		Kind:        "expense",
		Pattern:     "daily",
		Interval:    1,
		StartDate:   start.String(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create rule: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var dto RuleDTO
	decodeInto(t, rec, &dto)
	return dto
}

// =============================================================================
// RULE LIFECYCLE
// =============================================================================

func TestAPI_CreateRule_Validation(t *testing.T) {
	_, router := newTestAPI(t)

	// Missing owner
	rec := doJSON(t, router, http.MethodPost, "/api/rules", CreateRuleRequest{
		Description: "x", Amount: "1", Kind: "expense", Pattern: "daily",
		Interval: 1, StartDate: "2025-01-01",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing owner: expected 400, got %d", rec.Code)
	}

	// Unknown pattern
	rec = doJSON(t, router, http.MethodPost, "/api/rules", CreateRuleRequest{
		OwnerID: "owner-1", Description: "x", Amount: "1", Kind: "expense",
		Pattern: "hourly", Interval: 1, StartDate: "2025-01-01",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad pattern: expected 400, got %d", rec.Code)
	}

	// Zero interval
	rec = doJSON(t, router, http.MethodPost, "/api/rules", CreateRuleRequest{
		OwnerID: "owner-1", Description: "x", Amount: "1", Kind: "expense",
		Pattern: "daily", Interval: 0, StartDate: "2025-01-01",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero interval: expected 400, got %d", rec.Code)
	}

	// End date before start
	rec = doJSON(t, router, http.MethodPost, "/api/rules", CreateRuleRequest{
		OwnerID: "owner-1", Description: "x", Amount: "1", Kind: "expense",
		Pattern: "daily", Interval: 1, StartDate: "2025-06-01",
		RecurrenceEndDate: "2025-05-01",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("end before start: expected 400, got %d", rec.Code)
	}
}

func TestAPI_UpdateAndDeactivateRule(t *testing.T) {
	_, router := newTestAPI(t)

	rule := createDailyRule(t, router, "owner-1", recur.Today().AddDays(10))

	// Update the description and amount.
	desc := "espresso subscription"
	amount := "-5.00"
	rec := doJSON(t, router, http.MethodPut, "/api/rules/"+rule.ID, UpdateRuleRequest{
		OwnerID:     "owner-1",
		Description: &desc,
		Amount:      &amount,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated RuleDTO
	decodeInto(t, rec, &updated)
	if updated.Description != desc || updated.Amount != "-5.00" {
		t.Errorf("update not applied: %+v", updated)
	}

	// Deactivate.
	rec = doJSON(t, router, http.MethodDelete, "/api/rules/"+rule.ID+"?owner=owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Deactivate: expected 200, got %d", rec.Code)
	}

	// Edits after deactivation conflict: deactivation is terminal.
	rec = doJSON(t, router, http.MethodPut, "/api/rules/"+rule.ID, UpdateRuleRequest{
		OwnerID:     "owner-1",
		Description: &desc,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("inactive edit: expected 409, got %d", rec.Code)
	}
}

func TestAPI_GetRule_OwnerScoping(t *testing.T) {
	_, router := newTestAPI(t)

	rule := createDailyRule(t, router, "owner-1", recur.Today())

	rec := doJSON(t, router, http.MethodGet, "/api/rules/"+rule.ID+"?owner=owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("own rule: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/rules/"+rule.ID+"?owner=owner-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign rule: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/rules/"+rule.ID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing owner param: expected 400, got %d", rec.Code)
	}
}

// =============================================================================
// PROCESSING AND TRANSACTIONS
// =============================================================================

func TestAPI_ProcessNow_ProducesTransactionOnce(t *testing.T) {
	// GIVEN: A daily rule due today
	// WHEN: The admin process endpoint runs twice
	// THEN: Exactly one transaction exists and the execution trail links it

	_, router := newTestAPI(t)
	today := recur.Today()

	rule := createDailyRule(t, router, "owner-1", today)

	rec := doJSON(t, router, http.MethodPost, "/api/admin/process", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Process: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report RunReportDTO
	decodeInto(t, rec, &report)
	if report.Attempted != 1 || report.Succeeded != 1 {
		t.Fatalf("expected 1/1 processed, got %+v", report)
	}

	// Second run: the rule has advanced, nothing is due.
	rec = doJSON(t, router, http.MethodPost, "/api/admin/process", nil)
	body := rec.Body.String()
	if !strings.Contains(body, `"failed":[]`) || !strings.Contains(body, `"results":[]`) {
		t.Errorf("empty report must serialize failed and results as arrays: %s", body)
	}
	decodeInto(t, rec, &report)
	if report.Attempted != 0 {
		t.Errorf("second run should find nothing due, got %+v", report)
	}

	// Exactly one transaction in the window.
	path := fmt.Sprintf("/api/transactions?owner=owner-1&from=%s&to=%s",
		today.AddDays(-1), today.AddDays(1))
	rec = doJSON(t, router, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("List transactions: expected 200, got %d", rec.Code)
	}
	var txs []TransactionDTO
	decodeInto(t, rec, &txs)
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	if txs[0].Amount != "-4.50" || txs[0].RuleID != rule.ID {
		t.Errorf("unexpected transaction: %+v", txs[0])
	}

	// The execution trail references the produced transaction.
	rec = doJSON(t, router, http.MethodGet, "/api/rules/"+rule.ID+"/executions?owner=owner-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("List executions: expected 200, got %d", rec.Code)
	}
	var execs []ExecutionDTO
	decodeInto(t, rec, &execs)
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution record, got %d", len(execs))
	}
	if execs[0].TransactionID != txs[0].ID {
		t.Errorf("execution %s does not reference transaction %s", execs[0].TransactionID, txs[0].ID)
	}
}

// =============================================================================
// FORECASTING
// =============================================================================

func TestAPI_ListOccurrences(t *testing.T) {
	_, router := newTestAPI(t)

	// Bi-weekly rule far in the future so processing never interferes.
	rec := doJSON(t, router, http.MethodPost, "/api/rules", CreateRuleRequest{
		OwnerID:     "owner-1",
		Description: "cleaning",
		Amount:      "-80",
		Kind:        "expense",
		Pattern:     "weekly",
		Interval:    2,
		StartDate:   "2030-01-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create rule: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet,
		"/api/occurrences?owner=owner-1&from=2030-01-01&to=2030-02-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("List occurrences: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var occs []OccurrenceDTO
	decodeInto(t, rec, &occs)

	want := []string{"2030-01-01", "2030-01-15", "2030-01-29"}
	if len(occs) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(occs))
	}
	for i, w := range want {
		if occs[i].ExecutionDate != w {
			t.Errorf("occurrence %d: expected %s, got %s", i, w, occs[i].ExecutionDate)
		}
	}

	// Inverted range rejected.
	rec = doJSON(t, router, http.MethodGet,
		"/api/occurrences?owner=owner-1&from=2030-02-01&to=2030-01-01", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range: expected 400, got %d", rec.Code)
	}
}
