package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recurring-engine/recur"
	"github.com/warp/recurring-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(year int, month time.Month, day int) recur.Date {
	return recur.NewDate(year, month, day)
}

func seedRule(t *testing.T, s *sqlite.Store, id string, next recur.Date) recur.RecurrenceRule {
	t.Helper()
	end := date(2025, time.December, 31)
	last := next.AddDays(-30)
	rule := recur.RecurrenceRule{
		ID:                recur.RuleID(id),
		OwnerID:           "owner-1",
		Description:       "rent",
		Amount:            recur.NewAmount(-1200),
		CategoryID:        "cat-housing",
		Kind:              recur.KindExpense,
		Pattern:           recur.PatternMonthly,
		Interval:          1,
		NextExecutionDate: next,
		LastExecutedDate:  &last,
		RecurrenceEndDate: &end,
		IsActive:          true,
	}
	require.NoError(t, s.Create(context.Background(), rule))
	return rule
}

// =============================================================================
// RULE STORE
// =============================================================================

func TestStore_CreateAndGet_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := seedRule(t, s, "rule-1", date(2025, time.March, 1))

	got, err := s.Get(ctx, "rule-1", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, rule.ID, got.ID)
	assert.Equal(t, rule.Description, got.Description)
	assert.True(t, got.Amount.Equal(rule.Amount))
	assert.Equal(t, rule.CategoryID, got.CategoryID)
	assert.Equal(t, rule.Pattern, got.Pattern)
	assert.True(t, got.NextExecutionDate.Equal(rule.NextExecutionDate))
	require.NotNil(t, got.LastExecutedDate)
	assert.True(t, got.LastExecutedDate.Equal(*rule.LastExecutedDate))
	require.NotNil(t, got.RecurrenceEndDate)
	assert.True(t, got.RecurrenceEndDate.Equal(*rule.RecurrenceEndDate))
	assert.True(t, got.IsActive)
}

func TestStore_Get_WrongOwner_NotFound(t *testing.T) {
	s := newTestStore(t)
	seedRule(t, s, "rule-1", date(2025, time.March, 1))

	_, err := s.Get(context.Background(), "rule-1", "owner-2")
	assert.ErrorIs(t, err, recur.ErrRuleNotFound)
}

func TestStore_FindDue_ActiveAndDueOnly(t *testing.T) {
	// GIVEN: One overdue rule, one due today, one due tomorrow, one inactive
	// WHEN: Finding rules due as of today
	// THEN: Only the overdue and today rules are returned, soonest first

	s := newTestStore(t)
	ctx := context.Background()
	today := date(2025, time.March, 10)

	seedRule(t, s, "overdue", today.AddDays(-5))
	seedRule(t, s, "today", today)
	seedRule(t, s, "tomorrow", today.AddDays(1))
	seedRule(t, s, "inactive", today.AddDays(-1))
	require.NoError(t, s.Deactivate(ctx, "inactive", "owner-1"))

	due, err := s.FindDue(ctx, today)
	require.NoError(t, err)

	require.Len(t, due, 2)
	assert.Equal(t, recur.RuleID("overdue"), due[0].ID)
	assert.Equal(t, recur.RuleID("today"), due[1].ID)
}

func TestStore_ConditionalAdvance_GuardBehavior(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expected := date(2025, time.March, 1)

	seedRule(t, s, "rule-1", expected)

	adv := recur.RuleAdvance{
		NextExecutionDate: date(2025, time.April, 1),
		LastExecutedDate:  expected,
	}

	// Matching expectation wins.
	won, err := s.ConditionalAdvance(ctx, "rule-1", "owner-1", expected, adv)
	require.NoError(t, err)
	assert.True(t, won)

	got, err := s.Get(ctx, "rule-1", "owner-1")
	require.NoError(t, err)
	assert.True(t, got.NextExecutionDate.Equal(date(2025, time.April, 1)))
	require.NotNil(t, got.LastExecutedDate)
	assert.True(t, got.LastExecutedDate.Equal(expected))

	// A second advance against the now-stale expectation loses without error.
	won, err = s.ConditionalAdvance(ctx, "rule-1", "owner-1", expected, adv)
	require.NoError(t, err)
	assert.False(t, won, "stale expected date must not clobber the schedule")

	// Wrong owner loses too.
	won, err = s.ConditionalAdvance(ctx, "rule-1", "owner-2", date(2025, time.April, 1), adv)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestStore_ConditionalAdvance_Deactivates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expected := date(2025, time.March, 1)

	seedRule(t, s, "rule-1", expected)

	won, err := s.ConditionalAdvance(ctx, "rule-1", "owner-1", expected, recur.RuleAdvance{
		NextExecutionDate: expected,
		LastExecutedDate:  expected,
		Deactivate:        true,
	})
	require.NoError(t, err)
	require.True(t, won)

	got, err := s.Get(ctx, "rule-1", "owner-1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// The inactive rule refuses any further advance.
	won, err = s.ConditionalAdvance(ctx, "rule-1", "owner-1", expected, recur.RuleAdvance{
		NextExecutionDate: date(2025, time.April, 1),
		LastExecutedDate:  expected,
	})
	require.NoError(t, err)
	assert.False(t, won)
}

func TestStore_Update_InactiveRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := seedRule(t, s, "rule-1", date(2025, time.March, 1))
	require.NoError(t, s.Deactivate(ctx, "rule-1", "owner-1"))

	rule.Description = "updated"
	err := s.Update(ctx, rule)
	assert.ErrorIs(t, err, recur.ErrInactiveRule)

	rule.ID = "ghost"
	err = s.Update(ctx, rule)
	assert.ErrorIs(t, err, recur.ErrRuleNotFound)
}

func TestStore_Deactivate_MissingRule(t *testing.T) {
	s := newTestStore(t)
	err := s.Deactivate(context.Background(), "ghost", "owner-1")
	assert.ErrorIs(t, err, recur.ErrRuleNotFound)
}

// =============================================================================
// EXECUTION STORE - Uniqueness at the database level
// =============================================================================

func TestStore_Insert_DuplicateOccurrenceRejected(t *testing.T) {
	// GIVEN: An execution record for (rule-1, 2025-03-01)
	// WHEN: A second record for the same pair is inserted
	// THEN: The unique index rejects it as ErrOccurrenceClaimed

	s := newTestStore(t)
	ctx := context.Background()
	day := date(2025, time.March, 1)

	seedRule(t, s, "rule-1", day)

	rec := recur.ExecutionRecord{ID: "exec-1", RuleID: "rule-1", ExecutionDate: day}
	require.NoError(t, s.Insert(ctx, rec))

	dup := recur.ExecutionRecord{ID: "exec-2", RuleID: "rule-1", ExecutionDate: day}
	err := s.Insert(ctx, dup)
	assert.ErrorIs(t, err, recur.ErrOccurrenceClaimed)

	// Same rule, different date is fine.
	next := recur.ExecutionRecord{ID: "exec-3", RuleID: "rule-1", ExecutionDate: day.AddDays(1)}
	assert.NoError(t, s.Insert(ctx, next))
}

func TestStore_ExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := date(2025, time.March, 1)

	seedRule(t, s, "rule-1", day)

	rec := recur.ExecutionRecord{ID: "exec-1", RuleID: "rule-1", ExecutionDate: day}
	require.NoError(t, s.Insert(ctx, rec))
	require.NoError(t, s.SetTransactionID(ctx, "exec-1", "tx-1"))

	records, err := s.ListByRule(ctx, "rule-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, recur.TransactionID("tx-1"), records[0].TransactionID)

	// Delete releases the claim; the pair becomes insertable again.
	require.NoError(t, s.Delete(ctx, "exec-1"))
	retry := recur.ExecutionRecord{ID: "exec-2", RuleID: "rule-1", ExecutionDate: day}
	assert.NoError(t, s.Insert(ctx, retry))
}

// =============================================================================
// TRANSACTION LEDGER
// =============================================================================

func TestStore_Append_And_ListByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := recur.LedgerEntry{
		OwnerID:     "owner-1",
		RuleID:      "rule-1",
		Description: "rent",
		Amount:      recur.NewAmount(-1200),
		CategoryID:  "cat-housing",
		Kind:        recur.KindExpense,
		Date:        date(2025, time.March, 1),
	}

	id, err := s.Append(ctx, entry)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// A second occurrence a month later, plus another owner's noise.
	entry.Date = date(2025, time.April, 1)
	_, err = s.Append(ctx, entry)
	require.NoError(t, err)

	other := entry
	other.OwnerID = "owner-2"
	_, err = s.Append(ctx, other)
	require.NoError(t, err)

	txs, err := s.ListTransactionsByOwner(ctx, "owner-1",
		date(2025, time.January, 1), date(2025, time.December, 31))
	require.NoError(t, err)

	require.Len(t, txs, 2)
	assert.True(t, txs[0].Date.Before(txs[1].Date), "oldest first")
	assert.Equal(t, recur.RuleID("rule-1"), txs[0].RuleID)
	assert.True(t, txs[0].Amount.Equal(recur.NewAmount(-1200)))

	// Range filter excludes out-of-window transactions.
	txs, err = s.ListTransactionsByOwner(ctx, "owner-1",
		date(2025, time.March, 15), date(2025, time.December, 31))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Date.Equal(date(2025, time.April, 1)))
}
