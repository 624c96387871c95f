// Package store provides in-memory implementations of the persistence
// contracts, used in tests and local development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/recurring-engine/recur"
)

// =============================================================================
// MEMORY - In-memory RuleStore + ExecutionStore
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	rules      map[recur.RuleID]recur.RecurrenceRule
	executions map[recur.ExecutionID]recur.ExecutionRecord
	claims     map[claimKey]recur.ExecutionID
}

type claimKey struct {
	RuleID recur.RuleID
	Date   string
}

func NewMemory() *Memory {
	return &Memory{
		rules:      make(map[recur.RuleID]recur.RecurrenceRule),
		executions: make(map[recur.ExecutionID]recur.ExecutionRecord),
		claims:     make(map[claimKey]recur.ExecutionID),
	}
}

// -----------------------------------------------------------------------------
// RuleStore
// -----------------------------------------------------------------------------

func (m *Memory) Create(_ context.Context, rule recur.RecurrenceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (m *Memory) Get(_ context.Context, id recur.RuleID, owner recur.OwnerID) (recur.RecurrenceRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[id]
	if !ok || rule.OwnerID != owner {
		return recur.RecurrenceRule{}, recur.ErrRuleNotFound
	}
	return cloneRule(rule), nil
}

func (m *Memory) ListByOwner(_ context.Context, owner recur.OwnerID) ([]recur.RecurrenceRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []recur.RecurrenceRule
	for _, rule := range m.rules {
		if rule.OwnerID == owner {
			out = append(out, cloneRule(rule))
		}
	}
	return out, nil
}

func (m *Memory) FindDue(_ context.Context, asOf recur.Date) ([]recur.RecurrenceRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []recur.RecurrenceRule
	for _, rule := range m.rules {
		if rule.DueAt(asOf) {
			out = append(out, cloneRule(rule))
		}
	}
	return out, nil
}

func (m *Memory) ConditionalAdvance(_ context.Context, id recur.RuleID, owner recur.OwnerID, expected recur.Date, adv recur.RuleAdvance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[id]
	if !ok || rule.OwnerID != owner {
		return false, recur.ErrRuleNotFound
	}
	if !rule.IsActive || !rule.NextExecutionDate.Equal(expected) {
		return false, nil
	}

	last := adv.LastExecutedDate
	rule.NextExecutionDate = adv.NextExecutionDate
	rule.LastExecutedDate = &last
	if adv.Deactivate {
		rule.IsActive = false
	}
	m.rules[id] = rule
	return true, nil
}

func (m *Memory) Update(_ context.Context, rule recur.RecurrenceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[rule.ID]
	if !ok || existing.OwnerID != rule.OwnerID {
		return recur.ErrRuleNotFound
	}
	if !existing.IsActive {
		return recur.ErrInactiveRule
	}
	m.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (m *Memory) Deactivate(_ context.Context, id recur.RuleID, owner recur.OwnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[id]
	if !ok || rule.OwnerID != owner {
		return recur.ErrRuleNotFound
	}
	rule.IsActive = false
	m.rules[id] = rule
	return nil
}

// -----------------------------------------------------------------------------
// ExecutionStore
// -----------------------------------------------------------------------------

func (m *Memory) Insert(_ context.Context, rec recur.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := claimKey{RuleID: rec.RuleID, Date: rec.ExecutionDate.String()}
	if _, exists := m.claims[k]; exists {
		return recur.ErrOccurrenceClaimed
	}
	m.claims[k] = rec.ID
	m.executions[rec.ID] = rec
	return nil
}

func (m *Memory) SetTransactionID(_ context.Context, id recur.ExecutionID, txID recur.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[id]
	if !ok {
		return recur.ErrRuleNotFound
	}
	rec.TransactionID = txID
	m.executions[id] = rec
	return nil
}

func (m *Memory) Delete(_ context.Context, id recur.ExecutionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[id]
	if !ok {
		return nil
	}
	delete(m.claims, claimKey{RuleID: rec.RuleID, Date: rec.ExecutionDate.String()})
	delete(m.executions, id)
	return nil
}

func (m *Memory) ListByRule(_ context.Context, ruleID recur.RuleID) ([]recur.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []recur.ExecutionRecord
	for _, rec := range m.executions {
		if rec.RuleID == ruleID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExecutionDate.Before(out[j].ExecutionDate)
	})
	return out, nil
}

func cloneRule(r recur.RecurrenceRule) recur.RecurrenceRule {
	if r.LastExecutedDate != nil {
		d := *r.LastExecutedDate
		r.LastExecutedDate = &d
	}
	if r.RecurrenceEndDate != nil {
		d := *r.RecurrenceEndDate
		r.RecurrenceEndDate = &d
	}
	return r
}

// =============================================================================
// MEMORY LEDGER - In-memory TransactionLedger with fault injection
// =============================================================================

// MemoryLedger records produced transactions. FailWith makes the next Append
// calls fail, which tests use to exercise the claim-release path.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[recur.TransactionID]recur.LedgerEntry

	// FailWith, when non-nil, is returned by Append instead of recording.
	FailWith error
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[recur.TransactionID]recur.LedgerEntry)}
}

func (l *MemoryLedger) Append(_ context.Context, entry recur.LedgerEntry) (recur.TransactionID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailWith != nil {
		return "", l.FailWith
	}
	id := recur.TransactionID(uuid.NewString())
	l.entries[id] = entry
	return id, nil
}

// Count returns the number of recorded transactions.
func (l *MemoryLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of all recorded transactions.
func (l *MemoryLedger) Entries() map[recur.TransactionID]recur.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[recur.TransactionID]recur.LedgerEntry, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}
