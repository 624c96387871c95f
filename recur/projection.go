/*
projection.go - Read-only occurrence forecasting

PURPOSE:
  Enumerates every occurrence a rule would produce inside a date window,
  for calendar and forecast views. Pure planning: nothing here touches the
  execution ledger or mutates any persisted state, so it is safe to call
  arbitrarily often and in parallel with RunDue.

ITERATION BUDGET:
  Fast-forwarding from an old NextExecutionDate up to the range start and
  enumerating inside the range share one hard cap of 1000 steps. A corrupted
  interval that never advances, or a range far in the future relative to an
  old rule, degrades to a partial result instead of looping forever. The cap
  is a defensive bound, not a completeness guarantee for extreme ranges.

SEE ALSO:
  - calculator.go: The advancement primitive
  - service.go: Owner-wide projection merge
*/
package recur

// projectionBudget caps the total steps across fast-forward and
// enumeration phases of one projection.
const projectionBudget = 1000

// =============================================================================
// OCCURRENCE PROJECTOR
// =============================================================================

// Project enumerates the occurrences rule would produce in [start, end].
// The rule is taken by value; nothing is mutated.
func Project(rule RecurrenceRule, start, end Date) ([]Occurrence, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	if !rule.IsActive {
		return nil, nil
	}

	withinEnd := func(d Date) bool {
		return rule.RecurrenceEndDate == nil || d.BeforeOrEqual(*rule.RecurrenceEndDate)
	}

	if rule.Pattern == PatternOnce {
		d := rule.NextExecutionDate
		if start.BeforeOrEqual(d) && d.BeforeOrEqual(end) && withinEnd(d) {
			return []Occurrence{{RuleID: rule.ID, ExecutionDate: d}}, nil
		}
		return nil, nil
	}

	var out []Occurrence
	cursor := rule.NextExecutionDate

	for step := 0; step < projectionBudget; step++ {
		if cursor.After(end) || !withinEnd(cursor) {
			break
		}
		if cursor.AfterOrEqual(start) {
			out = append(out, Occurrence{RuleID: rule.ID, ExecutionDate: cursor})
		}

		next, err := Next(cursor, rule.Pattern, rule.Interval)
		if err != nil {
			// Corrupted pattern/interval: degrade to what was found.
			break
		}
		cursor = next
	}

	return out, nil
}
