package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/intake-go/internal/models"
)

// Outcome classifies what the merge did with one extracted field.
type Outcome string

const (
	OutcomeWritten       Outcome = "written"
	OutcomeSkippedStale  Outcome = "skipped_low_confidence"
	OutcomeSkippedNoSlot Outcome = "skipped_no_mapping"
)

// MergeResult reports the per-field outcome of one merge pass.
type MergeResult struct {
	Outcomes map[string]Outcome
}

// Written counts fields that changed (or re-confirmed) their slot.
func (r MergeResult) Written() int {
	return r.count(OutcomeWritten)
}

// Skipped counts fields the merge left alone.
func (r MergeResult) Skipped() int {
	return len(r.Outcomes) - r.count(OutcomeWritten)
}

func (r MergeResult) count(o Outcome) int {
	n := 0
	for _, got := range r.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}

// Merge folds parsed fields into the session's profile slots. A slot is
// overwritten only when the offered confidence strictly exceeds the stored
// stamp or the slot is empty; accumulate slots set-union string arrays when
// the offered confidence is at least the stored stamp. Replaying the same
// parsed fields leaves the profile unchanged.
func Merge(ctx context.Context, store Store, m *Mapping, sessionID string, parsed models.ParsedFields) (MergeResult, error) {
	result := MergeResult{Outcomes: make(map[string]Outcome, len(parsed.Fields))}

	for field, fv := range parsed.Fields {
		sm, ok := m.Resolve(field)
		if !ok {
			// An unmapped field is a catalog/mapping drift; drop the value,
			// never guess a slot.
			slog.Warn("extracted field has no slot mapping", "field", field, "parser", parsed.Parser)
			result.Outcomes[field] = OutcomeSkippedNoSlot
			continue
		}

		outcome, err := mergeSlot(ctx, store, sessionID, sm, fv)
		if err != nil {
			return result, fmt.Errorf("merge field %s into slot %s: %w", field, sm.Slot, err)
		}
		result.Outcomes[field] = outcome
	}

	return result, nil
}

func mergeSlot(ctx context.Context, store Store, sessionID string, sm SlotMapping, fv models.ParsedFieldValue) (Outcome, error) {
	cur, stamp, found, err := store.GetField(ctx, sessionID, sm.Slot)
	if err != nil {
		return "", err
	}

	if !found || isEmptyValue(cur) {
		if err := store.SetField(ctx, sessionID, sm.Slot, fv.Value, fv.Confidence); err != nil {
			return "", err
		}
		return OutcomeWritten, nil
	}

	offered, stored := fv.Confidence.Rank(), stamp.Rank()

	if sm.Policy == PolicyAccumulate && offered >= stored {
		if merged, ok := unionStrings(cur, fv.Value); ok {
			next := stamp
			if offered > stored {
				next = fv.Confidence
			}
			if err := store.SetField(ctx, sessionID, sm.Slot, merged, next); err != nil {
				return "", err
			}
			return OutcomeWritten, nil
		}
		// Non-array value on an accumulate slot falls through to replace rules.
	}

	if offered > stored {
		if err := store.SetField(ctx, sessionID, sm.Slot, fv.Value, fv.Confidence); err != nil {
			return "", err
		}
		return OutcomeWritten, nil
	}

	return OutcomeSkippedStale, nil
}

// isEmptyValue reports whether a stored slot value counts as unset.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// unionStrings set-unions two string arrays, keeping the stored order and
// appending unseen new elements in their offered order.
func unionStrings(cur, offered any) ([]string, bool) {
	base, ok := toStringSlice(cur)
	if !ok {
		return nil, false
	}
	add, ok := toStringSlice(offered)
	if !ok {
		return nil, false
	}

	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(add))
	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, true
}

// toStringSlice accepts both native []string and the []any shape values take
// after a round trip through JSON or the database.
func toStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
