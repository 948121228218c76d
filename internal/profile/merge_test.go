package profile

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/raphaelgruber/intake-go/internal/models"
)

func testMapping(t *testing.T) *Mapping {
	t.Helper()
	m, err := ParseMapping([]byte(`
version: 1
fields:
  business_name: {slot: company_name, policy: replace}
  brand_words: {slot: company_values, policy: accumulate}
  tone: {slot: brand_tone, policy: replace}
`))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func parsed(fields map[string]models.ParsedFieldValue) models.ParsedFields {
	return models.ParsedFields{Parser: "words", Fields: fields}
}

func TestMerge_EmptySlotWrites(t *testing.T) {
	store := NewMemoryStore()
	m := testMapping(t)

	res, err := Merge(context.Background(), store, m, "sess-1", parsed(map[string]models.ParsedFieldValue{
		"business_name": {Value: "Glowworks", Confidence: models.ConfidenceLow},
	}))
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if res.Outcomes["business_name"] != OutcomeWritten {
		t.Errorf("outcome = %s, want written", res.Outcomes["business_name"])
	}

	sv := store.Snapshot("sess-1")["company_name"]
	if sv.Value != "Glowworks" || sv.Confidence != models.ConfidenceLow {
		t.Errorf("slot = %+v", sv)
	}
}

func TestMerge_ConfidenceMonotonic(t *testing.T) {
	// A stored value can only be replaced by strictly higher confidence;
	// equal or lower offers leave the slot untouched.
	tests := []struct {
		name      string
		stored    models.Confidence
		offered   models.Confidence
		wantValue string
		want      Outcome
	}{
		{"higher replaces", models.ConfidenceLow, models.ConfidenceHigh, "new", OutcomeWritten},
		{"equal skips", models.ConfidenceMedium, models.ConfidenceMedium, "old", OutcomeSkippedStale},
		{"lower skips", models.ConfidenceHigh, models.ConfidenceMedium, "old", OutcomeSkippedStale},
		{"missing stamp ranks below low", models.ConfidenceNone, models.ConfidenceLow, "new", OutcomeWritten},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			m := testMapping(t)
			ctx := context.Background()

			if err := store.SetField(ctx, "s", "company_name", "old", tt.stored); err != nil {
				t.Fatal(err)
			}

			res, err := Merge(ctx, store, m, "s", parsed(map[string]models.ParsedFieldValue{
				"business_name": {Value: "new", Confidence: tt.offered},
			}))
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcomes["business_name"] != tt.want {
				t.Errorf("outcome = %s, want %s", res.Outcomes["business_name"], tt.want)
			}
			if got := store.Snapshot("s")["company_name"].Value; got != tt.wantValue {
				t.Errorf("slot value = %v, want %s", got, tt.wantValue)
			}
		})
	}
}

func TestMerge_AccumulateUnions(t *testing.T) {
	store := NewMemoryStore()
	m := testMapping(t)
	ctx := context.Background()

	if err := store.SetField(ctx, "s", "company_values", []string{"honesty", "speed"}, models.ConfidenceMedium); err != nil {
		t.Fatal(err)
	}

	res, err := Merge(ctx, store, m, "s", parsed(map[string]models.ParsedFieldValue{
		"brand_words": {Value: []string{"speed", "craft"}, Confidence: models.ConfidenceMedium},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcomes["brand_words"] != OutcomeWritten {
		t.Errorf("outcome = %s, want written", res.Outcomes["brand_words"])
	}

	sv := store.Snapshot("s")["company_values"]
	if !reflect.DeepEqual(sv.Value, []string{"honesty", "speed", "craft"}) {
		t.Errorf("union = %#v", sv.Value)
	}
	if sv.Confidence != models.ConfidenceMedium {
		t.Errorf("stamp = %s, equal-confidence union must keep the stored stamp", sv.Confidence)
	}
}

func TestMerge_AccumulateLowerConfidenceSkips(t *testing.T) {
	store := NewMemoryStore()
	m := testMapping(t)
	ctx := context.Background()

	if err := store.SetField(ctx, "s", "company_values", []string{"honesty"}, models.ConfidenceHigh); err != nil {
		t.Fatal(err)
	}

	res, err := Merge(ctx, store, m, "s", parsed(map[string]models.ParsedFieldValue{
		"brand_words": {Value: []string{"speed"}, Confidence: models.ConfidenceMedium},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcomes["brand_words"] != OutcomeSkippedStale {
		t.Errorf("outcome = %s, want skip", res.Outcomes["brand_words"])
	}
	if got := store.Snapshot("s")["company_values"].Value; !reflect.DeepEqual(got, []string{"honesty"}) {
		t.Errorf("slot = %#v, low-confidence offer must not touch it", got)
	}
}

func TestMerge_AccumulateRaisesStamp(t *testing.T) {
	store := NewMemoryStore()
	m := testMapping(t)
	ctx := context.Background()

	if err := store.SetField(ctx, "s", "company_values", []string{"honesty"}, models.ConfidenceLow); err != nil {
		t.Fatal(err)
	}

	if _, err := Merge(ctx, store, m, "s", parsed(map[string]models.ParsedFieldValue{
		"brand_words": {Value: []string{"craft"}, Confidence: models.ConfidenceHigh},
	})); err != nil {
		t.Fatal(err)
	}

	sv := store.Snapshot("s")["company_values"]
	if sv.Confidence != models.ConfidenceHigh {
		t.Errorf("stamp = %s, want raised to high", sv.Confidence)
	}
	if !reflect.DeepEqual(sv.Value, []string{"honesty", "craft"}) {
		t.Errorf("union = %#v", sv.Value)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	m := testMapping(t)
	ctx := context.Background()

	fields := parsed(map[string]models.ParsedFieldValue{
		"business_name": {Value: "Glowworks", Confidence: models.ConfidenceHigh},
		"brand_words":   {Value: []string{"honesty", "speed"}, Confidence: models.ConfidenceHigh},
		"tone":          {Value: "warm", Confidence: models.ConfidenceMedium},
	})

	if _, err := Merge(ctx, store, m, "s", fields); err != nil {
		t.Fatal(err)
	}
	first := store.Snapshot("s")

	if _, err := Merge(ctx, store, m, "s", fields); err != nil {
		t.Fatal(err)
	}
	second := store.Snapshot("s")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("replay changed the profile:\nfirst  = %#v\nsecond = %#v", first, second)
	}
}

func TestMerge_UnmappedFieldDropped(t *testing.T) {
	store := NewMemoryStore()
	m := testMapping(t)

	res, err := Merge(context.Background(), store, m, "s", parsed(map[string]models.ParsedFieldValue{
		"mystery_field": {Value: "x", Confidence: models.ConfidenceHigh},
	}))
	if err != nil {
		t.Fatalf("Merge() error = %v, mapping gaps must not fail the merge", err)
	}
	if res.Outcomes["mystery_field"] != OutcomeSkippedNoSlot {
		t.Errorf("outcome = %s, want no-mapping skip", res.Outcomes["mystery_field"])
	}
	if len(store.Snapshot("s")) != 0 {
		t.Errorf("store = %#v, want empty", store.Snapshot("s"))
	}
}

func TestMerge_DatabaseValueShapes(t *testing.T) {
	// Values read back from the database arrive as []any; the union must
	// still work.
	store := NewMemoryStore()
	m := testMapping(t)
	ctx := context.Background()

	if err := store.SetField(ctx, "s", "company_values", []any{"honesty"}, models.ConfidenceMedium); err != nil {
		t.Fatal(err)
	}

	if _, err := Merge(ctx, store, m, "s", parsed(map[string]models.ParsedFieldValue{
		"brand_words": {Value: []string{"speed"}, Confidence: models.ConfidenceMedium},
	})); err != nil {
		t.Fatal(err)
	}
	if got := store.Snapshot("s")["company_values"].Value; !reflect.DeepEqual(got, []string{"honesty", "speed"}) {
		t.Errorf("union = %#v", got)
	}
}

type failingStore struct {
	*MemoryStore
	setErr error
}

func (s *failingStore) SetField(ctx context.Context, sessionID, slot string, value any, stamp models.Confidence) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.MemoryStore.SetField(ctx, sessionID, slot, value, stamp)
}

func TestMerge_StoreErrorPropagates(t *testing.T) {
	wantErr := errors.New("connection lost")
	store := &failingStore{MemoryStore: NewMemoryStore(), setErr: wantErr}
	m := testMapping(t)

	_, err := Merge(context.Background(), store, m, "s", parsed(map[string]models.ParsedFieldValue{
		"business_name": {Value: "Glowworks", Confidence: models.ConfidenceHigh},
	}))
	if !errors.Is(err, wantErr) {
		t.Errorf("Merge() error = %v, want wrapped store error", err)
	}
}
