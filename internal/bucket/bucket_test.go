package bucket

import (
	"errors"
	"testing"

	"github.com/raphaelgruber/intake-go/internal/models"
)

func TestCatalogOrder(t *testing.T) {
	cat := Catalog()
	if len(cat) != 7 {
		t.Fatalf("catalog has %d buckets, want 7", len(cat))
	}
	for i, b := range cat {
		if b.Order != i {
			t.Errorf("bucket %s has order %d, want %d", b.ID, b.Order, i)
		}
	}
	if cat[len(cat)-1].ID != Done {
		t.Errorf("last bucket = %s, want %s", cat[len(cat)-1].ID, Done)
	}
}

func TestCurrent_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		pointer string
		want    ID
	}{
		{"unset pointer", "", Basics},
		{"unknown pointer", "bogus", Basics},
		{"valid pointer", "words", Words},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.Session{CurrentBucket: tt.pointer}
			if got := Current(s); got.ID != tt.want {
				t.Errorf("Current() = %s, want %s", got.ID, tt.want)
			}
		})
	}
}

func TestAdvance_WalksFullOrder(t *testing.T) {
	s := &models.Session{}
	want := []ID{Assets, Story, Words, Style, Hub, Done}

	for _, w := range want {
		got, err := Advance(s)
		if err != nil {
			t.Fatalf("Advance() error = %v", err)
		}
		if got.ID != w {
			t.Fatalf("Advance() = %s, want %s", got.ID, w)
		}
	}

	// Done has no outgoing transition.
	if _, err := Advance(s); !errors.Is(err, ErrTerminal) {
		t.Errorf("Advance() past done error = %v, want ErrTerminal", err)
	}
	if s.CurrentBucket != string(Done) {
		t.Errorf("pointer moved past terminal: %s", s.CurrentBucket)
	}
}

func TestSkip(t *testing.T) {
	t.Run("optional bucket skips", func(t *testing.T) {
		s := &models.Session{CurrentBucket: string(Assets)}
		got, err := Skip(s)
		if err != nil {
			t.Fatalf("Skip() error = %v", err)
		}
		if got.ID != Story {
			t.Errorf("Skip() = %s, want %s", got.ID, Story)
		}
	})

	t.Run("required bucket refuses", func(t *testing.T) {
		s := &models.Session{CurrentBucket: string(Words)}
		if _, err := Skip(s); !errors.Is(err, ErrNotOptional) {
			t.Errorf("Skip() error = %v, want ErrNotOptional", err)
		}
		if s.CurrentBucket != string(Words) {
			t.Errorf("pointer changed on refused skip: %s", s.CurrentBucket)
		}
	})

	t.Run("terminal refuses", func(t *testing.T) {
		s := &models.Session{CurrentBucket: string(Done)}
		if _, err := Skip(s); !errors.Is(err, ErrTerminal) {
			t.Errorf("Skip() error = %v, want ErrTerminal", err)
		}
	})
}
