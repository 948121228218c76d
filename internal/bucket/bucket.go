// Package bucket defines the fixed ordered catalog of onboarding topics and
// the focus-pointer transitions for a session.
package bucket

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/intake-go/internal/models"
)

// ID identifies one topic stage in the onboarding order.
type ID string

// The closed catalog. Order follows the interview flow; Done is terminal.
const (
	Basics ID = "basics"
	Assets ID = "assets"
	Story  ID = "story"
	Words  ID = "words"
	Style  ID = "style"
	Hub    ID = "hub"
	Done   ID = "done"
)

// Bucket is one topic stage. Immutable, defined at process start.
type Bucket struct {
	ID       ID
	Order    int
	Optional bool
}

// catalog is the full ordered list. The pipeline never auto-skips optional
// buckets; skipping is an explicit user action.
var catalog = []Bucket{
	{ID: Basics, Order: 0},
	{ID: Assets, Order: 1, Optional: true},
	{ID: Story, Order: 2},
	{ID: Words, Order: 3},
	{ID: Style, Order: 4, Optional: true},
	{ID: Hub, Order: 5},
	{ID: Done, Order: 6},
}

var byID = func() map[ID]Bucket {
	m := make(map[ID]Bucket, len(catalog))
	for _, b := range catalog {
		m[b.ID] = b
	}
	return m
}()

// Transition errors.
var (
	ErrTerminal    = errors.New("bucket is terminal")
	ErrNotOptional = errors.New("bucket is not optional")
)

// Catalog returns the full ordered bucket list.
func Catalog() []Bucket {
	out := make([]Bucket, len(catalog))
	copy(out, catalog)
	return out
}

// ByID resolves a bucket identifier against the catalog.
func ByID(id ID) (Bucket, bool) {
	b, ok := byID[id]
	return b, ok
}

// First returns the initial bucket of the interview.
func First() Bucket {
	return catalog[0]
}

// Current returns the session's focus bucket, falling back to the first
// bucket when the pointer is unset or names an unknown stage.
func Current(s *models.Session) Bucket {
	if b, ok := byID[ID(s.CurrentBucket)]; ok {
		return b
	}
	return First()
}

// Advance moves the session's focus to the next bucket in catalog order and
// returns it. Advancing past Done returns ErrTerminal and leaves the
// pointer unchanged.
func Advance(s *models.Session) (Bucket, error) {
	cur := Current(s)
	if cur.ID == Done {
		return cur, ErrTerminal
	}
	next := catalog[cur.Order+1]
	s.CurrentBucket = string(next.ID)
	return next, nil
}

// Skip moves past the current bucket, allowed only for optional buckets and
// only in response to an explicit user action.
func Skip(s *models.Session) (Bucket, error) {
	cur := Current(s)
	if cur.ID == Done {
		return cur, ErrTerminal
	}
	if !cur.Optional {
		return cur, fmt.Errorf("%w: %s", ErrNotOptional, cur.ID)
	}
	return Advance(s)
}
