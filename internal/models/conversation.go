// Package models defines data structures shared across the intake pipeline.
package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn. Immutable once created; Seq is
// assigned at creation, monotonically increasing per session, never reused.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one onboarding conversation. CurrentBucket is the focus pointer,
// moved by user navigation or pipeline completion. Watermarks records, per
// analyzer key, the highest message sequence already covered by a finished
// job, so reprocessing old messages is a no-op.
type Session struct {
	ID                  string           `json:"id"`
	BusinessName        string           `json:"business_name"`
	BusinessDescription string           `json:"business_description"`
	CurrentBucket       string           `json:"current_bucket"`
	Watermarks          map[string]int64 `json:"watermarks,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Watermark returns the highest processed sequence for an analyzer key.
func (s *Session) Watermark(key string) int64 {
	if s.Watermarks == nil {
		return 0
	}
	return s.Watermarks[key]
}

// SetWatermark records a processed sequence, keeping the highest seen.
func (s *Session) SetWatermark(key string, seq int64) {
	if s.Watermarks == nil {
		s.Watermarks = make(map[string]int64)
	}
	if seq > s.Watermarks[key] {
		s.Watermarks[key] = seq
	}
}
