package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// SessionRecord is the persisted shape of a Session.
type SessionRecord struct {
	ID                  surrealmodels.RecordID `json:"id"`
	BusinessName        string                 `json:"business_name"`
	BusinessDescription string                 `json:"business_description"`
	CurrentBucket       string                 `json:"current_bucket"`
	Watermarks          map[string]int64       `json:"watermarks,omitempty"`
	NextSeq             int64                  `json:"next_seq"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// Session converts the record into the domain shape used by the pipeline.
func (r SessionRecord) Session() (*Session, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:                  id,
		BusinessName:        r.BusinessName,
		BusinessDescription: r.BusinessDescription,
		CurrentBucket:       r.CurrentBucket,
		Watermarks:          r.Watermarks,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}

// MessageRecord is the persisted shape of a conversation turn.
type MessageRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	Session   surrealmodels.RecordID `json:"session"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Seq       int64                  `json:"seq"`
	CreatedAt time.Time              `json:"created_at"`
}

// Message converts the record into the domain shape.
func (r MessageRecord) Message() Message {
	return Message{
		Role:      r.Role,
		Content:   r.Content,
		Seq:       r.Seq,
		CreatedAt: r.CreatedAt,
	}
}

// ProfileFieldRecord is one concrete profile slot with its last-write stamp.
type ProfileFieldRecord struct {
	ID         surrealmodels.RecordID `json:"id"`
	Session    surrealmodels.RecordID `json:"session"`
	Slot       string                 `json:"slot"`
	Value      any                    `json:"value"`
	Confidence string                 `json:"confidence"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// PipelineJobRecord is a persisted analyzer/parser job for ops inspection.
// The in-memory tracker remains the source of truth for admission.
type PipelineJobRecord struct {
	ID          surrealmodels.RecordID `json:"id"`
	Session     string                 `json:"session"`
	AnalyzerKey string                 `json:"analyzer_key"`
	Status      string                 `json:"status"`
	Bucket      string                 `json:"bucket"`
	Result      map[string]any         `json:"result,omitempty"`
	Error       *string                `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// AnalysisRecord is a persisted AnalysisOutput audit row.
type AnalysisRecord struct {
	ID            surrealmodels.RecordID `json:"id"`
	Session       string                 `json:"session"`
	Analyzer      string                 `json:"analyzer"`
	Prose         string                 `json:"prose"`
	InputMessages int                    `json:"input_messages"`
	CreatedAt     time.Time              `json:"created_at"`
}
