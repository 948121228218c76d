package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/intake-go/internal/models"
	"github.com/raphaelgruber/intake-go/internal/pipeline"
	"github.com/surrealdb/surrealdb.go"
)

// CreateSession creates a new onboarding session pointing at the first bucket.
func (c *Client) CreateSession(ctx context.Context, businessName, businessDescription, firstBucket string) (*models.Session, error) {
	results, err := surrealdb.Query[[]models.SessionRecord](ctx, c.db, `
		CREATE session SET
			business_name = $business_name,
			business_description = $business_description,
			current_bucket = $bucket,
			next_seq = 0
	`, map[string]any{
		"business_name":        businessName,
		"business_description": businessDescription,
		"bucket":               firstBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create session: empty result")
	}
	return (*results)[0].Result[0].Session()
}

// GetSession retrieves a session by ID. Returns nil if not found.
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	results, err := surrealdb.Query[[]models.SessionRecord](ctx, c.db, `
		SELECT * FROM type::record("session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return (*results)[0].Result[0].Session()
}

// ListSessions returns sessions, most recently updated first.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.SessionRecord](ctx, c.db, `
		SELECT * FROM session ORDER BY updated_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	sessions := make([]*models.Session, 0, len((*results)[0].Result))
	for _, rec := range (*results)[0].Result {
		s, err := rec.Session()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// UpdateSessionBucket moves a session's focus pointer.
func (c *Client) UpdateSessionBucket(ctx context.Context, id, bucketID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("session", $id) SET
			current_bucket = $bucket,
			updated_at = time::now()
	`, map[string]any{"id": id, "bucket": bucketID})
	if err != nil {
		return fmt.Errorf("update session bucket: %w", wrapQueryError(err))
	}
	return nil
}

// SaveWatermark records the highest analyzed sequence for an analyzer key.
// The stored value never decreases.
func (c *Client) SaveWatermark(ctx context.Context, sessionID, analyzerKey string, seq int64) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("session", $id) SET
			watermarks[$key] = math::max([watermarks[$key] ?? 0, $seq]),
			updated_at = time::now()
	`, map[string]any{"id": sessionID, "key": analyzerKey, "seq": seq})
	if err != nil {
		return fmt.Errorf("save watermark: %w", wrapQueryError(err))
	}
	return nil
}

// AppendMessage appends a conversation turn, assigning the next sequence
// number from the session's counter in the same transaction.
func (c *Client) AppendMessage(ctx context.Context, sessionID, role, content string) (models.Message, error) {
	results, err := surrealdb.Query[models.MessageRecord](ctx, c.db, `
		LET $s = UPDATE ONLY type::record("session", $session) SET
			next_seq += 1,
			updated_at = time::now()
		RETURN AFTER;
		CREATE ONLY message SET
			session = type::record("session", $session),
			role = $role,
			content = $content,
			seq = $s.next_seq;
	`, map[string]any{
		"session": sessionID,
		"role":    role,
		"content": content,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return models.Message{}, fmt.Errorf("append message: empty result")
	}
	return (*results)[len(*results)-1].Result.Message(), nil
}

// RecentMessages returns the last limit messages for a session in ascending
// sequence order.
func (c *Client) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.MessageRecord](ctx, c.db, `
		SELECT * FROM message
		WHERE session = type::record("session", $session)
		ORDER BY seq DESC LIMIT $limit
	`, map[string]any{"session": sessionID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	records := (*results)[0].Result
	messages := make([]models.Message, len(records))
	for i, rec := range records {
		messages[len(records)-1-i] = rec.Message()
	}
	return messages, nil
}

// fieldRow is the subset of profile_field the merge engine reads back.
type fieldRow struct {
	Value      any    `json:"value"`
	Confidence string `json:"confidence"`
}

// GetField returns one profile slot's value and confidence stamp.
func (c *Client) GetField(ctx context.Context, sessionID, slot string) (any, models.Confidence, bool, error) {
	results, err := surrealdb.Query[[]fieldRow](ctx, c.db, `
		SELECT value, confidence FROM type::thing("profile_field", [$session, $slot])
	`, map[string]any{"session": sessionID, "slot": slot})
	if err != nil {
		return nil, models.ConfidenceNone, false, fmt.Errorf("get field: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, models.ConfidenceNone, false, nil
	}

	row := (*results)[0].Result[0]
	conf, _ := models.ParseConfidence(row.Confidence)
	return row.Value, conf, true, nil
}

// SetField writes one profile slot. Record IDs are [session, slot] arrays, so
// repeat writes land on the same row.
func (c *Client) SetField(ctx context.Context, sessionID, slot string, value any, stamp models.Confidence) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::thing("profile_field", [$session, $slot]) SET
			session = type::record("session", $session),
			slot = $slot,
			value = $value,
			confidence = $confidence,
			updated_at = time::now()
	`, map[string]any{
		"session":    sessionID,
		"slot":       slot,
		"value":      value,
		"confidence": string(stamp),
	})
	if err != nil {
		return fmt.Errorf("set field: %w", wrapQueryError(err))
	}
	return nil
}

// GetProfile returns every written slot for a session, ordered by slot name.
func (c *Client) GetProfile(ctx context.Context, sessionID string) ([]models.ProfileFieldRecord, error) {
	results, err := surrealdb.Query[[]models.ProfileFieldRecord](ctx, c.db, `
		SELECT * FROM profile_field
		WHERE session = type::record("session", $session)
		ORDER BY slot
	`, map[string]any{"session": sessionID})
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// CreateJobRecord persists a freshly admitted pipeline job.
func (c *Client) CreateJobRecord(ctx context.Context, job pipeline.Job) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::thing("pipeline_job", $id) SET
			session = $session,
			analyzer_key = $analyzer_key,
			status = $status,
			bucket = $bucket,
			started_at = $started_at
	`, map[string]any{
		"id":           job.ID,
		"session":      job.SessionID,
		"analyzer_key": job.AnalyzerKey,
		"status":       string(job.Status),
		"bucket":       job.Bucket,
		"started_at":   job.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("create job record: %w", wrapQueryError(err))
	}
	return nil
}

// MarkJobRunning transitions a persisted job to running.
func (c *Client) MarkJobRunning(ctx context.Context, jobID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::thing("pipeline_job", $id) SET status = "running"
	`, map[string]any{"id": jobID})
	if err != nil {
		return fmt.Errorf("mark job running: %w", wrapQueryError(err))
	}
	return nil
}

// MarkJobCompleted transitions a persisted job to completed with its result.
func (c *Client) MarkJobCompleted(ctx context.Context, jobID string, result *pipeline.JobResult) error {
	vars := map[string]any{"id": jobID, "completed_at": time.Now()}
	if result != nil {
		vars["result"] = map[string]any{
			"analyzer":       result.Analyzer,
			"parser":         result.Parser,
			"fields_written": result.FieldsWritten,
			"fields_skipped": result.FieldsSkipped,
		}
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::thing("pipeline_job", $id) SET
			status = "completed",
			result = $result,
			completed_at = $completed_at
	`, vars)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", wrapQueryError(err))
	}
	return nil
}

// MarkJobFailed transitions a persisted job to failed with its error message.
func (c *Client) MarkJobFailed(ctx context.Context, jobID string, errMsg string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::thing("pipeline_job", $id) SET
			status = "failed",
			error = $error,
			completed_at = $completed_at
	`, map[string]any{"id": jobID, "error": errMsg, "completed_at": time.Now()})
	if err != nil {
		return fmt.Errorf("mark job failed: %w", wrapQueryError(err))
	}
	return nil
}

// ListJobRecords returns a session's persisted jobs, most recent first.
func (c *Client) ListJobRecords(ctx context.Context, sessionID string, limit int) ([]models.PipelineJobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.PipelineJobRecord](ctx, c.db, `
		SELECT * FROM pipeline_job
		WHERE session = $session
		ORDER BY started_at DESC LIMIT $limit
	`, map[string]any{"session": sessionID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list job records: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// RecordAnalysis stores one analyzer output for the session's audit trail.
func (c *Client) RecordAnalysis(ctx context.Context, sessionID string, out *models.AnalysisOutput) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE analysis SET
			session = $session,
			analyzer = $analyzer,
			prose = $prose,
			input_messages = $input_messages,
			created_at = $created_at
	`, map[string]any{
		"session":        sessionID,
		"analyzer":       out.Analyzer,
		"prose":          out.Prose,
		"input_messages": out.InputMessages,
		"created_at":     out.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("record analysis: %w", wrapQueryError(err))
	}
	return nil
}

// ListAnalyses returns a session's analyzer outputs, most recent first.
func (c *Client) ListAnalyses(ctx context.Context, sessionID string, limit int) ([]models.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	results, err := surrealdb.Query[[]models.AnalysisRecord](ctx, c.db, `
		SELECT * FROM analysis
		WHERE session = $session
		ORDER BY created_at DESC LIMIT $limit
	`, map[string]any{"session": sessionID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}
