// Package client provides an HTTP client for the intake server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/intake-go/internal/metrics"
)

// Client is a JSON API client for the intake server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
// If baseURL is empty, uses INTAKE_SERVER_URL env var or defaults to localhost:8486.
// Timeout can be configured via INTAKE_CLIENT_TIMEOUT env var (default 2m for LLM-bound calls).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("INTAKE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8486"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := 2 * time.Minute
	if t := os.Getenv("INTAKE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiError is the server's JSON error envelope.
type apiError struct {
	Error string `json:"error"`
}

// do executes one request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server error: %s", apiErr.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(data))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// =============================================================================
// TYPES (matching the server's JSON views)
// =============================================================================

// Session is one onboarding conversation.
type Session struct {
	ID                  string           `json:"id"`
	BusinessName        string           `json:"business_name"`
	BusinessDescription string           `json:"business_description"`
	CurrentBucket       string           `json:"current_bucket"`
	Watermarks          map[string]int64 `json:"watermarks,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Message is a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// JobResult summarizes a completed analysis job.
type JobResult struct {
	Analyzer      string   `json:"analyzer,omitempty"`
	Parser        string   `json:"parser"`
	FieldsWritten int      `json:"fields_written"`
	FieldsSkipped int      `json:"fields_skipped"`
	SkippedFields []string `json:"skipped_fields,omitempty"`
}

// Job is one background analysis run.
type Job struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	AnalyzerKey string     `json:"analyzer_key"`
	Bucket      string     `json:"bucket"`
	Status      string     `json:"status"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SendResult is the response to appending a message.
type SendResult struct {
	Message Message `json:"message"`
	Job     *Job    `json:"job,omitempty"`
}

// Slot is one written profile field.
type Slot struct {
	Value      any       `json:"value"`
	Confidence string    `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Profile is the extracted business profile of a session.
type Profile struct {
	SessionID string          `json:"session_id"`
	Fields    map[string]Slot `json:"fields"`
}

// Bucket is one topic stage of the interview.
type Bucket struct {
	ID       string `json:"id"`
	Order    int    `json:"order"`
	Optional bool   `json:"optional"`
}

// BucketMove is the response to advance/skip.
type BucketMove struct {
	CurrentBucket string `json:"current_bucket"`
	Optional      bool   `json:"optional"`
}

// Analysis is one persisted analyzer output.
type Analysis struct {
	Analyzer      string    `json:"analyzer"`
	Prose         string    `json:"prose"`
	InputMessages int       `json:"input_messages"`
	CreatedAt     time.Time `json:"created_at"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateSession starts a new onboarding session.
func (c *Client) CreateSession(ctx context.Context, businessName, businessDescription string) (*Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{
		"business_name":        businessName,
		"business_description": businessDescription,
	}, &sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession fetches a session by ID.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions fetches all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// SendMessage appends a conversation turn and returns the admitted analysis
// job, if any.
func (c *Client) SendMessage(ctx context.Context, sessionID, role, content string) (*SendResult, error) {
	var result SendResult
	err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/messages", map[string]string{
		"role":    role,
		"content": content,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Advance moves the session to the next bucket.
func (c *Client) Advance(ctx context.Context, sessionID string) (*BucketMove, error) {
	var move BucketMove
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/advance", nil, &move); err != nil {
		return nil, err
	}
	return &move, nil
}

// Skip skips the session's current bucket. Only optional buckets can be skipped.
func (c *Client) Skip(ctx context.Context, sessionID string) (*BucketMove, error) {
	var move BucketMove
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/skip", nil, &move); err != nil {
		return nil, err
	}
	return &move, nil
}

// GetProfile fetches the session's extracted business profile.
func (c *Client) GetProfile(ctx context.Context, sessionID string) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/profile", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListJobs fetches a session's analysis jobs.
func (c *Client) ListJobs(ctx context.Context, sessionID string) ([]Job, error) {
	var jobs []Job
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListAllJobs fetches every tracked job across sessions.
func (c *Client) ListAllJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches one job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListAnalyses fetches the session's analyzer audit trail.
func (c *Client) ListAnalyses(ctx context.Context, sessionID string) ([]Analysis, error) {
	var analyses []Analysis
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/analyses", nil, &analyses); err != nil {
		return nil, err
	}
	return analyses, nil
}

// ListBuckets fetches the interview's bucket catalog.
func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var buckets []Bucket
	if err := c.do(ctx, http.MethodGet, "/buckets", nil, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// GetStats fetches the server's runtime statistics.
func (c *Client) GetStats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// WatchJob streams job status changes over a WebSocket until the job reaches
// a terminal state, invoking onUpdate for every frame. Returns the final job.
func (c *Client) WatchJob(ctx context.Context, jobID string, onUpdate func(Job)) (*Job, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/jobs/" + jobID + "/watch"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial watch socket: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Close the socket when the caller gives up so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	var last *Job
	for {
		var job Job
		if err := conn.ReadJSON(&job); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last != nil {
				return last, nil
			}
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("read watch socket: %w", err)
		}
		last = &job
		if onUpdate != nil {
			onUpdate(job)
		}
		if job.Status == "completed" || job.Status == "failed" {
			return last, nil
		}
	}
}
