package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/intake-go/internal/bucket"
	"github.com/raphaelgruber/intake-go/internal/llm"
	"github.com/raphaelgruber/intake-go/internal/metrics"
	"github.com/raphaelgruber/intake-go/internal/models"
	"github.com/raphaelgruber/intake-go/internal/pipeline"
	"github.com/raphaelgruber/intake-go/internal/profile"
)

// memoryStore backs the API with in-process maps for handler tests.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	messages map[string][]models.Message
	fields   *profile.MemoryStore
	nextID   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
		fields:   profile.NewMemoryStore(),
	}
}

func (m *memoryStore) CreateSession(_ context.Context, name, desc, firstBucket string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	sess := &models.Session{
		ID:                  fmt.Sprintf("sess-%d", m.nextID),
		BusinessName:        name,
		BusinessDescription: desc,
		CurrentBucket:       firstBucket,
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	m.sessions[sess.ID] = sess
	return sess, nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func (m *memoryStore) ListSessions(_ context.Context, _ int) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		copied := *sess
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memoryStore) UpdateSessionBucket(_ context.Context, id, bucketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		sess.CurrentBucket = bucketID
	}
	return nil
}

func (m *memoryStore) AppendMessage(_ context.Context, sessionID, role, content string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := models.Message{
		Role:      role,
		Content:   content,
		Seq:       int64(len(m.messages[sessionID]) + 1),
		CreatedAt: time.Now(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg, nil
}

func (m *memoryStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.messages[sessionID]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]models.Message, len(log))
	copy(out, log)
	return out, nil
}

func (m *memoryStore) GetProfile(_ context.Context, sessionID string) ([]models.ProfileFieldRecord, error) {
	out := []models.ProfileFieldRecord{}
	for slot, sv := range m.fields.Snapshot(sessionID) {
		out = append(out, models.ProfileFieldRecord{
			Slot:       slot,
			Value:      sv.Value,
			Confidence: string(sv.Confidence),
			UpdatedAt:  time.Now(),
		})
	}
	return out, nil
}

func (m *memoryStore) ListAnalyses(_ context.Context, _ string, _ int) ([]models.AnalysisRecord, error) {
	return nil, nil
}

func (m *memoryStore) SaveWatermark(_ context.Context, sessionID, analyzerKey string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.SetWatermark(analyzerKey, seq)
	}
	return nil
}

type fakeGenerator struct{}

func (fakeGenerator) GenerateWithSystem(context.Context, string, string) (string, error) {
	return "The owner keeps coming back to honesty as a core value.", nil
}

type fakeExtractor struct{}

func (fakeExtractor) ExtractStructured(_ context.Context, _, _ string, _ llm.FunctionSchema) (json.RawMessage, bool, error) {
	return json.RawMessage(`{"brand_words": {"value": ["honesty"], "confidence": "high"}}`), true, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memoryStore) {
	t.Helper()

	store := newMemoryStore()
	mapping, err := profile.LoadMapping("../../configs/field_mapping.yaml")
	if err != nil {
		t.Fatal(err)
	}
	pipe, err := pipeline.New(fakeGenerator{}, fakeExtractor{}, mapping, store.fields, pipeline.NewTracker(nil), pipeline.Options{
		Watermarks: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s := New(store, pipe, logger, 12)
	s.SetStats(metrics.NewCollector())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func createSession(t *testing.T, srv *httptest.Server) models.Session {
	t.Helper()
	resp := postJSON(t, srv.URL+"/sessions", `{"business_name": "Glowworks", "business_description": "Handmade candles"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	return decode[models.Session](t, resp)
}

func TestCreateSession(t *testing.T) {
	srv, _ := newTestServer(t)

	sess := createSession(t, srv)
	if sess.BusinessName != "Glowworks" {
		t.Errorf("business name = %q", sess.BusinessName)
	}
	if sess.CurrentBucket != string(bucket.Basics) {
		t.Errorf("current bucket = %q, want basics", sess.CurrentBucket)
	}

	resp := postJSON(t, srv.URL+"/sessions", `{"business_description": "no name"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetSession_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/sessions/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAppendMessage_TriggersPipeline(t *testing.T) {
	srv, store := newTestServer(t)
	sess := createSession(t, srv)

	// Move to the words bucket so the fake extraction lands in company_values.
	if err := store.UpdateSessionBucket(context.Background(), sess.ID, string(bucket.Words)); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv.URL+"/sessions/"+sess.ID+"/messages", `{"content": "we care about honesty"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("append status = %d", resp.StatusCode)
	}
	got := decode[appendMessageResponse](t, resp)
	if got.Message.Seq != 1 {
		t.Errorf("message seq = %d, want 1", got.Message.Seq)
	}
	if got.Job == nil {
		t.Fatal("no job admitted")
	}
	if got.Job.AnalyzerKey != "words" {
		t.Errorf("analyzer key = %q, want words", got.Job.AnalyzerKey)
	}

	// Wait for the async job to land the extracted value.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.fields.Snapshot(sess.ID)) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(srv.URL + "/sessions/" + sess.ID + "/profile")
	if err != nil {
		t.Fatal(err)
	}
	prof := decode[struct {
		Fields map[string]slotView `json:"fields"`
	}](t, resp)
	slot, ok := prof.Fields["company_values"]
	if !ok {
		t.Fatalf("company_values missing from profile: %v", prof.Fields)
	}
	if slot.Confidence != "high" {
		t.Errorf("confidence = %q, want high", slot.Confidence)
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := createSession(t, srv)

	tests := []struct {
		name string
		body string
	}{
		{"empty content", `{"content": ""}`},
		{"bad role", `{"role": "system", "content": "hi"}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/sessions/"+sess.ID+"/messages", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestAdvanceAndSkip(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := createSession(t, srv)
	url := srv.URL + "/sessions/" + sess.ID

	// basics is required: skip refuses, advance moves to assets.
	resp := postJSON(t, url+"/skip", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("skip basics status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, url+"/advance", "")
	got := decode[map[string]any](t, resp)
	if got["current_bucket"] != string(bucket.Assets) {
		t.Errorf("after advance bucket = %v, want assets", got["current_bucket"])
	}

	// assets is optional: skip moves on.
	resp = postJSON(t, url+"/skip", "")
	got = decode[map[string]any](t, resp)
	if got["current_bucket"] != string(bucket.Story) {
		t.Errorf("after skip bucket = %v, want story", got["current_bucket"])
	}

	// Walk to the terminal bucket, then advancing conflicts.
	for i := 0; i < 4; i++ {
		resp = postJSON(t, url+"/advance", "")
		resp.Body.Close()
	}
	resp = postJSON(t, url+"/advance", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("advance past done status = %d, want 409", resp.StatusCode)
	}
}

func TestWatchJob(t *testing.T) {
	srv, store := newTestServer(t)
	sess := createSession(t, srv)
	if err := store.UpdateSessionBucket(context.Background(), sess.ID, string(bucket.Words)); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv.URL+"/sessions/"+sess.ID+"/messages", `{"content": "honesty matters"}`)
	got := decode[appendMessageResponse](t, resp)
	if got.Job == nil {
		t.Fatal("no job admitted")
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + got.Job.ID + "/watch"
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer wsResp.Body.Close()

	// Read frames until the terminal status arrives.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var last jobView
	for {
		var frame jobView
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		last = frame
	}
	if last.Status != string(pipeline.JobStatusCompleted) {
		t.Errorf("last streamed status = %q, want completed", last.Status)
	}
}

func TestBucketsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/buckets")
	if err != nil {
		t.Fatal(err)
	}
	buckets := decode[[]bucketView](t, resp)
	if len(buckets) != 7 {
		t.Errorf("bucket count = %d, want 7", len(buckets))
	}
	if buckets[0].ID != "basics" || buckets[len(buckets)-1].ID != "done" {
		t.Errorf("bucket order wrong: %v", buckets)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	snap := decode[metrics.Snapshot](t, resp)
	if snap.UptimeSeconds < 0 {
		t.Errorf("uptime = %f", snap.UptimeSeconds)
	}
}
