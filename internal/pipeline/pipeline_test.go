package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/intake-go/internal/bucket"
	"github.com/raphaelgruber/intake-go/internal/llm"
	"github.com/raphaelgruber/intake-go/internal/models"
	"github.com/raphaelgruber/intake-go/internal/profile"
)

type fakeGenerator struct {
	mu    sync.Mutex
	prose string
	err   error
	calls int
	block chan struct{} // when set, GenerateWithSystem waits on it
}

func (g *fakeGenerator) GenerateWithSystem(ctx context.Context, _, _ string) (string, error) {
	g.mu.Lock()
	g.calls++
	block := g.block
	prose, err := g.prose, g.err
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return prose, err
}

type fakeExtractor struct {
	mu      sync.Mutex
	args    string
	err     error
	gotUser string
}

func (f *fakeExtractor) ExtractStructured(_ context.Context, _, user string, _ llm.FunctionSchema) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotUser = user
	if f.err != nil {
		return nil, false, f.err
	}
	return json.RawMessage(f.args), true, nil
}

func (f *fakeExtractor) setArgs(args string) {
	f.mu.Lock()
	f.args = args
	f.mu.Unlock()
}

// sessionWatermarks writes watermarks back onto the session, standing in for
// the database round trip.
type sessionWatermarks struct {
	mu   sync.Mutex
	sess *models.Session
}

func (w *sessionWatermarks) SaveWatermark(_ context.Context, _, analyzerKey string, seq int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sess.SetWatermark(analyzerKey, seq)
	return nil
}

func testPipeline(t *testing.T, gen *fakeGenerator, ext *fakeExtractor, store profile.Store, opts Options) *Pipeline {
	t.Helper()
	mapping, err := profile.ParseMapping([]byte(`
version: 1
fields:
  business_name: {slot: company_name, policy: replace}
  business_summary: {slot: company_summary, policy: replace}
  target_audience: {slot: target_audience, policy: replace}
  price_tier: {slot: price_tier, policy: replace}
  industry: {slot: industry, policy: replace}
  has_logo: {slot: has_logo, policy: replace}
  asset_types: {slot: existing_assets, policy: accumulate}
  photo_sources: {slot: photo_sources, policy: accumulate}
  origin_story: {slot: origin_story, policy: replace}
  founder_motivation: {slot: founder_motivation, policy: replace}
  milestones: {slot: milestones, policy: accumulate}
  brand_words: {slot: company_values, policy: accumulate}
  tagline_ideas: {slot: tagline_ideas, policy: accumulate}
  tone: {slot: brand_tone, policy: replace}
  color_preferences: {slot: color_palette, policy: accumulate}
  font_style: {slot: font_style, policy: replace}
  visual_references: {slot: visual_references, policy: accumulate}
  hub_sections: {slot: hub_sections, policy: accumulate}
  primary_cta: {slot: primary_cta, policy: replace}
  contact_channels: {slot: contact_channels, policy: accumulate}
`))
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(gen, ext, mapping, store, NewTracker(nil), opts)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func waitForJob(t *testing.T, job *Job) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := job.Snapshot()
		if snap.Status == JobStatusCompleted || snap.Status == JobStatusFailed {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish, status %s", job.ID, job.Snapshot().Status)
	return Job{}
}

func wordsSession() *models.Session {
	return &models.Session{
		ID:                  "sess-1",
		BusinessName:        "Glowworks",
		BusinessDescription: "Handmade candles",
		CurrentBucket:       string(bucket.Words),
	}
}

func wordsLog(n int) []models.Message {
	log := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		log = append(log, models.Message{Role: role, Content: "message", Seq: int64(i + 1)})
	}
	return log
}

func TestHandleMessage_EndToEnd(t *testing.T) {
	gen := &fakeGenerator{prose: "The owner keeps returning to honesty and speed as core values."}
	ext := &fakeExtractor{args: `{
		"brand_words": {"value": ["honesty", "speed"], "confidence": "high", "reasoning": "stated twice"}
	}`}
	store := profile.NewMemoryStore()
	sess := wordsSession()
	p := testPipeline(t, gen, ext, store, Options{Watermarks: &sessionWatermarks{sess: sess}})

	job, err := p.HandleMessage(context.Background(), sess, wordsLog(3))
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if job == nil {
		t.Fatal("no job admitted")
	}

	snap := waitForJob(t, job)
	if snap.Status != JobStatusCompleted {
		t.Fatalf("job status = %s, error = %s", snap.Status, snap.Error)
	}
	if snap.Result.Analyzer != "words" || snap.Result.Parser != "words" {
		t.Errorf("result route = %s/%s", snap.Result.Analyzer, snap.Result.Parser)
	}
	if snap.Result.FieldsWritten != 1 {
		t.Errorf("fields written = %d, want 1", snap.Result.FieldsWritten)
	}

	sv := store.Snapshot("sess-1")["company_values"]
	if !reflect.DeepEqual(sv.Value, []string{"honesty", "speed"}) {
		t.Errorf("company_values = %#v", sv.Value)
	}
	if sv.Confidence != models.ConfidenceHigh {
		t.Errorf("stamp = %s, want high", sv.Confidence)
	}

	// The parser saw the analyzer's prose, not the raw transcript.
	ext.mu.Lock()
	gotUser := ext.gotUser
	ext.mu.Unlock()
	if gotUser != gen.prose {
		t.Errorf("parser input = %q, want analyzer prose", gotUser)
	}

	// Watermark advanced: replaying the same log is a no-op.
	again, err := p.HandleMessage(context.Background(), sess, wordsLog(3))
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Error("re-trigger on analyzed log admitted a job")
	}

	// A later lower-confidence offer leaves the high-confidence slot alone.
	ext.setArgs(`{"brand_words": {"value": ["speed", "cheap"], "confidence": "medium"}}`)
	job2, err := p.HandleMessage(context.Background(), sess, wordsLog(5))
	if err != nil {
		t.Fatal(err)
	}
	if job2 == nil {
		t.Fatal("new messages did not admit a job")
	}
	snap2 := waitForJob(t, job2)
	if snap2.Status != JobStatusCompleted {
		t.Fatalf("second job status = %s, error = %s", snap2.Status, snap2.Error)
	}

	sv = store.Snapshot("sess-1")["company_values"]
	if !reflect.DeepEqual(sv.Value, []string{"honesty", "speed"}) {
		t.Errorf("company_values after medium offer = %#v, want unchanged", sv.Value)
	}
}

func TestHandleMessage_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	gen := &fakeGenerator{prose: "analysis", block: block}
	ext := &fakeExtractor{args: `{}`}
	sess := wordsSession()
	p := testPipeline(t, gen, ext, profile.NewMemoryStore(), Options{Watermarks: &sessionWatermarks{sess: sess}})

	job, err := p.HandleMessage(context.Background(), sess, wordsLog(2))
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("no job admitted")
	}

	// While the first job is stuck in the model call, a newer message must
	// not start a second one.
	dup, err := p.HandleMessage(context.Background(), sess, wordsLog(3))
	if err != nil {
		t.Fatal(err)
	}
	if dup != nil {
		t.Error("second job admitted while first in flight")
	}

	close(block)
	waitForJob(t, job)
}

func TestHandleMessage_RawChunkBucket(t *testing.T) {
	// The assets bucket has no analyzer: the parser reads the transcript.
	gen := &fakeGenerator{prose: "should not be called"}
	ext := &fakeExtractor{args: `{"has_logo": true}`}
	store := profile.NewMemoryStore()
	sess := wordsSession()
	sess.CurrentBucket = string(bucket.Assets)
	p := testPipeline(t, gen, ext, store, Options{Watermarks: &sessionWatermarks{sess: sess}})

	log := []models.Message{{Role: models.RoleUser, Content: "yes I have a logo", Seq: 1}}
	job, err := p.HandleMessage(context.Background(), sess, log)
	if err != nil {
		t.Fatal(err)
	}
	snap := waitForJob(t, job)
	if snap.Status != JobStatusCompleted {
		t.Fatalf("job status = %s, error = %s", snap.Status, snap.Error)
	}
	if snap.Result.Analyzer != "" {
		t.Errorf("analyzer = %q, want none", snap.Result.Analyzer)
	}

	gen.mu.Lock()
	calls := gen.calls
	gen.mu.Unlock()
	if calls != 0 {
		t.Errorf("generator called %d times for raw-chunk bucket", calls)
	}

	ext.mu.Lock()
	gotUser := ext.gotUser
	ext.mu.Unlock()
	if gotUser != "User: yes I have a logo" {
		t.Errorf("parser input = %q, want transcript", gotUser)
	}
	if store.Snapshot("sess-1")["has_logo"].Value != true {
		t.Errorf("has_logo = %#v", store.Snapshot("sess-1")["has_logo"].Value)
	}
}

func TestHandleMessage_TerminalBucket(t *testing.T) {
	sess := wordsSession()
	sess.CurrentBucket = string(bucket.Done)
	p := testPipeline(t, &fakeGenerator{}, &fakeExtractor{args: `{}`}, profile.NewMemoryStore(), Options{})

	job, err := p.HandleMessage(context.Background(), sess, wordsLog(2))
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Error("terminal bucket admitted a job")
	}
}

func TestHandleMessage_FailureLeavesWatermark(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	ext := &fakeExtractor{args: `{}`}
	sess := wordsSession()
	p := testPipeline(t, gen, ext, profile.NewMemoryStore(), Options{Watermarks: &sessionWatermarks{sess: sess}})

	job, err := p.HandleMessage(context.Background(), sess, wordsLog(2))
	if err != nil {
		t.Fatal(err)
	}
	snap := waitForJob(t, job)
	if snap.Status != JobStatusFailed {
		t.Fatalf("job status = %s, want failed", snap.Status)
	}

	// The watermark did not advance, so the same log can be retried.
	retry, err := p.HandleMessage(context.Background(), sess, wordsLog(2))
	if err != nil {
		t.Fatal(err)
	}
	if retry == nil {
		t.Error("retry after failure not admitted")
	}
}

func TestNew_RejectsIncompleteMapping(t *testing.T) {
	mapping, err := profile.ParseMapping([]byte(`
version: 1
fields:
  brand_words: {slot: company_values, policy: accumulate}
`))
	if err != nil {
		t.Fatal(err)
	}

	_, err = New(&fakeGenerator{}, &fakeExtractor{}, mapping, profile.NewMemoryStore(), NewTracker(nil), Options{})
	if err == nil {
		t.Fatal("New() accepted a mapping that cannot place every parser target")
	}
}

func TestRouteFor(t *testing.T) {
	for _, b := range []bucket.ID{bucket.Basics, bucket.Assets, bucket.Story, bucket.Words, bucket.Style, bucket.Hub} {
		route, ok := RouteFor(b)
		if !ok {
			t.Errorf("RouteFor(%s) missing", b)
			continue
		}
		if string(route.Parser.ID) != string(b) {
			t.Errorf("RouteFor(%s) parser = %s", b, route.Parser.ID)
		}
	}

	if _, ok := RouteFor(bucket.Done); ok {
		t.Error("terminal bucket has a route")
	}

	withAnalyzer := map[bucket.ID]bool{
		bucket.Basics: true, bucket.Assets: false, bucket.Story: true,
		bucket.Words: true, bucket.Style: true, bucket.Hub: false,
	}
	for b, want := range withAnalyzer {
		route, _ := RouteFor(b)
		if got := route.Analyzer != nil; got != want {
			t.Errorf("RouteFor(%s) analyzer present = %v, want %v", b, got, want)
		}
	}
}
