package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/intake-go/internal/analyzer"
	"github.com/raphaelgruber/intake-go/internal/bucket"
	"github.com/raphaelgruber/intake-go/internal/conversation"
	"github.com/raphaelgruber/intake-go/internal/metrics"
	"github.com/raphaelgruber/intake-go/internal/models"
	"github.com/raphaelgruber/intake-go/internal/parser"
	"github.com/raphaelgruber/intake-go/internal/profile"
)

// Route binds a bucket to its processing stages. Buckets without an
// analyzer feed the raw conversation chunk straight into the parser.
type Route struct {
	Analyzer *analyzer.Definition
	Parser   parser.Definition
}

// Key is the admission key the single-flight guard uses: the analyzer ID
// when the route has one, the parser ID otherwise.
func (r Route) Key() string {
	if r.Analyzer != nil {
		return string(r.Analyzer.ID)
	}
	return string(r.Parser.ID)
}

var routes = func() map[bucket.ID]Route {
	parserFor := map[bucket.ID]parser.ID{
		bucket.Basics: parser.Basics,
		bucket.Assets: parser.Assets,
		bucket.Story:  parser.Story,
		bucket.Words:  parser.Words,
		bucket.Style:  parser.Style,
		bucket.Hub:    parser.Hub,
	}

	m := make(map[bucket.ID]Route, len(parserFor))
	for b, pid := range parserFor {
		pdef, ok := parser.ByID(pid)
		if !ok {
			panic(fmt.Sprintf("pipeline: parser %s missing from catalog", pid))
		}
		route := Route{Parser: pdef}
		if adef, ok := analyzer.ForBucket(b); ok {
			route.Analyzer = &adef
		}
		m[b] = route
	}
	return m
}()

// RouteFor returns the processing route for a bucket. The terminal bucket
// has none.
func RouteFor(b bucket.ID) (Route, bool) {
	r, ok := routes[b]
	return r, ok
}

// WatermarkStore persists the per-analyzer high-water mark of analyzed
// message sequence numbers. A nil store keeps watermarks in memory only.
type WatermarkStore interface {
	SaveWatermark(ctx context.Context, sessionID, analyzerKey string, seq int64) error
}

// AuditLog records analyzer prose for later inspection. Optional.
type AuditLog interface {
	RecordAnalysis(ctx context.Context, sessionID string, out *models.AnalysisOutput) error
}

// Options configures a Pipeline.
type Options struct {
	// Window caps how many trailing messages feed each analysis.
	Window int
	// Timeout bounds one job's LLM calls end to end.
	Timeout    time.Duration
	Watermarks WatermarkStore
	Audit      AuditLog
	Stats      *metrics.Collector
}

// Pipeline orchestrates analyze, parse, and merge for incoming messages.
type Pipeline struct {
	gen     analyzer.TextGenerator
	ext     parser.Extractor
	mapping *profile.Mapping
	fields  profile.Store
	tracker *Tracker

	window     int
	timeout    time.Duration
	watermarks WatermarkStore
	audit      AuditLog
	stats      *metrics.Collector
}

// New creates a pipeline. It fails when the mapping table cannot place a
// field any parser in the catalog may emit.
func New(gen analyzer.TextGenerator, ext parser.Extractor, mapping *profile.Mapping, fields profile.Store, tracker *Tracker, opts Options) (*Pipeline, error) {
	for _, def := range parser.All() {
		if err := mapping.ValidateTargets(def.Targets()); err != nil {
			return nil, fmt.Errorf("parser %s: %w", def.ID, err)
		}
	}

	if opts.Window <= 0 {
		opts.Window = conversation.DefaultWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	return &Pipeline{
		gen:        gen,
		ext:        ext,
		mapping:    mapping,
		fields:     fields,
		tracker:    tracker,
		window:     opts.Window,
		timeout:    opts.Timeout,
		watermarks: opts.Watermarks,
		audit:      opts.Audit,
		stats:      opts.Stats,
	}, nil
}

// Tracker exposes the job tracker for status surfaces.
func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

// HandleMessage triggers analysis for the session's current bucket after a
// new message lands. It returns the admitted job, or nil when nothing needs
// to run: the terminal bucket, an already-analyzed log, or an in-flight job
// for the same analyzer.
func (p *Pipeline) HandleMessage(ctx context.Context, sess *models.Session, log []models.Message) (*Job, error) {
	if len(log) == 0 {
		return nil, nil
	}

	b := bucket.Current(sess)
	route, ok := RouteFor(b.ID)
	if !ok {
		return nil, nil
	}

	key := route.Key()
	lastSeq := log[len(log)-1].Seq
	if lastSeq <= sess.Watermark(key) {
		slog.Debug("no new messages since last analysis", "session", sess.ID, "analyzer", key, "seq", lastSeq)
		return nil, nil
	}

	job, err := p.tracker.Admit(ctx, sess.ID, key, string(b.ID))
	if err != nil {
		if errors.Is(err, ErrAdmissionConflict) {
			return nil, nil
		}
		return nil, err
	}

	chunk := conversation.Window(log, p.window)

	go p.run(job, *sess, route, chunk, lastSeq)
	return job, nil
}

// run executes one admitted job to a terminal state. Merged fields are
// durable before the job reports completed; a crash in between re-runs an
// idempotent merge on the next trigger.
func (p *Pipeline) run(job *Job, sess models.Session, route Route, chunk conversation.Chunk, lastSeq int64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline job panicked", "job_id", job.ID, "panic", r)
			p.tracker.Fail(context.Background(), job, fmt.Errorf("internal panic: %v", r))
		}
	}()

	bgCtx := context.Background()
	p.tracker.SetRunning(bgCtx, job)

	ctx, cancel := context.WithTimeout(bgCtx, p.timeout)
	defer cancel()

	in := parser.Input{Chunk: chunk}
	result := &JobResult{Parser: string(route.Parser.ID)}

	if route.Analyzer != nil {
		out, err := analyzer.Analyze(ctx, p.gen, *route.Analyzer, analyzer.Context{
			BusinessName:        sess.BusinessName,
			BusinessDescription: sess.BusinessDescription,
			Chunk:               chunk,
		})
		if err != nil {
			p.tracker.Fail(bgCtx, job, err)
			return
		}
		in.Prose = out.Prose
		result.Analyzer = string(route.Analyzer.ID)

		if p.audit != nil {
			if err := p.audit.RecordAnalysis(bgCtx, sess.ID, out); err != nil {
				slog.Warn("failed to record analysis", "job_id", job.ID, "error", err)
			}
		}
	}

	parsed, err := parser.Parse(ctx, p.ext, route.Parser, in)
	if err != nil {
		p.tracker.Fail(bgCtx, job, err)
		return
	}
	result.SkippedFields = parsed.Skipped

	mergeStart := time.Now()
	merged, err := profile.Merge(ctx, p.fields, p.mapping, sess.ID, parsed)
	if err != nil {
		p.tracker.Fail(bgCtx, job, err)
		return
	}
	if p.stats != nil {
		p.stats.RecordTiming(metrics.OpMerge, time.Since(mergeStart))
	}
	result.FieldsWritten = merged.Written()
	result.FieldsSkipped = merged.Skipped() + len(parsed.Skipped)

	if p.watermarks != nil {
		if err := p.watermarks.SaveWatermark(bgCtx, sess.ID, job.AnalyzerKey, lastSeq); err != nil {
			// Re-analysis after a lost watermark merges the same fields again,
			// which the merge rules absorb.
			slog.Warn("failed to persist watermark", "job_id", job.ID, "error", err)
		}
	}

	p.tracker.Complete(bgCtx, job, result)
}
