package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/raphaelgruber/intake-go/internal/bucket"
	"github.com/raphaelgruber/intake-go/internal/models"
	"github.com/raphaelgruber/intake-go/internal/pipeline"
)

type createSessionRequest struct {
	BusinessName        string `json:"business_name"`
	BusinessDescription string `json:"business_description"`
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type appendMessageResponse struct {
	Message models.Message `json:"message"`
	Job     *jobView       `json:"job,omitempty"`
}

type bucketView struct {
	ID       string `json:"id"`
	Order    int    `json:"order"`
	Optional bool   `json:"optional"`
}

type jobView struct {
	ID          string              `json:"id"`
	SessionID   string              `json:"session_id"`
	AnalyzerKey string              `json:"analyzer_key"`
	Bucket      string              `json:"bucket"`
	Status      string              `json:"status"`
	Result      *pipeline.JobResult `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

func toJobView(snap pipeline.Job) *jobView {
	return &jobView{
		ID:          snap.ID,
		SessionID:   snap.SessionID,
		AnalyzerKey: snap.AnalyzerKey,
		Bucket:      snap.Bucket,
		Status:      string(snap.Status),
		Result:      snap.Result,
		Error:       snap.Error,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
	}
}

type slotView struct {
	Value      any       `json:"value"`
	Confidence string    `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BusinessName == "" {
		writeError(w, http.StatusBadRequest, "business_name is required")
		return
	}

	sess, err := s.store.CreateSession(r.Context(), req.BusinessName, req.BusinessDescription, string(bucket.First().ID))
	if err != nil {
		s.logger.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context(), 100)
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// loadSession resolves the path's session or writes the error response.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) *models.Session {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("get session failed", "session", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "get session failed")
		return nil
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil
	}
	return sess
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAssistant {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", req.Role))
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := s.store.AppendMessage(r.Context(), sess.ID, req.Role, req.Content)
	if err != nil {
		s.logger.Error("append message failed", "session", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "append message failed")
		return
	}

	resp := appendMessageResponse{Message: msg}

	log, err := s.store.RecentMessages(r.Context(), sess.ID, s.window)
	if err != nil {
		// The message is durable; analysis catches up on the next append.
		s.logger.Warn("fetch recent messages failed", "session", sess.ID, "error", err)
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	job, err := s.pipe.HandleMessage(r.Context(), sess, log)
	if err != nil {
		s.logger.Warn("pipeline trigger failed", "session", sess.ID, "error", err)
	} else if job != nil {
		resp.Job = toJobView(job.Snapshot())
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	s.moveBucket(w, r, bucket.Advance)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.moveBucket(w, r, bucket.Skip)
}

func (s *Server) moveBucket(w http.ResponseWriter, r *http.Request, move func(*models.Session) (bucket.Bucket, error)) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}

	next, err := move(sess)
	if err != nil {
		switch {
		case errors.Is(err, bucket.ErrTerminal):
			writeError(w, http.StatusConflict, "session is already finished")
		case errors.Is(err, bucket.ErrNotOptional):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if err := s.store.UpdateSessionBucket(r.Context(), sess.ID, string(next.ID)); err != nil {
		s.logger.Error("update bucket failed", "session", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "update bucket failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"current_bucket": next.ID,
		"optional":       next.Optional,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}

	records, err := s.store.GetProfile(r.Context(), sess.ID)
	if err != nil {
		s.logger.Error("get profile failed", "session", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "get profile failed")
		return
	}

	fields := make(map[string]slotView, len(records))
	for _, rec := range records {
		fields[rec.Slot] = slotView{
			Value:      rec.Value,
			Confidence: rec.Confidence,
			UpdatedAt:  rec.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"fields":     fields,
	})
}

func (s *Server) handleSessionJobs(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}

	jobs := s.pipe.Tracker().ListForSession(sess.ID)
	views := make([]*jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, toJobView(job.Snapshot()))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}

	analyses, err := s.store.ListAnalyses(r.Context(), sess.ID, 20)
	if err != nil {
		s.logger.Error("list analyses failed", "session", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "list analyses failed")
		return
	}
	if analyses == nil {
		analyses = []models.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, analyses)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.pipe.Tracker().List()
	views := make([]*jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, toJobView(job.Snapshot()))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.pipe.Tracker().Get(r.PathValue("id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job.Snapshot()))
}

func (s *Server) handleBuckets(w http.ResponseWriter, _ *http.Request) {
	catalog := bucket.Catalog()
	views := make([]bucketView, 0, len(catalog))
	for _, b := range catalog {
		views = append(views, bucketView{ID: string(b.ID), Order: b.Order, Optional: b.Optional})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "stats collection disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
