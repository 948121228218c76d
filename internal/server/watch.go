package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/intake-go/internal/pipeline"
)

const (
	watchPollInterval = 250 * time.Millisecond
	watchPingInterval = 10 * time.Second
	watchWriteTimeout = 5 * time.Second
)

// handleWatchJob streams job status over a WebSocket until the job reaches a
// terminal state. Each status change is sent as one JSON frame.
func (s *Server) handleWatchJob(w http.ResponseWriter, r *http.Request) {
	job := s.pipe.Tracker().Get(r.PathValue("id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", job.ID, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(watchPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	var lastStatus pipeline.JobStatus
	for {
		snap := job.Snapshot()
		if snap.Status != lastStatus {
			lastStatus = snap.Status
			conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(toJobView(snap)); err != nil {
				return
			}
		}
		if snap.Status == pipeline.JobStatusCompleted || snap.Status == pipeline.JobStatusFailed {
			conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)))
			return
		}

		select {
		case <-poll.C:
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
