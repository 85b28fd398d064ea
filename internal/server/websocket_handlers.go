package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/planscan-tech/planscan/internal/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens at the proxy layer.
		return true
	},
}

const progressPollInterval = 500 * time.Millisecond

// progressWebSocketHandler streams job status updates until the job reaches
// a terminal state or the client disconnects.
func (s *Server) progressWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := s.store.Get(r.Context(), jobID); err != nil {
		var notFound *jobs.NotFoundError
		if errors.As(err, &notFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
		} else {
			s.writeError(w, http.StatusInternalServerError, "failed to load job")
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("websocket connected", "job_id", jobID, "remote_addr", r.RemoteAddr)
	s.streamProgress(conn, jobID)
}

func (s *Server) streamProgress(conn *websocket.Conn, jobID string) {
	// The client never sends application messages; the read loop only
	// detects disconnects.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	var lastProgress = -1
	var lastStatus jobs.Status

	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
		}

		job, err := s.store.Get(context.Background(), jobID)
		if err != nil {
			s.logger.Warn("websocket status poll failed", "job_id", jobID, "error", err)
			return
		}

		if job.Progress != lastProgress || job.Status != lastStatus {
			lastProgress = job.Progress
			lastStatus = job.Status

			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(jobResponse(job)); err != nil {
				return
			}
		}

		if job.Status.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
