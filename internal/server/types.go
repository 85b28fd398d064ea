// Package server exposes the job API over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/planscan-tech/planscan/internal/jobs"
	"github.com/planscan-tech/planscan/internal/storage"
)

// jobController is the slice of the lifecycle controller the server needs.
type jobController interface {
	CreateJob(ctx context.Context, filename string, data []byte) (*jobs.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// jobQueue hands created jobs to the worker pool.
type jobQueue interface {
	Enqueue(jobID string) error
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	MaxUploadMB int64
	Timeout     time.Duration
	CORSOrigin  string
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	controller jobController
	store      jobs.Store
	queue      jobQueue
	artifacts  *storage.Store
	cfg        Config
	logger     *slog.Logger
}

// NewServer wires the HTTP layer from its dependencies.
func NewServer(cfg Config, controller jobController, store jobs.Store, queue jobQueue, artifacts *storage.Store, logger *slog.Logger) *Server {
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		controller: controller,
		store:      store,
		queue:      queue,
		artifacts:  artifacts,
		cfg:        cfg,
		logger:     logger,
	}
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// JobResponse is the job status payload.
type JobResponse struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	Message         string `json:"message,omitempty"`
	Filename        string `json:"filename"`
	TotalPages      int    `json:"total_pages,omitempty"`
	CurrentPage     int    `json:"current_page,omitempty"`
	TotalTendons    int    `json:"total_tendons,omitempty"`
	ExportAvailable bool   `json:"export_available"`
	Error           string `json:"error,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// ResultsResponse is the completed-job results payload.
type ResultsResponse struct {
	JobID        string            `json:"job_id"`
	TotalTendons int               `json:"total_tendons"`
	Pages        []jobs.PageResult `json:"pages"`
}

// ErrorResponse is the error payload for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

func jobResponse(job *jobs.Job) JobResponse {
	return JobResponse{
		JobID:           job.ID,
		Status:          string(job.Status),
		Progress:        job.Progress,
		Message:         job.Message,
		Filename:        job.Filename,
		TotalPages:      job.TotalPages,
		CurrentPage:     job.CurrentPage,
		TotalTendons:    job.TotalTendons,
		ExportAvailable: job.ExcelPath != "",
		Error:           job.Error,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", s.corsMiddleware(s.uploadHandler))
	mux.HandleFunc("GET /jobs/{id}", s.corsMiddleware(s.jobStatusHandler))
	mux.HandleFunc("GET /jobs/{id}/results", s.corsMiddleware(s.resultsHandler))
	mux.HandleFunc("POST /jobs/{id}/cancel", s.corsMiddleware(s.cancelHandler))
	mux.HandleFunc("GET /jobs/{id}/download", s.corsMiddleware(s.downloadHandler))
	mux.HandleFunc("GET /jobs/{id}/files/{name}", s.corsMiddleware(s.fileDownloadHandler))
	mux.HandleFunc("GET /jobs/{id}/ws", s.progressWebSocketHandler)
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.Handle("GET /metrics", promhttp.Handler())

	// CORS preflight for all routes.
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
}

// httpServer builds the configured http.Server. The request timeouts come
// from configuration; the WebSocket upgrade clears the connection deadlines,
// so the progress stream is not bounded by them.
func (s *Server) httpServer() *http.Server {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
	}
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := s.httpServer()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
