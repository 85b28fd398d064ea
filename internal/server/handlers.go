package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/planscan-tech/planscan/internal/jobs"
	"github.com/planscan-tech/planscan/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// uploadHandler accepts a drawing document and registers a queued job.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	if !allowedUpload(header.Filename) {
		s.writeError(w, http.StatusBadRequest, "unsupported file type, expected .pdf, .png, or .jpg")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	job, err := s.controller.CreateJob(r.Context(), header.Filename, data)
	if err != nil {
		s.logger.Error("job creation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := s.queue.Enqueue(job.ID); err != nil {
		s.logger.Error("enqueue failed", "job_id", job.ID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "server busy, try again later")
		return
	}

	s.writeJSON(w, http.StatusAccepted, jobResponse(job))
}

func allowedUpload(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// jobStatusHandler returns the current state of a job.
func (s *Server) jobStatusHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, jobResponse(job))
}

// resultsHandler returns per-page results for a completed job. A job in any
// other state yields 409 so clients keep polling the status endpoint.
func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusCompleted {
		s.writeError(w, http.StatusConflict, "job is "+string(job.Status)+", results are available once completed")
		return
	}

	results, err := s.store.GetResults(r.Context(), job.ID)
	if err != nil {
		s.logger.Error("results lookup failed", "job_id", job.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}

	s.writeJSON(w, http.StatusOK, ResultsResponse{
		JobID:        job.ID,
		TotalTendons: job.TotalTendons,
		Pages:        results,
	})
}

// cancelHandler requests cancellation of a job.
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	err := s.controller.Cancel(r.Context(), jobID)
	if err != nil {
		var notFound *jobs.NotFoundError
		var invalid *jobs.InvalidTransitionError
		switch {
		case errors.As(err, &notFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		case errors.As(err, &invalid):
			s.writeError(w, http.StatusConflict, "job is already "+string(invalid.From))
		default:
			s.logger.Error("cancel failed", "job_id", jobID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	job, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, jobResponse(job))
}

// downloadHandler serves the exported workbook for a completed job.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusCompleted {
		s.writeError(w, http.StatusConflict, "job is "+string(job.Status)+", workbook is available once completed")
		return
	}

	f, err := s.artifacts.Open(job.ID, "tendons.xlsx")
	if err != nil {
		s.logger.Error("workbook missing", "job_id", job.ID, "error", err)
		s.writeError(w, http.StatusNotFound, "workbook not found")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="tendons.xlsx"`)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Error("workbook download failed", "job_id", job.ID, "error", err)
	}
}

// fileDownloadHandler serves generated job artifacts by name, e.g. the
// annotated page overlays referenced by overlay_file in results. Uploaded
// source documents are not served back.
func (s *Server) fileDownloadHandler(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	name := r.PathValue("name")
	contentType, allowed := artifactContentType(name)
	if !allowed {
		s.writeError(w, http.StatusBadRequest, "unknown artifact name")
		return
	}

	f, err := s.artifacts.Open(job.ID, name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Error("artifact download failed", "job_id", job.ID, "name", name, "error", err)
	}
}

// artifactContentType maps a generated artifact name to its content type.
// Only generated artifacts may be fetched.
func artifactContentType(name string) (string, bool) {
	switch {
	case strings.HasSuffix(name, "_overlay.png"):
		return "image/png", true
	case name == "tendons.xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", true
	}
	return "", false
}

// lookupJob resolves the path job ID, writing the error response on failure.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	jobID := r.PathValue("id")
	job, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		var notFound *jobs.NotFoundError
		if errors.As(err, &notFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
		} else {
			s.logger.Error("job lookup failed", "job_id", jobID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to load job")
		}
		return nil, false
	}
	return job, true
}
