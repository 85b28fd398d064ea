package jobs

import (
	"context"

	"github.com/planscan-tech/planscan/internal/measure"
)

// Fields is a partial update applied to a stored job. Only the keys present
// are written; everything else is left untouched.
type Fields map[string]any

// PageResult is the per-page outcome persisted alongside the job.
// OverlayFile is the artifact name of the annotated page image, served by
// the job file download endpoint.
type PageResult struct {
	Page        int              `json:"page"`
	TendonCount int              `json:"tendon_count"`
	OverlayFile string           `json:"overlay_file,omitempty"`
	Records     []measure.Record `json:"records"`
}

// Store persists job state. Every status write goes through SetStatus so
// that transition rules are enforced at the storage boundary regardless of
// backend.
type Store interface {
	// Create persists a new job. The job's status must be StatusQueued.
	Create(ctx context.Context, job *Job) error

	// Get returns the current state of a job, or NotFoundError.
	Get(ctx context.Context, jobID string) (*Job, error)

	// SetStatus transitions a job to status and merges extra fields in the
	// same write. Returns InvalidTransitionError when the current status
	// rejects the change.
	SetStatus(ctx context.Context, jobID string, status Status, extra Fields) error

	// SetFields merges fields without changing status. Progress values are
	// clamped so a stored percentage never regresses.
	SetFields(ctx context.Context, jobID string, fields Fields) error

	// SaveResults persists the per-page results for a job.
	SaveResults(ctx context.Context, jobID string, results []PageResult) error

	// GetResults returns persisted per-page results, or NotFoundError when
	// the job itself does not exist.
	GetResults(ctx context.Context, jobID string) ([]PageResult, error)
}
