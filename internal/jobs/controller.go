package jobs

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/planscan-tech/planscan/internal/detect"
	"github.com/planscan-tech/planscan/internal/measure"
	"github.com/planscan-tech/planscan/internal/progress"
	"github.com/planscan-tech/planscan/internal/rasterize"
	"github.com/planscan-tech/planscan/internal/storage"
)

// PageDetector runs tiled detection over one page image.
// *detect.Orchestrator satisfies it.
type PageDetector interface {
	Run(ctx context.Context, page image.Image, cb detect.ProgressCallback) ([]detect.Detection, error)
}

// WorkbookWriter renders measurement records into workbook bytes.
// *export.Writer satisfies it.
type WorkbookWriter interface {
	Workbook(records []measure.Record) ([]byte, error)
}

// Controller owns the job lifecycle: it creates jobs, drives a queued job
// through rasterization, detection, measurement, and export, and handles
// cancellation. All collaborators are injected.
type Controller struct {
	store     Store
	artifacts *storage.Store
	raster    rasterize.Rasterizer
	detector  PageDetector
	extractor measure.Extractor
	exporter  WorkbookWriter
	logger    *slog.Logger
}

// NewController wires a controller from its collaborators.
func NewController(
	store Store,
	artifacts *storage.Store,
	raster rasterize.Rasterizer,
	detector PageDetector,
	extractor measure.Extractor,
	exporter WorkbookWriter,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:     store,
		artifacts: artifacts,
		raster:    raster,
		detector:  detector,
		extractor: extractor,
		exporter:  exporter,
		logger:    logger,
	}
}

// CreateJob persists the upload and registers a queued job for it.
func (c *Controller) CreateJob(ctx context.Context, filename string, data []byte) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Filename:  filename,
		Message:   "Queued for processing",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := c.artifacts.SaveUpload(job.ID, filename, data); err != nil {
		return nil, fmt.Errorf("persist upload: %w", err)
	}
	if err := c.store.Create(ctx, job); err != nil {
		_ = c.artifacts.Remove(job.ID)
		return nil, err
	}
	jobsCreatedTotal.Inc()
	c.logger.Info("job created", "job_id", job.ID, "filename", filename, "bytes", len(data))
	return job, nil
}

// Cancel requests cancellation of a job. Terminal jobs reject it with
// InvalidTransitionError; the running worker observes the stored status at
// the next page boundary.
func (c *Controller) Cancel(ctx context.Context, jobID string) error {
	err := c.store.SetStatus(ctx, jobID, StatusCancelled, Fields{"message": "Cancelled by user"})
	if err != nil {
		return err
	}
	c.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// Process runs a queued job to a terminal state. Engine or document errors
// fail the whole job; a cancel observed at a page boundary stops the run
// without marking it failed.
func (c *Controller) Process(ctx context.Context, jobID string) error {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if err := c.store.SetStatus(ctx, jobID, StatusProcessing, Fields{"message": "Processing started"}); err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) && invalid.From == StatusCancelled {
			// Cancelled while queued, nothing to do.
			return nil
		}
		return err
	}

	start := time.Now()
	defer func() { jobProcessingDuration.Observe(time.Since(start).Seconds()) }()

	if runErr := c.run(ctx, job); runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, errCancelled) {
			return c.markCancelled(jobID)
		}
		return c.markFailed(jobID, runErr)
	}
	return nil
}

// errCancelled signals a cancel observed in the stored job state.
var errCancelled = errors.New("job cancelled")

func (c *Controller) run(ctx context.Context, job *Job) error {
	tracker := progress.NewTracker(c.progressSink(job.ID))
	_ = tracker.Starting()

	pages, err := c.raster.Rasterize(ctx, c.artifacts.Path(job.ID, job.Filename))
	if err != nil {
		return err
	}

	_ = tracker.Rasterized(len(pages))
	if err := c.store.SetFields(ctx, job.ID, Fields{"total_pages": len(pages)}); err != nil {
		return err
	}

	var (
		results    []PageResult
		allRecords []measure.Record
	)
	for i, page := range pages {
		if err := c.checkCancelled(ctx, job.ID); err != nil {
			return err
		}
		if err := c.store.SetFields(ctx, job.ID, Fields{"current_page": i + 1}); err != nil {
			return err
		}

		result, records, err := c.processPage(ctx, job.ID, i, page, tracker)
		if err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
		results = append(results, result)
		allRecords = append(allRecords, records...)
	}

	_ = tracker.Exporting()
	workbook, err := c.exporter.Workbook(allRecords)
	if err != nil {
		return fmt.Errorf("export workbook: %w", err)
	}

	_ = tracker.Persisting()
	excelPath, err := c.artifacts.SaveWorkbook(job.ID, workbook)
	if err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := c.store.SaveResults(ctx, job.ID, results); err != nil {
		return err
	}

	_ = tracker.Complete(len(allRecords))
	err = c.store.SetStatus(ctx, job.ID, StatusCompleted, Fields{
		"total_tendons": len(allRecords),
		"excel_path":    excelPath,
		"progress":      100,
		"message":       fmt.Sprintf("Complete! Detected %d tendons", len(allRecords)),
	})
	if err != nil {
		return err
	}

	jobsFinishedTotal.WithLabelValues(string(StatusCompleted)).Inc()
	tendonsDetected.Observe(float64(len(allRecords)))
	c.logger.Info("job completed",
		"job_id", job.ID, "pages", len(pages), "tendons", len(allRecords))
	return nil
}

func (c *Controller) processPage(ctx context.Context, jobID string, pageIdx int, page image.Image, tracker *progress.Tracker) (PageResult, []measure.Record, error) {
	pt := tracker.Page(pageIdx)
	_ = pt.Preparing()

	detections, err := c.detector.Run(ctx, page, &pageProgress{pt: pt, logger: c.logger})
	if err != nil {
		return PageResult{}, nil, err
	}

	_ = pt.Extracting()
	overlay, records, err := c.extractor.Extract(ctx, detections, page)
	if err != nil {
		return PageResult{}, nil, err
	}
	_ = pt.Measuring()

	pageNum := pageIdx + 1
	for i := range records {
		records[i].Page = pageNum
	}

	_ = pt.Saving()
	overlayPath, err := c.artifacts.SaveOverlay(jobID, pageNum, overlay)
	if err != nil {
		return PageResult{}, nil, err
	}
	_ = pt.Done()

	return PageResult{
		Page:        pageNum,
		TendonCount: len(records),
		OverlayFile: filepath.Base(overlayPath),
		Records:     records,
	}, records, nil
}

// checkCancelled observes both the caller's context and the stored status.
func (c *Controller) checkCancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == StatusCancelled {
		return errCancelled
	}
	return nil
}

// progressSink forwards tracker updates into the job store.
func (c *Controller) progressSink(jobID string) progress.Sink {
	return progress.SinkFunc(func(u progress.Update) error {
		err := c.store.SetFields(context.Background(), jobID, Fields{
			"progress": u.Percent,
			"message":  u.Message,
		})
		if err != nil {
			c.logger.Warn("progress write failed", "job_id", jobID, "error", err)
		}
		return err
	})
}

func (c *Controller) markFailed(jobID string, cause error) error {
	jobsFinishedTotal.WithLabelValues(string(StatusFailed)).Inc()
	c.logger.Error("job failed", "job_id", jobID, "error", cause)
	err := c.store.SetStatus(context.Background(), jobID, StatusFailed, Fields{
		"error":   cause.Error(),
		"message": "Processing failed",
	})
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			// Already terminal, keep the original outcome.
			return cause
		}
		return err
	}
	return cause
}

func (c *Controller) markCancelled(jobID string) error {
	jobsFinishedTotal.WithLabelValues(string(StatusCancelled)).Inc()
	err := c.store.SetStatus(context.Background(), jobID, StatusCancelled, Fields{"message": "Cancelled by user"})
	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		// Cancel already recorded.
		return nil
	}
	return err
}

// pageProgress adapts a page tracker to the detection callback interface.
type pageProgress struct {
	pt     *progress.PageTracker
	logger *slog.Logger
}

func (p *pageProgress) OnStart(totalTiles int) {
	if err := p.pt.Detection(0, totalTiles); err != nil {
		p.logger.Warn("progress publish failed", "error", err)
	}
}

func (p *pageProgress) OnProgress(tilesDone, totalTiles int) {
	if err := p.pt.Detection(tilesDone, totalTiles); err != nil {
		p.logger.Warn("progress publish failed", "error", err)
	}
}

func (p *pageProgress) OnComplete() {}
