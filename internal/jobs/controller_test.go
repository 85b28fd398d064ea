package jobs

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planscan-tech/planscan/internal/detect"
	"github.com/planscan-tech/planscan/internal/export"
	"github.com/planscan-tech/planscan/internal/measure"
	"github.com/planscan-tech/planscan/internal/storage"
	"github.com/planscan-tech/planscan/internal/utils"
)

type fakeRasterizer struct {
	pages int
	err   error
}

func (f *fakeRasterizer) Rasterize(_ context.Context, _ string) ([]image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	pages := make([]image.Image, f.pages)
	for i := range pages {
		pages[i] = imaging.New(100, 80, color.White)
	}
	return pages, nil
}

type fakeDetector struct {
	perPage [][]detect.Detection
	calls   int
	err     error
	onCall  func(call int)
}

func (f *fakeDetector) Run(_ context.Context, _ image.Image, cb detect.ProgressCallback) ([]detect.Detection, error) {
	call := f.calls
	f.calls++
	if f.onCall != nil {
		f.onCall(call)
	}
	if f.err != nil {
		return nil, f.err
	}
	cb.OnStart(4)
	cb.OnProgress(4, 4)
	cb.OnComplete()
	if call < len(f.perPage) {
		return f.perPage[call], nil
	}
	return nil, nil
}

func det(value string, conf float64) detect.Detection {
	return detect.Detection{
		Value:      value,
		Confidence: conf,
		Box:        utils.Box{MinX: 0.1, MinY: 0.1, MaxX: 0.2, MaxY: 0.2},
	}
}

func newTestController(t *testing.T, store Store, raster *fakeRasterizer, detector *fakeDetector) (*Controller, *storage.Store) {
	t.Helper()
	artifacts, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	extractor, err := measure.NewCalloutExtractor("")
	require.NoError(t, err)
	return NewController(store, artifacts, raster, detector, extractor, export.NewWriter(nil), nil), artifacts
}

func TestProcessCompletesJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	detector := &fakeDetector{perPage: [][]detect.Detection{
		{det("T12", 0.95), det("T7", 0.88)},
		{det("T3", 0.91)},
	}}
	controller, artifacts := newTestController(t, store, &fakeRasterizer{pages: 2}, detector)

	job, err := controller.CreateJob(ctx, "plan.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, controller.Process(ctx, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, 2, final.TotalPages)
	assert.Equal(t, 3, final.TotalTendons)
	assert.True(t, artifacts.Exists(job.ID, "tendons.xlsx"))

	results, err := store.GetResults(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].TendonCount)
	assert.Equal(t, 1, results[1].TendonCount)
	assert.Equal(t, 2, results[1].Records[0].Page)
	assert.Equal(t, "T3", results[1].Records[0].Tendon)
	assert.Equal(t, "page_1_overlay.png", results[0].OverlayFile)
	assert.Equal(t, "page_2_overlay.png", results[1].OverlayFile)
}

func TestProcessProgressReachesStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	detector := &fakeDetector{perPage: [][]detect.Detection{{det("T1", 0.9)}}}
	controller, _ := newTestController(t, store, &fakeRasterizer{pages: 1}, detector)

	job, err := controller.CreateJob(ctx, "plan.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, controller.Process(ctx, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, final.Progress)
	assert.Contains(t, final.Message, "Detected 1 tendons")
}

func TestProcessDetectorFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	detector := &fakeDetector{err: errors.New("engine unavailable")}
	controller, _ := newTestController(t, store, &fakeRasterizer{pages: 2}, detector)

	job, err := controller.CreateJob(ctx, "plan.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Error(t, controller.Process(ctx, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "engine unavailable")
	// The whole page fails, so only the first page was attempted.
	assert.Equal(t, 1, detector.calls)
}

func TestProcessRasterizeFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	controller, _ := newTestController(t, store, &fakeRasterizer{err: errors.New("invalid PDF")}, &fakeDetector{})

	job, err := controller.CreateJob(ctx, "plan.pdf", []byte("junk"))
	require.NoError(t, err)
	require.Error(t, controller.Process(ctx, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
}

func TestCancelQueuedJobSkipsProcessing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	detector := &fakeDetector{}
	controller, _ := newTestController(t, store, &fakeRasterizer{pages: 2}, detector)

	job, err := controller.CreateJob(ctx, "plan.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, controller.Cancel(ctx, job.ID))

	require.NoError(t, controller.Process(ctx, job.ID))
	assert.Zero(t, detector.calls)

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
}

func TestCancelObservedAtPageBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	detector := &fakeDetector{perPage: [][]detect.Detection{
		{det("T1", 0.9)},
		{det("T2", 0.9)},
		{det("T3", 0.9)},
	}}
	controller, _ := newTestController(t, store, &fakeRasterizer{pages: 3}, detector)

	job, err := controller.CreateJob(ctx, "plan.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	detector.onCall = func(call int) {
		if call == 0 {
			require.NoError(t, controller.Cancel(ctx, job.ID))
		}
	}

	require.NoError(t, controller.Process(ctx, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
	// The next page boundary stops the run.
	assert.Equal(t, 1, detector.calls)
}

func TestCancelTerminalJobRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	detector := &fakeDetector{perPage: [][]detect.Detection{{det("T1", 0.9)}}}
	controller, _ := newTestController(t, store, &fakeRasterizer{pages: 1}, detector)

	job, err := controller.CreateJob(ctx, "plan.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, controller.Process(ctx, job.ID))

	var transErr *InvalidTransitionError
	err = controller.Cancel(ctx, job.ID)
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, StatusCompleted, transErr.From)
}

func TestProcessUnknownJob(t *testing.T) {
	store := NewMemoryStore()
	controller, _ := newTestController(t, store, &fakeRasterizer{pages: 1}, &fakeDetector{})

	var notFound *NotFoundError
	err := controller.Process(context.Background(), "missing")
	assert.ErrorAs(t, err, &notFound)
}
