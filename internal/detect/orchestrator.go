package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/planscan-tech/planscan/internal/tile"
)

// Config holds tiling and batching parameters for detection runs.
type Config struct {
	TileSize     int
	Overlap      int
	BatchSize    int
	IoUThreshold float64
}

// DefaultConfig returns detection defaults tuned for structural drawings
// rasterized at 200 DPI.
func DefaultConfig() Config {
	return Config{
		TileSize:     1000,
		Overlap:      250,
		BatchSize:    24,
		IoUThreshold: DefaultIoUThreshold,
	}
}

// ProgressCallback receives tile-level completion during a detection run.
type ProgressCallback interface {
	// OnStart is called once tiling is done with the total tile count.
	OnStart(totalTiles int)

	// OnProgress is called after each engine batch returns.
	OnProgress(tilesDone, totalTiles int)

	// OnComplete is called after deduplication finishes.
	OnComplete()
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(totalTiles int)              {}
func (NoOpProgressCallback) OnProgress(tilesDone, totalTiles int) {}
func (NoOpProgressCallback) OnComplete()                         {}

// Orchestrator runs the tiled detection pipeline for one page: tile,
// batch engine calls, project, deduplicate.
type Orchestrator struct {
	engine Engine
	cfg    Config
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator around the given engine.
func NewOrchestrator(engine Engine, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{engine: engine, cfg: cfg, logger: logger}
}

// Run produces the consolidated detection table for a page raster.
// Any engine failure fails the whole page; there is no partial salvage.
func (o *Orchestrator) Run(ctx context.Context, page image.Image, progress ProgressCallback) ([]Detection, error) {
	if o.cfg.BatchSize <= 0 {
		return nil, &tile.ConfigurationError{Parameter: "batch_size", Message: "must be positive"}
	}
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	tiles, err := tile.Crop(page, o.cfg.TileSize, o.cfg.Overlap)
	if err != nil {
		return nil, err
	}
	total := len(tiles)
	progress.OnStart(total)
	o.logger.Debug("page tiled", "tiles", total,
		"tile_size", o.cfg.TileSize, "overlap", o.cfg.Overlap)

	// One engine call per batch amortizes the fixed per-call overhead.
	// The batch is the only point where raw pixel data for multiple
	// tiles is in flight at once, so BatchSize bounds peak memory.
	perTile := make([][]RawDetection, total)
	for start := 0; start < total; start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, total)

		batch := make([]image.Image, 0, end-start)
		for _, t := range tiles[start:end] {
			batch = append(batch, t.Image)
		}

		results, err := o.engine.Detect(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(results) != len(batch) {
			return nil, &DetectorError{Op: "batch", Err: fmt.Errorf(
				"engine returned %d result lists for %d tiles", len(results), len(batch))}
		}
		copy(perTile[start:end], results)
		progress.OnProgress(end, total)
	}

	bounds := page.Bounds()
	fullW, fullH := bounds.Dx(), bounds.Dy()

	var all []Detection
	for i, t := range tiles {
		// Tiles with no detections contribute nothing.
		for _, raw := range perTile[i] {
			all = append(all, Detection{
				Value:      raw.Value,
				Confidence: raw.Confidence,
				Box:        tile.Project(raw.Box, t, fullW, fullH),
				TileID:     t.ID,
			})
		}
	}

	// Dedupe over the whole-page concatenation, never per tile:
	// cross-tile duplicates from the overlap are the entire point.
	deduped := Deduplicate(all, o.cfg.IoUThreshold)
	for i := range deduped {
		deduped[i].WordIdx = i
	}
	progress.OnComplete()
	o.logger.Debug("page detection complete", "raw", len(all), "kept", len(deduped))
	return deduped, nil
}
