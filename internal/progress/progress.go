// Package progress composes a single bounded percentage from weighted
// pipeline stage bands. Each stage owns a fixed slice of the 0-100 scale;
// a checkpoint inside a stage maps its local fraction into that band, so
// the composed value never regresses for a well-behaved caller.
package progress

import "fmt"

// Update is one typed progress event pushed toward the job store.
type Update struct {
	Percent int
	Message string
}

// Sink receives progress updates. Publish errors are surfaced to the
// caller: a lost status update is worse than a visible failure.
type Sink interface {
	Publish(u Update) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(u Update) error

// Publish implements Sink.
func (f SinkFunc) Publish(u Update) error { return f(u) }

// Stage band boundaries on the 0-100 scale. Rasterization owns 0-5,
// per-page detection work owns 5-90 split evenly across pages, and
// export/consolidation owns 90-100.
const (
	rasterBandEnd = 5
	pagesBandEnd  = 90

	exportCheckpoint  = 92
	persistCheckpoint = 95
)

// Weights inside a single page's band.
const (
	detectionWeight    = 0.70
	extractCheckpoint  = 0.75
	measureCheckpoint  = 0.85
	pageSaveCheckpoint = 0.95
)

// Tracker composes the end-to-end percentage for one job run.
// It is not safe for concurrent use; a job runs on one worker.
type Tracker struct {
	sink       Sink
	totalPages int
	last       int
}

// NewTracker creates a tracker publishing into sink.
func NewTracker(sink Sink) *Tracker {
	return &Tracker{sink: sink}
}

// publish clamps to [0,100], enforces monotonicity, and forwards.
func (t *Tracker) publish(percent int, message string) error {
	if percent < t.last {
		percent = t.last
	}
	if percent > 100 {
		percent = 100
	}
	t.last = percent
	return t.sink.Publish(Update{Percent: percent, Message: message})
}

// Current returns the last published percentage.
func (t *Tracker) Current() int { return t.last }

// Starting reports the beginning of the run.
func (t *Tracker) Starting() error {
	return t.publish(0, "Starting document conversion...")
}

// Rasterized closes the rasterization band and fixes the page count used
// to subdivide the detection band.
func (t *Tracker) Rasterized(totalPages int) error {
	t.totalPages = totalPages
	msg := fmt.Sprintf("Converted to %d pages, starting detection...", totalPages)
	return t.publish(rasterBandEnd, msg)
}

// Exporting reports the start of workbook consolidation.
func (t *Tracker) Exporting() error {
	return t.publish(exportCheckpoint, "Generating workbook...")
}

// Persisting reports the workbook being written to storage.
func (t *Tracker) Persisting() error {
	return t.publish(persistCheckpoint, "Saving workbook...")
}

// Complete closes the run at exactly 100.
func (t *Tracker) Complete(totalTendons int) error {
	return t.publish(100, fmt.Sprintf("Complete! Detected %d tendons", totalTendons))
}

// Page returns a tracker for one page's share of the detection band.
// Pages are 0-indexed.
func (t *Tracker) Page(page int) *PageTracker {
	width := pagesBandEnd - rasterBandEnd
	start := rasterBandEnd + page*width/t.totalPages
	end := rasterBandEnd + (page+1)*width/t.totalPages
	return &PageTracker{
		parent: t,
		page:   page,
		start:  start,
		width:  end - start,
		end:    end,
	}
}

// PageTracker maps a page's internal checkpoints into its band.
type PageTracker struct {
	parent *Tracker
	page   int
	start  int
	width  int
	end    int
}

func (p *PageTracker) label() string {
	return fmt.Sprintf("Page %d/%d", p.page+1, p.parent.totalPages)
}

// at publishes start + floor(frac * width).
func (p *PageTracker) at(frac float64, message string) error {
	return p.parent.publish(p.start+int(frac*float64(p.width)), message)
}

// Preparing reports the page band opening.
func (p *PageTracker) Preparing() error {
	return p.at(0, p.label()+": Preparing image...")
}

// Detection reports tile-batch completion; detection work owns the first
// 70% of the page band.
func (p *PageTracker) Detection(done, total int) error {
	if total <= 0 {
		return nil
	}
	frac := detectionWeight * float64(done) / float64(total)
	msg := fmt.Sprintf("%s: Detection %d/%d tiles", p.label(), done, total)
	return p.at(frac, msg)
}

// Extracting reports the start of tendon extraction.
func (p *PageTracker) Extracting() error {
	return p.at(extractCheckpoint, p.label()+": Detecting tendons...")
}

// Measuring reports measurement calculation.
func (p *PageTracker) Measuring() error {
	return p.at(measureCheckpoint, p.label()+": Calculating measurements...")
}

// Saving reports page result persistence.
func (p *PageTracker) Saving() error {
	return p.at(pageSaveCheckpoint, p.label()+": Saving results...")
}

// Done closes the page band.
func (p *PageTracker) Done() error {
	return p.parent.publish(p.end, fmt.Sprintf("Completed page %d/%d", p.page+1, p.parent.totalPages))
}
