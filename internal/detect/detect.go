// Package detect drives tiled text detection: it submits page tiles to an
// external detection engine in bounded batches, projects per-tile results
// into the page coordinate frame, and removes duplicates arising from
// tile overlap.
package detect

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/planscan-tech/planscan/internal/utils"
)

// RawDetection is a single engine output row with box coordinates
// normalized to the extent of the patch the engine was given.
type RawDetection struct {
	Value      string
	Confidence float64
	Box        utils.Box
}

// Detection is a consolidated detection with box coordinates normalized
// to the full page. WordIdx is a dense 0-based index assigned after
// deduplication; it is unique within a page but not stable across pages
// or reruns.
type Detection struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Box        utils.Box `json:"box"`
	TileID     int       `json:"tile_id"`
	WordIdx    int       `json:"word_idx"`
}

// normalizeValue produces the comparison key used for text-equality
// gating: NFKC-normalized, whitespace-trimmed, case-folded. OCR engines
// emit visually equivalent but differently composed code points for the
// same glyphs across tiles.
func normalizeValue(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}
