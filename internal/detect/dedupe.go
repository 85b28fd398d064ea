package detect

import (
	"sort"

	"github.com/planscan-tech/planscan/internal/utils"
)

// DefaultIoUThreshold is the default box-overlap ratio above which two
// same-text detections are considered duplicates.
const DefaultIoUThreshold = 0.6

// Deduplicate removes duplicate detections surviving from tile overlap.
//
// Detections are sorted by confidence descending, then greedy non-maximum
// suppression runs restricted to pairs whose normalized text is equal: a
// kept detection suppresses a later, not-yet-suppressed detection iff
// texts match and box IoU >= iouThreshold. Two overlapping boxes with
// different readings are both kept; the higher-confidence reading wins by
// sort order and the other survives as an independent candidate for
// downstream adjudication.
//
// Suppression follows the kept row only against later rows, so it is not
// transitive: A may suppress B while C, which B would have suppressed,
// survives because A-C overlap is below threshold. Downstream counts
// depend on this greedy variant.
func Deduplicate(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}

	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	keys := make([]string, len(sorted))
	for i, d := range sorted {
		keys[i] = normalizeValue(d.Value)
	}

	suppressed := make([]bool, len(sorted))
	kept := make([]Detection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || keys[i] != keys[j] {
				continue
			}
			if utils.IoU(sorted[i].Box, sorted[j].Box) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
