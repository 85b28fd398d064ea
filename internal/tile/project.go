package tile

import "github.com/planscan-tech/planscan/internal/utils"

// Project maps a box normalized to a tile's own extent into coordinates
// normalized to the full page. The transform goes through pixel space in
// two steps (tile-normalized -> page pixels -> page-normalized) because
// the detector's output space is always relative to the patch it was
// given, not to the original page.
func Project(box utils.Box, t Tile, fullW, fullH int) utils.Box {
	tileW := float64(t.Width())
	tileH := float64(t.Height())

	// tile-normalized -> page pixels
	x1 := box.MinX*tileW + float64(t.XOffset)
	y1 := box.MinY*tileH + float64(t.YOffset)
	x2 := box.MaxX*tileW + float64(t.XOffset)
	y2 := box.MaxY*tileH + float64(t.YOffset)

	// page pixels -> page-normalized
	return utils.NewBox(
		x1/float64(fullW),
		y1/float64(fullH),
		x2/float64(fullW),
		y2/float64(fullH),
	)
}
