// Package tile splits page rasters into overlapping patches sized for a
// bounded-input detection engine and maps patch-local coordinates back
// into the page frame.
package tile

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ConfigurationError reports invalid tiling parameters.
type ConfigurationError struct {
	Parameter string
	Message   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Parameter, e.Message)
}

// Tile is a rectangular sub-region of a page raster. IDs are assigned in
// raster-scan order (rows outer, columns inner) starting at 0.
type Tile struct {
	ID      int
	XOffset int
	YOffset int
	Image   image.Image
}

// Width returns the tile's pixel width.
func (t Tile) Width() int { return t.Image.Bounds().Dx() }

// Height returns the tile's pixel height.
func (t Tile) Height() int { return t.Image.Bounds().Dy() }

// Crop splits img into overlapping tiles of tileSize pixels with the given
// overlap between adjacent tiles in both axes. Trailing tiles at the image
// edge are clipped and may be smaller than tileSize. The overlap guarantees
// that objects straddling a tile boundary are fully contained in at least
// one tile.
func Crop(img image.Image, tileSize, overlap int) ([]Tile, error) {
	if tileSize <= 0 {
		return nil, &ConfigurationError{Parameter: "tile_size", Message: "must be positive"}
	}
	if overlap < 0 {
		return nil, &ConfigurationError{Parameter: "overlap", Message: "must not be negative"}
	}
	stride := tileSize - overlap
	if stride <= 0 {
		return nil, &ConfigurationError{
			Parameter: "overlap",
			Message:   fmt.Sprintf("stride %d not positive (tile_size %d, overlap %d)", stride, tileSize, overlap),
		}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var tiles []Tile
	id := 0
	for y := 0; y < h; y += stride {
		for x := 0; x < w; x += stride {
			rect := image.Rect(x, y, min(x+tileSize, w), min(y+tileSize, h)).Add(bounds.Min)
			if rect.Empty() {
				// Cannot happen with in-bounds offsets, guarded anyway.
				continue
			}
			tiles = append(tiles, Tile{
				ID:      id,
				XOffset: x,
				YOffset: y,
				Image:   imaging.Crop(img, rect),
			})
			id++
		}
	}
	return tiles, nil
}
