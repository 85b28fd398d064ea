// Package measure turns a page's detection table into tendon measurement
// records and an annotated review raster.
package measure

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"regexp"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/planscan-tech/planscan/internal/detect"
	"github.com/planscan-tech/planscan/internal/utils"
)

// Record is one extracted tendon measurement row.
type Record struct {
	Page       int     `json:"page"`
	Tendon     string  `json:"tendon"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// Extractor consumes a page's detection table and raster and produces an
// annotated raster plus measurement records. Implementations are opaque
// domain logic; the pipeline consumes them as-is.
type Extractor interface {
	Extract(ctx context.Context, dets []detect.Detection, page image.Image) (image.Image, []Record, error)
}

// CalloutExtractor extracts tendon call-outs by text pattern. An empty
// pattern accepts every detection.
type CalloutExtractor struct {
	pattern  *regexp.Regexp
	boxColor color.Color
}

// NewCalloutExtractor compiles the call-out pattern. An empty pattern
// means every detection is treated as a call-out.
func NewCalloutExtractor(pattern string) (*CalloutExtractor, error) {
	e := &CalloutExtractor{boxColor: color.RGBA{255, 0, 0, 255}}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid callout pattern %q: %w", pattern, err)
		}
		e.pattern = re
	}
	return e, nil
}

// Extract returns matched records and a copy of the page with call-out
// boxes drawn on it.
func (e *CalloutExtractor) Extract(_ context.Context, dets []detect.Detection, page image.Image) (image.Image, []Record, error) {
	bounds := page.Bounds()
	annotated := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(annotated, annotated.Bounds(), page, bounds.Min, draw.Src)

	fullW := float64(bounds.Dx())
	fullH := float64(bounds.Dy())

	var records []Record
	for _, d := range dets {
		if e.pattern != nil && !e.pattern.MatchString(d.Value) {
			continue
		}
		records = append(records, Record{
			Tendon:     d.Value,
			Confidence: d.Confidence,
			X:          (d.Box.MinX + d.Box.MaxX) / 2,
			Y:          (d.Box.MinY + d.Box.MaxY) / 2,
		})

		px := utils.NewBox(d.Box.MinX*fullW, d.Box.MinY*fullH, d.Box.MaxX*fullW, d.Box.MaxY*fullH)
		rect := px.ToRect(annotated.Bounds())
		utils.DrawRect(annotated, rect, e.boxColor, 2)
		e.drawLabel(annotated, rect, d.Value)
	}
	return annotated, records, nil
}

// drawLabel writes the call-out text above its box, or inside when the box
// touches the top edge.
func (e *CalloutExtractor) drawLabel(img *image.RGBA, rect image.Rectangle, text string) {
	y := rect.Min.Y - 3
	if y < basicfont.Face7x13.Ascent {
		y = rect.Min.Y + basicfont.Face7x13.Ascent + 3
	}
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(e.boxColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(rect.Min.X, y),
	}
	d.DrawString(text)
}
