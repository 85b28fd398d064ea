// Package rasterize turns uploaded drawing documents into per-page images.
package rasterize

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DocumentFormatError reports a document that cannot be rasterized,
// typically a corrupt or unsupported upload.
type DocumentFormatError struct {
	Path    string
	Message string
	Err     error
}

func (e *DocumentFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("document %s: %s: %v", filepath.Base(e.Path), e.Message, e.Err)
	}
	return fmt.Sprintf("document %s: %s", filepath.Base(e.Path), e.Message)
}

func (e *DocumentFormatError) Unwrap() error { return e.Err }

// Rasterizer produces ordered page images from a document on disk.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string) ([]image.Image, error)
}

// PDFRasterizer extracts page images from PDF documents. Plain PNG and JPEG
// uploads are decoded as a single page.
type PDFRasterizer struct {
	logger *slog.Logger
}

// NewPDFRasterizer creates a rasterizer.
func NewPDFRasterizer(logger *slog.Logger) *PDFRasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFRasterizer{logger: logger}
}

// Rasterize returns one image per page, in page order. Structural drawings
// are full-page scans, so the largest extracted image on each page is taken
// as that page's raster.
func (r *PDFRasterizer) Rasterize(ctx context.Context, path string) ([]image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".png" || ext == ".jpg" || ext == ".jpeg" {
		img, err := loadImageFile(path)
		if err != nil {
			return nil, &DocumentFormatError{Path: path, Message: "failed to decode image", Err: err}
		}
		return []image.Image{img}, nil
	}

	if err := api.ValidateFile(path, nil); err != nil {
		return nil, &DocumentFormatError{Path: path, Message: "invalid PDF", Err: err}
	}

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, &DocumentFormatError{Path: path, Message: "failed to count pages", Err: err}
	}
	if pageCount == 0 {
		return nil, &DocumentFormatError{Path: path, Message: "document has no pages"}
	}

	tempDir, err := os.MkdirTemp("", "planscan-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	if err := api.ExtractImagesFile(path, tempDir, nil, nil); err != nil {
		return nil, &DocumentFormatError{Path: path, Message: "failed to extract page images", Err: err}
	}

	byPage, err := collectPageImages(tempDir)
	if err != nil {
		return nil, fmt.Errorf("collect page images: %w", err)
	}
	if len(byPage) == 0 {
		return nil, &DocumentFormatError{Path: path, Message: "no raster content found"}
	}

	pageNums := make([]int, 0, len(byPage))
	for p := range byPage {
		pageNums = append(pageNums, p)
	}
	sort.Ints(pageNums)

	pages := make([]image.Image, 0, len(pageNums))
	for _, p := range pageNums {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, largestImage(byPage[p]))
	}

	r.logger.Debug("document rasterized", "path", filepath.Base(path), "pages", len(pages))
	return pages, nil
}

func loadImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	return img, err
}

// collectPageImages groups extracted images by page number. pdfcpu names
// extracted files like page_1_Im0.png.
func collectPageImages(dir string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		pageNum, err := parsePageFromFilename(info.Name())
		if err != nil {
			return nil
		}

		img, err := loadImageFile(path)
		if err != nil || img == nil {
			return nil
		}
		result[pageNum] = append(result[pageNum], img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func parsePageFromFilename(filename string) (int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, fmt.Errorf("not a page file")
	}
	parts := strings.Split(filename, "_")
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid filename format")
	}
	return strconv.Atoi(parts[1])
}

func largestImage(imgs []image.Image) image.Image {
	best := imgs[0]
	bestArea := best.Bounds().Dx() * best.Bounds().Dy()
	for _, img := range imgs[1:] {
		area := img.Bounds().Dx() * img.Bounds().Dy()
		if area > bestArea {
			best = img
			bestArea = area
		}
	}
	return best
}
