package rasterize

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRasterizePNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.png")
	require.NoError(t, imaging.Save(imaging.New(40, 30, color.White), path))

	pages, err := NewPDFRasterizer(nil).Rasterize(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, image.Rect(0, 0, 40, 30), pages[0].Bounds())
}

func TestRasterizeInvalidPDF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))

	_, err := NewPDFRasterizer(nil).Rasterize(context.Background(), path)
	var formatErr *DocumentFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Contains(t, formatErr.Error(), "broken.pdf")
}

func TestRasterizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPDFRasterizer(nil).Rasterize(ctx, "whatever.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParsePageFromFilename(t *testing.T) {
	page, err := parsePageFromFilename("page_3_Im0.png")
	require.NoError(t, err)
	assert.Equal(t, 3, page)

	_, err = parsePageFromFilename("thumbnail.png")
	assert.Error(t, err)
}

func TestLargestImage(t *testing.T) {
	small := imaging.New(10, 10, color.White)
	big := imaging.New(100, 80, color.White)
	assert.Equal(t, big, largestImage([]image.Image{small, big}))
}

func TestDocumentFormatErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &DocumentFormatError{Path: "/tmp/x.pdf", Message: "bad", Err: inner}
	assert.ErrorIs(t, err, inner)
}
