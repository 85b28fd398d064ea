// Package storage persists job artifacts (uploads, page overlays, workbooks)
// on the local filesystem.
package storage

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Store writes and resolves job artifacts under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates the base directory if needed.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("storage base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.baseDir, jobID)
}

// SaveUpload writes the raw uploaded document for a job and returns its path.
func (s *Store) SaveUpload(jobID, filename string, data []byte) (string, error) {
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

// SaveOverlay writes an annotated page image as PNG and returns its path.
func (s *Store) SaveOverlay(jobID string, page int, img image.Image) (string, error) {
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("page_%d_overlay.png", page))
	if err := imaging.Save(img, path, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
		return "", fmt.Errorf("write overlay: %w", err)
	}
	return path, nil
}

// SaveWorkbook writes the exported XLSX and returns its path.
func (s *Store) SaveWorkbook(jobID string, data []byte) (string, error) {
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	path := filepath.Join(dir, "tendons.xlsx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write workbook: %w", err)
	}
	return path, nil
}

// Open returns a read handle for an artifact previously saved for the job.
// The path must resolve inside the job's directory.
func (s *Store) Open(jobID, name string) (*os.File, error) {
	path := filepath.Join(s.jobDir(jobID), filepath.Base(name))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Path returns the on-disk location an artifact has or would have.
func (s *Store) Path(jobID, name string) string {
	return filepath.Join(s.jobDir(jobID), filepath.Base(name))
}

// Exists reports whether an artifact exists for the job.
func (s *Store) Exists(jobID, name string) bool {
	_, err := os.Stat(filepath.Join(s.jobDir(jobID), filepath.Base(name)))
	return err == nil
}

// Remove deletes all artifacts for a job.
func (s *Store) Remove(jobID string) error {
	return os.RemoveAll(s.jobDir(jobID))
}
