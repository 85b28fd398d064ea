// Package export produces the consolidated measurement workbook.
package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/planscan-tech/planscan/internal/measure"
)

const sheetName = "Tendons"

// Writer renders measurement records into XLSX bytes.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a workbook writer.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger}
}

// Workbook returns an XLSX workbook with one row per measurement record,
// consolidated across all pages.
func (w *Writer) Workbook(records []measure.Record) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	if index, _ := f.GetSheetIndex(sheetName); index == -1 {
		if _, err := f.NewSheet(sheetName); err != nil {
			return nil, fmt.Errorf("create sheet: %w", err)
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(activeIndex)

	// The default sheet is noise once ours exists.
	if sheetName != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{"Page", "Tendon", "Confidence", "X", "Y"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	row := 2
	for _, r := range records {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		write(1, r.Page)
		write(2, r.Tendon)
		write(3, r.Confidence)
		write(4, r.X)
		write(5, r.Y)
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}

	w.logger.Debug("workbook generated",
		"rows", len(records), "bytes", buf.Len(), "elapsed", time.Since(start).Round(time.Millisecond))
	return buf.Bytes(), nil
}
