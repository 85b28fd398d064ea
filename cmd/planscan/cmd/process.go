package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/planscan-tech/planscan/internal/detect"
	"github.com/planscan-tech/planscan/internal/export"
	"github.com/planscan-tech/planscan/internal/measure"
	"github.com/planscan-tech/planscan/internal/rasterize"
)

// processSummary is the stdout summary of a one-shot run.
type processSummary struct {
	File         string           `json:"file" yaml:"file"`
	Pages        int              `json:"pages" yaml:"pages"`
	TotalTendons int              `json:"total_tendons" yaml:"total_tendons"`
	Workbook     string           `json:"workbook" yaml:"workbook"`
	Tendons      []measure.Record `json:"tendons" yaml:"tendons"`
}

// processCmd runs a drawing through the full analysis locally, without the
// job API.
var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Analyze a drawing and write the workbook",
	Long: `Analyze a single drawing document and write the consolidated workbook.

The summary of detected tendons is printed to stdout in the requested
format.

Examples:
  planscan process drawing.pdf
  planscan process drawing.pdf --output tendons.xlsx --format yaml
  planscan process drawing.pdf --pattern '^T\d+'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg.Engine.Endpoint == "" {
			return fmt.Errorf("engine endpoint is required (set --engine-endpoint or engine.endpoint)")
		}

		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		pattern := cfg.Detection.Pattern
		if cmd.Flags().Changed("pattern") {
			pattern, _ = cmd.Flags().GetString("pattern")
		}

		logger := slog.Default()
		ctx := cmd.Context()

		pages, err := rasterize.NewPDFRasterizer(logger).Rasterize(ctx, args[0])
		if err != nil {
			return err
		}
		logger.Info("document rasterized", "file", args[0], "pages", len(pages))

		engine := detect.NewHTTPEngine(cfg.Engine.Endpoint, cfg.Engine.Timeout)
		orchestrator := detect.NewOrchestrator(engine, detect.Config{
			TileSize:     cfg.Detection.TileSize,
			Overlap:      cfg.Detection.Overlap,
			BatchSize:    cfg.Detection.BatchSize,
			IoUThreshold: cfg.Detection.IoUThreshold,
		}, logger)

		extractor, err := measure.NewCalloutExtractor(pattern)
		if err != nil {
			return fmt.Errorf("invalid detection pattern: %w", err)
		}

		var records []measure.Record
		for i, page := range pages {
			detections, err := orchestrator.Run(ctx, page, detect.NoOpProgressCallback{})
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			_, pageRecords, err := extractor.Extract(ctx, detections, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			for j := range pageRecords {
				pageRecords[j].Page = i + 1
			}
			records = append(records, pageRecords...)
			logger.Info("page analyzed", "page", i+1, "tendons", len(pageRecords))
		}

		workbook, err := export.NewWriter(logger).Workbook(records)
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, workbook, 0o644); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}

		summary := processSummary{
			File:         args[0],
			Pages:        len(pages),
			TotalTendons: len(records),
			Workbook:     output,
			Tendons:      records,
		}
		return writeSummary(cmd, summary, format)
	},
}

func writeSummary(cmd *cobra.Command, summary processSummary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer func() { _ = enc.Close() }()
		return enc.Encode(summary)
	default:
		return fmt.Errorf("unsupported format %q, expected json or yaml", format)
	}
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringP("output", "o", "tendons.xlsx", "output workbook path")
	processCmd.Flags().StringP("format", "f", "json", "summary format (json, yaml)")
	processCmd.Flags().String("pattern", "", "regular expression filtering tendon callouts")
}
