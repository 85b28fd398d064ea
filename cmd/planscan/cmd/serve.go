package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/planscan-tech/planscan/internal/detect"
	"github.com/planscan-tech/planscan/internal/export"
	"github.com/planscan-tech/planscan/internal/jobs"
	"github.com/planscan-tech/planscan/internal/measure"
	"github.com/planscan-tech/planscan/internal/rasterize"
	"github.com/planscan-tech/planscan/internal/server"
	"github.com/planscan-tech/planscan/internal/storage"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for drawing analysis jobs",
	Long: `Start an HTTP server that accepts drawing uploads and processes them
asynchronously.

Endpoints:
  POST /jobs                - Upload a drawing and create a job
  GET  /jobs/{id}           - Job status and progress
  GET  /jobs/{id}/results   - Per-page results of a completed job
  POST /jobs/{id}/cancel    - Request cancellation
  GET  /jobs/{id}/download  - Download the consolidated workbook
  GET  /jobs/{id}/ws        - Progress stream over WebSocket
  GET  /health              - Health check
  GET  /metrics             - Prometheus metrics

Examples:
  planscan serve
  planscan serve --port 8080
  planscan serve --backend redis`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := GetConfig()

		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("backend") {
			cfg.Jobs.Backend, _ = cmd.Flags().GetString("backend")
		}
		if cmd.Flags().Changed("storage-dir") {
			cfg.Storage.Dir, _ = cmd.Flags().GetString("storage-dir")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := slog.Default()

		artifacts, err := storage.NewStore(cfg.Storage.Dir)
		if err != nil {
			return err
		}

		var store jobs.Store
		switch cfg.Jobs.Backend {
		case "memory":
			store = jobs.NewMemoryStore()
		case "redis":
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err := client.Ping(cmd.Context()).Err(); err != nil {
				return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
			}
			store = jobs.NewRedisStore(client, cfg.Jobs.TTL)
		}

		engine := detect.NewHTTPEngine(cfg.Engine.Endpoint, cfg.Engine.Timeout)
		orchestrator := detect.NewOrchestrator(engine, detect.Config{
			TileSize:     cfg.Detection.TileSize,
			Overlap:      cfg.Detection.Overlap,
			BatchSize:    cfg.Detection.BatchSize,
			IoUThreshold: cfg.Detection.IoUThreshold,
		}, logger)

		extractor, err := measure.NewCalloutExtractor(cfg.Detection.Pattern)
		if err != nil {
			return fmt.Errorf("invalid detection pattern: %w", err)
		}

		controller := jobs.NewController(
			store,
			artifacts,
			rasterize.NewPDFRasterizer(logger),
			orchestrator,
			extractor,
			export.NewWriter(logger),
			logger,
		)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue := jobs.NewQueue(controller, cfg.Jobs.Workers, cfg.Jobs.Backlog, logger)
		queue.Start(ctx)
		defer queue.Stop()

		srv := server.NewServer(server.Config{
			Host:        cfg.Server.Host,
			Port:        cfg.Server.Port,
			MaxUploadMB: int64(cfg.Server.MaxUploadMB),
			Timeout:     cfg.Server.Timeout,
			CORSOrigin:  corsOrigin(cfg.Server.CORSOrigins),
		}, controller, store, queue, artifacts, logger)

		logger.Info("starting server",
			"host", cfg.Server.Host, "port", cfg.Server.Port,
			"backend", cfg.Jobs.Backend, "workers", cfg.Jobs.Workers)
		return srv.ListenAndServe(ctx)
	},
}

func corsOrigin(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return origins[0]
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().String("backend", "", "job store backend (memory or redis)")
	serveCmd.Flags().String("storage-dir", "", "directory for job artifacts")
}
