package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/winklabs/storepulse/internal/edge"
	"github.com/winklabs/storepulse/internal/metrics"
	"github.com/winklabs/storepulse/internal/pipeline"
)

var (
	configPath  string
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "storepulse-edge",
		Short: "On-site collector: turns camera detections into analytics events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollector()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "store_config.yaml", "path to the edge YAML config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the collector (the default).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollector()
		},
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config and print a summary without starting anything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig()
		},
	}

	root.AddCommand(runCmd, checkCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCollector() error {
	_ = godotenv.Load()
	if os.Getenv("EDGE_LOG_LEVEL") == "quiet" {
		log.SetOutput(io.Discard)
	}
	logger := log.New(log.Writer(), "[EDGE] ", log.LstdFlags)
	cfg, err := edge.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	edgeMetrics := metrics.NewEdge()
	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Printf("✅ Metrics on %s", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Printf("⚠️  Metrics server failed: %v", err)
			}
		}()
	}

	client := pipeline.NewClient(cfg.APIBase, cfg.APIKey)
	spool, err := pipeline.NewSpool(cfg.SpoolPath())
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	dispatcher := pipeline.NewDispatcher(cfg.PipelineConfig(), client, spool, edgeMetrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return edge.NewSupervisor(cfg, openTracker, dispatcher, client).Run(ctx)
}

func checkConfig() error {
	cfg, err := edge.LoadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Config OK: org=%s store=%s api=%s\n", cfg.OrgID, cfg.StoreID, cfg.APIBase)
	for _, cam := range cfg.Cameras {
		fmt.Printf("  📷 %s capabilities=%v zones=%d shelves=%d queues=%d\n",
			cam.CameraID, cam.Capabilities,
			len(cam.Geometry.Zones), len(cam.Geometry.Shelves), len(cam.Geometry.Queue))
		if cam.Detections == "" {
			fmt.Printf("  ⚠️  %s has no detections source; the worker will not start\n", cam.CameraID)
		}
	}
	return nil
}
