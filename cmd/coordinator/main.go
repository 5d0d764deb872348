// Command quicklook-coordinator runs the coordinator process: job
// submission and lifecycle tracking (C6-C8), the worker registry and RPC
// client, housekeeping, and the HTTP/WebSocket surface the frontend and
// workers talk to (C10).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skyquick/quicklook/internal/config"
	"github.com/skyquick/quicklook/internal/coordinatorapi"
	"github.com/skyquick/quicklook/internal/datasource"
	"github.com/skyquick/quicklook/internal/db"
	"github.com/skyquick/quicklook/internal/geometry"
	"github.com/skyquick/quicklook/internal/objectstore"
	"github.com/skyquick/quicklook/internal/observability"
	"github.com/skyquick/quicklook/internal/quicklook"
)

// Timing knobs not yet exposed via QUICKLOOK_* env vars.
const (
	defaultStageTimeout  = 5 * time.Minute
	livenessTimeout      = 3 * time.Second
	housekeepingInterval = time.Minute
	readHeaderTimeout    = 10 * time.Second
	shutdownTimeout      = 15 * time.Second
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "quicklook-coordinator",
		Short:         "Coordinator process for the quicklook image-pyramid pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCoordinator,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCoordinator(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := observability.Init(observability.Config{
		ServiceName: "quicklook-coordinator",
		Environment: cfg.Environment,
		Mode:        observability.ModeCoordinator,
		LogLevel:    slog.LevelInfo,
		LogJSON:     cfg.Environment == config.EnvProduction,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := db.Open(cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer records.Close()

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Secure:    cfg.S3.Secure,
	})
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}

	geomIndex := geometry.NewIndex()
	ccdNames := geometry.RegisterDefaultLayout(geomIndex)

	ds := datasource.NewStatic()
	ds.RegisterDefault(ccdNames)

	metrics, err := observability.NewStageMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init stage metrics: %w", err)
	}

	redMetrics, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init request metrics: %w", err)
	}

	sync := quicklook.NewSynchronizer()
	registry := quicklook.NewWorkerRegistry(providers.Logger)
	router := quicklook.NewRouter(geomIndex.Intersect)
	rpc := quicklook.NewRpcClient(&http.Client{}, providers.Logger)

	runner := quicklook.NewRunner(
		quicklook.RunnerConfig{
			MaxRamJobs:      cfg.Job.MaxRAMLimitStage,
			MaxDiskJobs:     cfg.Job.MaxDiskLimitStage,
			MaxTransferJobs: cfg.Job.MaxTransferLimitStage,
			GenerateTimeout: defaultStageTimeout,
			MergeTimeout:    defaultStageTimeout,
			TransferTimeout: defaultStageTimeout,
			CleanupDelay:    time.Duration(cfg.Job.CleanupDelaySeconds) * time.Second,
			TilePack:        cfg.Tile.Pack,
			Environment:     cfg.Environment,
		},
		quicklook.RunnerDeps{
			Sync:       sync,
			Registry:   registry,
			Router:     router,
			RPC:        rpc,
			Datasource: ds,
			Objects:    objects,
			Records:    records,
			Logger:     providers.Logger,
			Metrics:    metrics,
		},
		cfg.Storage.MaxEntries,
		time.Duration(cfg.Storage.TTLSeconds)*time.Second,
	)
	runner.Start(ctx)

	// Startup recovery task: records left non-ready by a prior crash can
	// never complete, so they are cleared before the HTTP server binds.
	if err := records.ClearNonReady(ctx); err != nil {
		return fmt.Errorf("clear non-ready records: %w", err)
	}

	// Every ready record survives the crash in the database, but the
	// in-memory synchronizer starts empty; repopulate it from each job's
	// object-store snapshot so status/tile-read requests don't 404 against
	// jobs that finished before the restart.
	if err := runner.RecoverFromSnapshots(ctx); err != nil {
		return fmt.Errorf("recover job snapshots: %w", err)
	}

	tileUniverse := geomIndex.Universe(cfg.Tile.MaxLevel)

	apiRouter := coordinatorapi.NewRouter(coordinatorapi.Deps{
		Runner:       runner,
		Sync:         sync,
		Registry:     registry,
		Records:      records,
		Objects:      objects,
		TileUniverse: tileUniverse,
		PackExponent: cfg.Tile.Pack,
		Logger:       providers.Logger,
		Ready: []observability.ReadyCheck{
			records.Ping,
		},
	})

	metricsHandler, err := observability.PrometheusHandler()
	if err != nil {
		return fmt.Errorf("init prometheus handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/", observability.REDMiddleware(redMetrics,
		observability.HTTPMiddleware(providers.Tracer, providers.Logger, apiRouter)))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Coordinator.FrontendPort),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	heartbeat := time.Duration(cfg.Coordinator.HeartbeatInterval) * time.Second

	group.Go(func() error {
		registry.RunLivenessProbe(gctx, heartbeat, livenessTimeout, workerHealthChecker(&http.Client{Timeout: livenessTimeout}))

		return nil
	})

	group.Go(func() error {
		runHousekeepingLoop(gctx, runner)

		return nil
	})

	group.Go(func() error {
		providers.Logger.InfoContext(gctx, "coordinator.listening", "addr", server.Addr)

		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}

		return nil
	})

	return group.Wait()
}

// runHousekeepingLoop runs the housekeeper on a fixed tick until ctx is
// cancelled, mirroring the guarantee that RunHousekeeping itself makes only
// about concurrent invocations (C9 runs under housekeepSem(1)).
func runHousekeepingLoop(ctx context.Context, runner *quicklook.Runner) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runner.RunHousekeeping(ctx)
		}
	}
}

// workerHealthChecker probes a worker's HTTP listener via its /healthz
// endpoint, matching the ambient health-handler shape the worker process
// itself mounts (observability.HealthHandler).
func workerHealthChecker(client *http.Client) quicklook.HealthChecker {
	return func(ctx context.Context, node quicklook.WorkerNode, timeout time.Duration) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		url := fmt.Sprintf("http://%s/healthz", node.String())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build health request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", node.String(), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("probe %s: status %d", node.String(), resp.StatusCode)
		}

		return nil
	}
}
