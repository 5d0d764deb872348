// Command quicklook-worker runs one generator worker: the staged
// generate/merge/transfer RPC surface (C11), the local tile cache, and
// self-registration with the coordinator.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skyquick/quicklook/internal/config"
	"github.com/skyquick/quicklook/internal/geometry"
	"github.com/skyquick/quicklook/internal/localstore"
	"github.com/skyquick/quicklook/internal/objectstore"
	"github.com/skyquick/quicklook/internal/observability"
	"github.com/skyquick/quicklook/internal/quicklook"
	"github.com/skyquick/quicklook/internal/tilebuilder"
	"github.com/skyquick/quicklook/internal/workerapi"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
	registerTimeout   = 5 * time.Second
	registerBackoff   = 2 * time.Second
	registerRetries   = 10
)

var (
	configPath      string
	port            int
	storeDir        string
	diagnosticsPort int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "quicklook-worker",
		Short:         "Generator worker process for the quicklook image-pyramid pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runWorker,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file path")
	rootCmd.PersistentFlags().IntVar(&port, "port", 9600, "port this worker listens on and advertises to the coordinator")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store-dir", "", "local tile cache directory (default: "+localstore.DefaultDir()+")")
	rootCmd.PersistentFlags().IntVar(&diagnosticsPort, "diagnostics-port", 9601, "port for the standalone /healthz, /readyz, /metrics diagnostics server")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := observability.Init(observability.Config{
		ServiceName: "quicklook-worker",
		Environment: cfg.Environment,
		Mode:        observability.ModeWorker,
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

	dir := storeDir
	if dir == "" {
		dir = localstore.DefaultDir()
	}

	store := localstore.NewManager(dir)

	geomIndex := geometry.NewIndex()
	geometry.RegisterDefaultLayout(geomIndex)

	router := quicklook.NewRouter(geomIndex.Intersect)
	tileUniverse := geomIndex.Universe(cfg.Tile.MaxLevel)
	builder := tilebuilder.NewStub(tileUniverse)
	peers := workerapi.NewPeerClient(&http.Client{})

	engine := workerapi.NewEngine(store, builder, router, peers, objects, tileUniverse, cfg.Tile.Pack, providers.Logger)

	if err := registerWithCoordinator(ctx, cfg.Coordinator.BaseURL, port, providers.Logger); err != nil {
		return fmt.Errorf("register with coordinator: %w", err)
	}

	workerRouter := workerapi.NewRouter(engine, providers.Logger)

	// Standalone diagnostics listener, separate from the RPC port: a
	// generator worker's main port serves the generate/merge/transfer RPC
	// surface plus plain /healthz and /ready probes but no /metrics, so
	// health/readiness/metrics scraping gets its own port, which also
	// reports the Go scheduler's goroutine/thread counts.
	diagnostics, err := observability.NewDiagnosticsServer(fmt.Sprintf(":%d", diagnosticsPort), providers.Meter)
	if err != nil {
		return fmt.Errorf("start diagnostics server: %w", err)
	}
	defer diagnostics.Close()

	providers.Logger.InfoContext(ctx, "worker.diagnostics_listening", "addr", diagnostics.Addr())

	mux := http.NewServeMux()
	mux.Handle("/healthz", observability.HealthHandler())
	mux.Handle("/ready", observability.ReadyHandler())
	mux.Handle("/", observability.HTTPMiddleware(providers.Tracer, providers.Logger, workerRouter))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		providers.Logger.InfoContext(gctx, "worker.listening", "addr", server.Addr)

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

// registerWithCoordinator posts this worker's listening port to the
// coordinator's POST /register_generator endpoint, retrying with a fixed
// backoff since the coordinator may still be starting.
func registerWithCoordinator(ctx context.Context, baseURL string, port int, logger *slog.Logger) error {
	body := fmt.Sprintf(`{"port":%d}`, port)

	var lastErr error

	for attempt := 0; attempt < registerRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, registerTimeout)

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, baseURL+"/register_generator",
			strings.NewReader(body))
		if err != nil {
			cancel()

			return fmt.Errorf("build registration request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		resp, doErr := http.DefaultClient.Do(req)

		cancel()

		if doErr == nil {
			resp.Body.Close()

			if resp.StatusCode == http.StatusNoContent {
				return nil
			}

			lastErr = fmt.Errorf("registration rejected: status %d", resp.StatusCode)
		} else {
			lastErr = doErr
		}

		logger.WarnContext(ctx, "worker.registration_retry", "attempt", attempt+1, "error", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("registration cancelled: %w", ctx.Err())
		case <-time.After(registerBackoff):
		}
	}

	return fmt.Errorf("registration failed after %d attempts: %w", registerRetries, lastErr)
}
