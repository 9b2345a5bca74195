package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/dispatch"
	"family-gallery/internal/handlers"
	"family-gallery/internal/logging"
	"family-gallery/internal/media"
	"family-gallery/internal/memory"
	"family-gallery/internal/metrics"
	"family-gallery/internal/processor"
	"family-gallery/internal/startup"
	"family-gallery/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	if dispatch.Mode(config.DispatchMode) != dispatch.ModeNATS {
		startup.LogFatal("gallery-worker requires DISPATCH_MODE=%s, got %q", dispatch.ModeNATS, config.DispatchMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()

	backend, err := storage.New(ctx, config.StorageConfig())
	if err != nil {
		startup.LogFatal("Failed to initialize storage: %v", err)
	}
	startup.LogStorageInit(backend.Name(), backend.Health(ctx))

	if err := media.InitVips(); err != nil {
		logging.Warn("libvips unavailable: %v", err)
	}
	defer media.ShutdownVips()
	startup.LogProcessorInit(config.FFmpegPath, media.IsVipsAvailable())

	metrics.InitializeMetrics(backend.Name(), string(dispatch.ModeNATS))

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()
	defer monitor.Stop()

	worker := processor.New(db, backend, nil, processor.Config{
		ScratchDir: config.ScratchDir,
		FFmpegPath: config.FFmpegPath,
	})
	consumer, err := dispatch.NewConsumer(ctx, config.DispatchConfig(), worker, monitor)
	if err != nil {
		startup.LogFatal("Failed to start consumer: %v", err)
	}
	startup.LogDispatchInit(string(dispatch.ModeNATS))

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(ctx); err != nil {
			logging.Error("Consumer stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		startup.LogShutdownInitiated(sig.String())
	case <-done:
		startup.LogShutdownInitiated("consumer exit")
	}

	// In-flight items are interrupted and their messages negatively
	// acknowledged so another worker picks them up.
	cancel()
	startup.LogShutdownStep("Waiting for workers")
	select {
	case <-done:
		startup.LogShutdownStepComplete("Workers stopped")
	case <-time.After(shutdownTimeout):
		logging.Warn("Workers did not stop within %v", shutdownTimeout)
	}

	if err := consumer.Close(); err != nil {
		logging.Warn("Consumer close error: %v", err)
	}

	if metricsSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownComplete()
}

func newMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handlers.MetricsHandler())
	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
