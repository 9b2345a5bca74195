package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/dispatch"
	"family-gallery/internal/handlers"
	"family-gallery/internal/ingest"
	"family-gallery/internal/library"
	"family-gallery/internal/logging"
	"family-gallery/internal/media"
	"family-gallery/internal/memory"
	"family-gallery/internal/metrics"
	"family-gallery/internal/middleware"
	"family-gallery/internal/processor"
	"family-gallery/internal/startup"
	"family-gallery/internal/storage"
)

const (
	serverReadHeaderTimeout = 10 * time.Second
	// serverReadTimeout covers ordinary request bodies; the upload handler
	// extends its own deadline.
	serverReadTimeout   = 15 * time.Second
	serverIdleTimeout   = 60 * time.Second
	metricsReadTimeout  = 5 * time.Second
	metricsWriteTimeout = 10 * time.Second
	metricsIdleTimeout  = 30 * time.Second

	sessionCleanupInterval   = time.Hour
	metricsCollectorInterval = time.Minute
	shutdownTimeout          = 30 * time.Second
)

func main() {
	startTime := time.Now()

	memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Request contexts derive from ctx. Cancelling it after the graceful
	// shutdown window stops inline processing, which leaves the item in
	// processing for galleryctl requeue.
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	dbStart := time.Now()
	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	backend, err := storage.New(ctx, config.StorageConfig())
	if err != nil {
		startup.LogFatal("Failed to initialize storage: %v", err)
	}
	startup.LogStorageInit(backend.Name(), backend.Health(ctx))

	if err := media.InitVips(); err != nil {
		logging.Warn("libvips unavailable: %v", err)
	}
	startup.LogProcessorInit(config.FFmpegPath, media.IsVipsAvailable())

	keys := storage.NewReservations()
	worker := processor.New(db, backend, nil, processor.Config{
		ScratchDir: config.ScratchDir,
		FFmpegPath: config.FFmpegPath,
		Keys:       keys,
	})
	dispatcher, err := dispatch.New(ctx, config.DispatchConfig(), worker)
	if err != nil {
		startup.LogFatal("Failed to initialize task dispatch: %v", err)
	}
	startup.LogDispatchInit(string(dispatcher.Mode()))

	metrics.InitializeMetrics(backend.Name(), string(dispatcher.Mode()))

	ing := ingest.NewService(db, backend, dispatcher, ingest.Config{
		GalleryRoot:    config.GalleryRoot,
		ScratchDir:     config.ScratchDir,
		MaxUploadBytes: config.MaxUploadBytes,
		Keys:           keys,
	})
	lib := library.New(db, backend, config.SignedURLTTL)
	h := handlers.New(db, ing, lib, backend, dispatcher, handlers.Config{
		SessionDuration:   config.SessionDuration,
		SecureCookies:     config.SecureCookies,
		UploadReadTimeout: config.UploadTimeout,
	})

	memMonitor := memory.NewMonitor(memory.DefaultConfig())
	memMonitor.Start()

	collector := metrics.NewCollector(db, config.DatabasePath, metricsCollectorInterval)
	collector.Start()

	go cleanSessions(ctx, db)

	router := handlers.NewRouter(h)
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           buildHandler(router, config),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		// Uploads and file streams can run for minutes.
		WriteTimeout: 0,
		IdleTimeout:  serverIdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startup.LogFatal("Server error: %v", err)
		}
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	sig := <-sigChan
	startup.LogShutdownInitiated(sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	cancelRun()

	startup.LogShutdownStep("Closing task dispatch")
	if err := dispatcher.Close(); err != nil {
		logging.Warn("Dispatch close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Task dispatch closed")
	}

	collector.Stop()
	memMonitor.Stop()
	startup.LogShutdownStepComplete("Background workers stopped")

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	media.ShutdownVips()

	if err := db.Close(); err != nil {
		logging.Warn("Database close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Database closed")
	}

	startup.LogShutdownComplete()
}

// buildHandler wraps the router with the request-scoped middleware chain.
// Request IDs are assigned first so the access log can include them.
func buildHandler(router http.Handler, config *startup.Config) http.Handler {
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	handler := middleware.Compression(middleware.DefaultCompressionConfig())(router)
	handler = middleware.Logger(loggingConfig)(handler)
	return middleware.RequestID(handler)
}

func newMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handlers.MetricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  metricsReadTimeout,
		WriteTimeout: metricsWriteTimeout,
		IdleTimeout:  metricsIdleTimeout,
	}
}

func cleanSessions(ctx context.Context, db *database.Database) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanExpiredSessions(ctx)
			if err != nil {
				logging.Warn("Session cleanup failed: %v", err)
				continue
			}
			if n > 0 {
				logging.Debug("Removed %d expired sessions", n)
			}
		}
	}
}
