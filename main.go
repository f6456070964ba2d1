package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"aletheia/internal"
	"aletheia/internal/api"
	"aletheia/internal/config"
	"aletheia/internal/container"
	"aletheia/internal/research"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		internal.DefaultLogger.Info("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		internal.DefaultLogger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logger := internal.NewLoggerWithOptions(internal.LogOptions{
		Level:  appConfig.Log.Level,
		Format: appConfig.Log.Format,
		File:   appConfig.Log.File,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(appConfig, logger)
	if err != nil {
		logger.Error("Failed to create application container: %v", err)
		os.Exit(1)
	}
	if err := appContainer.Init(ctx); err != nil {
		logger.Error("Failed to initialize container: %v", err)
		os.Exit(1)
	}

	gin.SetMode(appConfig.Server.GinMode)
	server := api.NewServer(appContainer.Manager, appContainer.Store, appContainer.SSEHub, logger)
	httpServer := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var opsServer *http.Server
	if appConfig.Profiling.Enabled {
		opsServer = &http.Server{
			Addr:              ":" + appConfig.Profiling.Port,
			Handler:           opsRouter(appContainer),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Ops server starting on :%s (pprof under /debug)", appConfig.Profiling.Port)
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Ops server failed: %v", err)
			}
		}()
	}

	if appContainer.FileStore != nil && appConfig.Artifacts.Retention > 0 {
		go retentionLoop(ctx, appContainer.FileStore, appConfig.Artifacts.Retention, logger)
	}

	go func() {
		logger.Info("Starting Aletheia server on port %s", appConfig.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}
	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ops server shutdown: %v", err)
		}
	}
	if err := appContainer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Container shutdown: %v", err)
	}
}

// opsRouter serves profiling and liveness on a separate port
func opsRouter(c *container.Container) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/debug", middleware.Profiler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"active_tasks":%d,"streaming_tasks":%d}`+"\n",
			c.Manager.Active(), len(c.SSEHub.GetActiveTasks()))
	})
	return r
}

func retentionLoop(ctx context.Context, store *research.ResearchStorage, maxAge time.Duration, logger *internal.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		removed, err := store.CleanupOldFiles(maxAge)
		if err != nil {
			logger.Warn("Artifact cleanup failed: %v", err)
		} else if removed > 0 {
			logger.Info("Removed %d expired task directories", removed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
