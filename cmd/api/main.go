package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clydra/backend/internal/api"
	"github.com/clydra/backend/internal/cache"
	"github.com/clydra/backend/internal/config"
	"github.com/clydra/backend/internal/database"
	"github.com/clydra/backend/internal/repository"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("[main] Starting Clydra metering API (env=%s)", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database. The durable store is required: quota decisions
	// fail closed without it.
	dbCfg := database.DefaultConfig(cfg.DatabaseURL)
	db, err := database.New(ctx, dbCfg)
	if err != nil {
		log.Fatalf("[main] Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := repository.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("[main] Failed to ensure schema: %v", err)
	}

	// The cache is advisory: an unreachable Redis starts the adapter on
	// its in-process fallback instead of blocking startup.
	cacheAdapter := cache.NewAdapterFromURL(cfg.RedisURL, cfg.CacheOpTimeout)

	// Create router
	router := api.NewRouter(cfg, db, cacheAdapter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[main] Server listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[main] Shutting down server...")

	// Give outstanding requests time to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Server forced to shutdown: %v", err)
	}

	log.Println("[main] Server stopped")
}
