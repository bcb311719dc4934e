package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/winklabs/storepulse/internal/analytics"
	"github.com/winklabs/storepulse/internal/api"
	"github.com/winklabs/storepulse/internal/ingest"
	"github.com/winklabs/storepulse/internal/live"
	"github.com/winklabs/storepulse/internal/metrics"
	"github.com/winklabs/storepulse/internal/store"
)

func main() {
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)
	logger.Println("🚀 Starting StorePulse ingestion + analytics server...")

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal("❌ DATABASE_URL is required")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, dsn)
	if err != nil {
		logger.Fatalf("❌ Database connection failed: %v", err)
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		logger.Fatalf("❌ Schema init failed: %v", err)
	}
	logger.Println("✅ Database ready")

	publisher, err := live.NewPublisher(os.Getenv("REDIS_URL"))
	if err != nil {
		logger.Fatalf("❌ Redis connection failed: %v", err)
	}
	if publisher != nil {
		defer publisher.Close()
		logger.Println("✅ Live updates enabled")
	}

	m := metrics.NewServer()
	handlers := ingest.NewHandlers(st, publisher, m)
	server := api.NewServer(analytics.NewService(st), st, st, handlers, m)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Printf("✅ Listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("❌ Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("⚠️  Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("❌ Shutdown error: %v", err)
	}
	logger.Println("✅ Server stopped")
}
