package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollbook/internal/bootstrap"
	"rollbook/internal/config"
	"rollbook/internal/worker"
)

// Worker consumes queued attendance batches and saves them.
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend != "redis" {
		log.Printf("warning: QUEUE_BACKEND=%s; only this process can publish to an in-memory queue", cfg.QueueBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	app, err := bootstrap.New(cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	if err := app.Init(ctx); err != nil {
		log.Printf("warning: data store not ready: %v", err)
	}

	if err := worker.New(app.Queue, app.Store).Run(ctx); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
}
