package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"latentsetup/internal/setup/app"
)

const shutdownTimeout = 10 * time.Second

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("latent setup: init failed: %v", err)
	}
	log.Printf("latent setup: %s", a.Summary())

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Printf("latent setup: %s received, closing sessions", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("latent setup: server stopped: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		log.Fatalf("latent setup: shutdown: %v", err)
	}
	log.Println("latent setup: stopped")
}
