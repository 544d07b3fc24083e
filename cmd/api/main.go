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

	"mixpower/internal/api"
	"mixpower/internal/config"
	"mixpower/internal/container"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create container: %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.NewServer(c.Service, api.Options{
			Workers:          cfg.Sim.Workers,
			SweepConcurrency: cfg.Sim.SweepConcurrency,
		}, c.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		c.Logger.Info("API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		c.Logger.Error("server shutdown: %v", err)
	}
	if err := c.Shutdown(shutdownCtx); err != nil {
		c.Logger.Error("container shutdown: %v", err)
	}
}
