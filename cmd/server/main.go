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

	"github.com/jo-hoe/colorify/internal/backend"
	"github.com/jo-hoe/colorify/internal/backend/inference"
	"github.com/jo-hoe/colorify/internal/core"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// CONFIG_PATH is optional; without it ./config.yaml is used when present
	configPath := os.Getenv("CONFIG_PATH")
	config, err := core.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		panic(err)
	}
	slog.SetDefault(newLogger(config))

	databaseService, err := core.OpenDatabase(context.Background(), config)
	if err != nil {
		slog.Error("failed to initialize database service", "error", err)
		panic(err)
	}

	gateway, err := inference.NewClient(inference.Options{
		Token:   config.HFToken,
		BaseURL: config.HFBaseURL,
		Timeout: config.Timeout(),
	})
	if err != nil {
		slog.Error("failed to initialize inference client", "error", err)
		panic(err)
	}

	coreService := core.NewCoreService(config, databaseService, gateway)
	server := backend.NewServer(config)
	backend.NewAPIService(config, coreService).SetRoutes(server)

	portString := fmt.Sprintf(":%d", config.Port)

	// Start HTTP server in a goroutine to allow graceful shutdown
	go func() {
		slog.Info("starting server", "port", config.Port, "database", config.Database.Type)
		if err := server.Start(portString); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if err := coreService.Close(); err != nil {
		slog.Error("core service close error", "error", err)
	}
}

func newLogger(config *core.ServiceConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(config.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if config.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}
