package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "./ulysse.json", "path to the server configuration file")
	initConfig := flag.Bool("init", false, "copy the example configuration into the configuration directory and exit")
	flag.Parse()

	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *initConfig {
		config, err := LoadConfig(*configPath)
		if err != nil {
			baseLogger.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err = installConfig(config, baseLogger); err != nil {
			baseLogger.Error("Installation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(*configPath, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			os.Exit(1)
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Ulysse has shut down.")
}

// run hosts the site until a shutdown or restart is requested, and returns
// the requested action.
func run(configPath string, actionChan chan string) (string, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.LogLevel)}))
	logger.Info("Starting server cycle...", "version", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewServer(ctx, config, logger, actionChan)
	if err != nil {
		return "", fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:              config.ServerAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Starting Ulysse server", "address", httpServer.Addr, "dev_mode", config.DevMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			actionChan <- actionShutdown
		}
	}()

	action := <-actionChan

	logger.Info("Stopping server for " + action + "...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	return action, nil
}
