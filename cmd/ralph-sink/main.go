// Package main provides a development notification sink for ralph runs.
//
// The sink receives the orchestrator's lifecycle events over HTTP and
// renders them to the terminal, so a run can be watched from another shell.
//
// Usage:
//
//	PORT=8787 ./ralph-sink
//
// then point the orchestrator at it:
//
//	RALPH_NOTIFY_BASE_URL=http://localhost:8787 ralph run
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ralph/internal/logging"
	"github.com/fyrsmithlabs/ralph/internal/sink"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewLogger(&logging.Config{
		Level:  zapcore.InfoLevel,
		Format: "console",
		Fields: map[string]string{"service": "ralph-sink"},
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := &sink.Config{Host: "", Port: 8787}
	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", p, err)
		}
		cfg.Port = port
	}

	server, err := sink.NewServer(logger, cfg, os.Stdout)
	if err != nil {
		return err
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
