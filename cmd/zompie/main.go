// ABOUTME: Entry point for the zompie agent: connects to the controller and serves.
// ABOUTME: Usage: zompie [-addr host:1932] [-workdir .] [-log-level info]

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/liaoxmichael/botnet/internal/executor"
)

func main() {
	addr := flag.String("addr", fmt.Sprintf("127.0.0.1:%d", zompDefaultPort), "controller address")
	workDir := flag.String("workdir", ".", "directory scripts are resolved and run in")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	if err := run(*addr, *workDir, *logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

const zompDefaultPort = 1932

func run(addr, workDir, logLevel, logFormat string) error {
	logger := setupLogger(logLevel, logFormat)
	slog.SetDefault(logger)

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolving workdir: %w", err)
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return fmt.Errorf("workdir %s is not a directory", workDir)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to controller: %w", err)
	}
	defer conn.Close()
	logger.Info("connected to controller", "addr", addr, "workdir", workDir)

	exec := executor.New(conn, workDir, logger)
	if err := exec.Register(); err != nil {
		return err
	}

	// SIGINT closes the connection, which unblocks the serve loop.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := exec.Serve(); err != nil {
		if ctx.Err() != nil {
			return nil // interrupted by the operator, not an error
		}
		return err
	}
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
