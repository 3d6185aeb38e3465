package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojokv/config"
	"github.com/sushant-115/gojokv/core/indexing/btree"
	"github.com/sushant-115/gojokv/internal/shell"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	"github.com/sushant-115/gojokv/pkg/logger"
	"github.com/sushant-115/gojokv/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	configPath  = flag.String("config", "", "Path to a YAML configuration file")
	dbPath      = flag.String("db", "", "Store file path (overrides store.path)")
	logLevel    = flag.String("log-level", "", "Log level (overrides logger.level)")
	metrics     = flag.Bool("metrics", false, "Expose Prometheus metrics (overrides telemetry.enabled)")
	metricsPort = flag.Int("metrics-port", 0, "Prometheus port (overrides telemetry.prometheus_port)")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [script]\n\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(flag.CommandLine.Output(), "Runs commands from script, or from an interactive prompt when omitted.")
	fmt.Fprintln(flag.CommandLine.Output(), shell.Help)
	fmt.Fprintln(flag.CommandLine.Output())
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0)); err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
}

// loadConfig applies command-line overrides on top of the file configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if *metrics {
		cfg.Telemetry.Enabled = true
	}
	if *metricsPort != 0 {
		cfg.Telemetry.PrometheusPort = *metricsPort
	}
	return cfg, cfg.Validate()
}

func run(script string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("can't initialize logger: %w", err)
	}
	defer zlogger.Sync()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("can't initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	treeMetrics, err := internaltelemetry.NewTreeMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("can't register tree metrics: %w", err)
	}

	if dir := filepath.Dir(cfg.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	tree, err := btree.Open(cfg.Store.Path, btree.WithLogger(zlogger), btree.WithMetrics(treeMetrics))
	if err != nil {
		return fmt.Errorf("error initializing B+ tree: %w", err)
	}
	defer func() {
		if err := tree.Close(); err != nil {
			zlogger.Error("Failed to close B+ tree", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	sh := shell.New(tree, os.Stdout, shell.WithLogger(zlogger.Named("shell")), shell.WithTracer(tel.Tracer),
		shell.WithBackupOptions(btree.BackupOptions{
			BytesPerSec:   cfg.Store.BackupBytesPerSec,
			LowerPriority: cfg.Store.BackupLowerPriority,
		}))

	if script != "" {
		f, err := os.Open(script)
		if err != nil {
			return fmt.Errorf("opening script %s: %w", script, err)
		}
		defer f.Close()
		return sh.Run(ctx, f)
	}

	fmt.Printf("B+ Tree loaded successfully from: %s\n", cfg.Store.Path)
	fmt.Println("Enter command (GET/PUT/DEL/STATS/BACKUP/QUIT):")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          shell.Prompt,
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "QUIT",
	})
	if err != nil {
		// Not a terminal; fall back to plain line reading.
		zlogger.Debug("Readline unavailable, reading stdin", zap.Error(err))
		return sh.Run(ctx, os.Stdin)
	}
	defer rl.Close()
	return sh.RunInteractive(ctx, rl)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gojokv_history")
}
