package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pushguard/src/internal/config"
	"pushguard/src/internal/gateway"
	"pushguard/src/internal/storage"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	debug   bool
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "pushguard",
	Short: "Guard and dev server for the push task console",
	Long: `pushguard sits between the push task console and its backend.

It proxies /api to the backend, sanitizes every task listing it sees,
refuses delete and edit actions on tasks without a valid id, and keeps a
journal of what it repaired and blocked.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(os.Stderr)
	},
}

func setupLogging(w io.Writer) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.pushguard/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openGateway loads config and storage and wires the gateway. Callers must
// Close it.
func openGateway() (*gateway.Gateway, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Debug && !debug {
		debug = true
		setupLogging(os.Stderr)
	}
	st, err := storage.New(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return gateway.New(cfg, st)
}

// printOutput writes v as json or yaml, or calls table for the default
// format.
func printOutput(v any, table func() error) error {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(v)
	case "table", "":
		return table()
	}
	return fmt.Errorf("unknown output format %q", output)
}
