// Command loreforge runs the world-builder generation service.
//
// Usage:
//
//	loreforge serve  [--config config.yaml]
//	loreforge health [--retries 3] [--delay 2s]
//	loreforge batch  operations.yaml
//	loreforge check
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/loreforge/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "loreforge",
	Short:         "AI generation orchestration for the world builder",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd, healthCmd, batchCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loreforge: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the file named by --config and installs the process
// logger at its level. The returned LevelVar follows later reloads.
func loadConfig(cmd *cobra.Command) (*config.Config, string, *slog.LevelVar, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return nil, "", nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(os.Stderr, lv, cfg.Server.LogFormat))
	return cfg, path, lv, nil
}

// newRegistry returns a registry with every built-in backend kind.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)
	return reg
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
