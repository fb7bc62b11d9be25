package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/loreforge/internal/app"
	"github.com/MrWong99/loreforge/internal/config"
	"github.com/MrWong99/loreforge/internal/lifecycle"
	"github.com/MrWong99/loreforge/internal/worldgen"
)

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every configured service and print the health map",
	Long: `Probe every configured service and print the health map as JSON.

The probe is repeated with a linearly growing delay until at least one
service answers. The command exits non-zero when none does.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		retries, _ := cmd.Flags().GetInt("retries")
		delay, _ := cmd.Flags().GetDuration("delay")

		// A one-shot probe needs neither the cache nor the history store.
		cfg.Cache.Kind = config.StoreNone
		cfg.History.Kind = config.StoreNone

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		application, err := app.New(ctx, cfg, newRegistry())
		if err != nil {
			return err
		}
		defer application.Shutdown(context.Background())

		health, err := application.Lifecycle().CheckServiceHealthWithRetry(ctx, retries, delay)
		if werr := writeJSON(cmd.OutOrStdout(), healthReport{
			Summary:  lifecycle.Summarize(health),
			Services: health,
		}); werr != nil {
			return werr
		}
		if errors.Is(err, lifecycle.ErrNoHealthyService) {
			return errors.New("no service is healthy")
		}
		return err
	},
}

type healthReport struct {
	Summary  lifecycle.Summary `json:"summary"`
	Services map[string]bool   `json:"services"`
}

func init() {
	healthCmd.Flags().Int("retries", 3, "number of probe rounds")
	healthCmd.Flags().Duration("delay", 2*time.Second, "delay before the second round; grows linearly")
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch <file.yaml>",
	Short: "Run a batch of generations from a YAML file",
	Long: `Run a batch of generations from a YAML file and print the results as JSON.

Example file:
  operations:
    - id: elara
      type: npc
      request: {race: elf, occupation: librarian}
    - type: monster
      request: {monsterType: dragon, prompt: "an ancient red wyrm"}

Progress is reported on stderr. The command exits non-zero when any
operation failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, err := readBatchFile(args[0])
		if err != nil {
			return err
		}
		cfg, _, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		application, err := app.New(ctx, cfg, newRegistry())
		if err != nil {
			return err
		}
		defer application.Shutdown(context.Background())

		stderr := cmd.ErrOrStderr()
		results := application.Orchestrator().GenerateBatch(ctx, ops, func(percent int) {
			fmt.Fprintf(stderr, "progress: %d%%\n", percent)
		})
		if err := writeJSON(cmd.OutOrStdout(), batchReport{
			Results: results,
			Summary: worldgen.BatchSummary(results),
		}); err != nil {
			return err
		}
		return worldgen.BatchErrors(results)
	},
}

type batchFile struct {
	Operations []worldgen.BatchOperation `yaml:"operations"`
}

type batchReport struct {
	Results []worldgen.BatchResult `json:"results"`
	Summary string                 `json:"summary"`
}

// readBatchFile decodes the operations of a batch file. Unknown keys are
// rejected.
func readBatchFile(path string) ([]worldgen.BatchOperation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	defer f.Close()

	var bf batchFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding batch file %q: %w", path, err)
	}
	if len(bf.Operations) == 0 {
		return nil, fmt.Errorf("batch file %q has no operations", path)
	}
	return bf.Operations, nil
}

// --- check ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the effective routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, path, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if _, err := newRegistry().CreateBackends(cfg); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s is valid\n\n", path)
		return yaml.NewEncoder(out).Encode(effectiveConfig{
			Backends: redactedBackends(cfg),
			Routes:   cfg.Routes,
			Services: cfg.Services,
		})
	},
}

type effectiveConfig struct {
	Backends []config.BackendEntry     `yaml:"backends"`
	Routes   map[string]worldgen.Route `yaml:"routes"`
	Services []config.ServiceEntry     `yaml:"services"`
}

func redactedBackends(cfg *config.Config) []config.BackendEntry {
	out := make([]config.BackendEntry, len(cfg.Backends))
	copy(out, cfg.Backends)
	for i := range out {
		if out[i].APIKey != "" {
			out[i].APIKey = "<redacted>"
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
