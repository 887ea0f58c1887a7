package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/hooks"
	"github.com/cuemby/medallion/internal/pipelog"
	"github.com/cuemby/medallion/internal/policy"
	"github.com/cuemby/medallion/internal/resilience"
	"github.com/cuemby/medallion/internal/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// addRunFlags attaches the §6 "Invocation" mode flags shared by the
// bronze and silver subcommands.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "comma-separated configuration document paths (required)")
	cmd.Flags().String("run-date", "", "ISO run date override (defaults to system date)")
	cmd.Flags().String("load-pattern", "", "load_pattern override")
	cmd.Flags().Bool("validate-only", false, "run the policy gate only, no I/O")
	cmd.Flags().Bool("dry-run", false, "run the policy gate and open the storage backend only; no adapter probe, no writes")
	cmd.Flags().Bool("verbose", false, "verbose logging")
	cmd.Flags().Bool("quiet", false, "quiet logging")
	cmd.Flags().Int("parallel-workers", 0, "run.parallel_workers override (chunk-level upload workers); configuration documents still run one at a time")
	cmd.Flags().String("storage-scope", "", "storage_spec.scope override (onprem|cloud)")
	_ = cmd.MarkFlagRequired("config")
}

// resolvedRun holds everything a bronze/silver subcommand needs after
// flag parsing: the loaded, override-applied configs and run controls.
type resolvedRun struct {
	configs      []config.Config
	runID        string
	validateOnly bool
	dryRun       bool
}

func resolveRun(cmd *cobra.Command) (*resolvedRun, error) {
	configPath, _ := cmd.Flags().GetString("config")
	runDateStr, _ := cmd.Flags().GetString("run-date")
	loadPattern, _ := cmd.Flags().GetString("load-pattern")
	validateOnly, _ := cmd.Flags().GetBool("validate-only")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	parallelWorkers, _ := cmd.Flags().GetInt("parallel-workers")
	storageScope, _ := cmd.Flags().GetString("storage-scope")

	switch {
	case verbose:
		pipelog.Init(pipelog.Config{Level: pipelog.DebugLevel})
	case quiet:
		pipelog.Init(pipelog.Config{Level: pipelog.ErrorLevel})
	}

	configs, err := config.LoadAll(configPath)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindConfig, err)
	}

	overrides := config.Overrides{
		LoadPattern:     config.LoadPattern(loadPattern),
		ParallelWorkers: parallelWorkers,
		StorageScope:    config.StorageScope(storageScope),
	}
	if runDateStr != "" {
		t, err := time.Parse("2006-01-02", runDateStr)
		if err != nil {
			return nil, resilience.NewFailure(resilience.KindConfig, fmt.Errorf("run-date: %w", err))
		}
		overrides.RunDate = &t
	}

	for i, cfg := range configs {
		configs[i] = overrides.Apply(cfg)
	}

	return &resolvedRun{
		configs:      configs,
		runID:        uuid.NewString(),
		validateOnly: validateOnly,
		dryRun:       dryRun,
	}, nil
}

// loadConfigsOnly loads configuration documents without applying CLI
// mode-flag overrides, for subcommands (bronze sweep) that only need a
// storage backend's identity.
func loadConfigsOnly(commaSeparated string) ([]config.Config, error) {
	configs, err := config.LoadAll(commaSeparated)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindConfig, err)
	}
	return configs, nil
}

// validateAll runs the policy gate (C9) against every loaded config,
// returning the first violation encountered.
func validateAll(configs []config.Config) error {
	for _, cfg := range configs {
		if err := policy.Check(cfg); err != nil {
			return resilience.NewFailure(resilience.KindConfig, err)
		}
	}
	return nil
}

// openBackend constructs the storage backend named by cfg.Storage.
func openBackend(cfg config.Config) (storage.Backend, error) {
	backend, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, resilience.NewFailure(resilience.KindConfig, err)
	}
	return backend, nil
}

// loggingHookSurface builds a hook surface (C10) that logs every event
// through pipelog; this is the CLI's default sink, a stand-in for
// whatever sink a real deployment registers.
func loggingHookSurface() *hooks.Surface {
	return hooks.NewSurface(64, func(ctx context.Context, e hooks.Event) error {
		pipelog.WithRunID(e.RunID).Info().
			Str("event", string(e.Type)).
			Str("path", e.Path).
			Int64("record_count", e.RecordCount).
			Msg("hook event")
		return nil
	})
}

// exitCodeFor maps a run's terminal error to the §6 exit-code table.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	f := resilience.AsFailure(err)
	switch f.Kind {
	case resilience.KindConfig:
		return 1
	case resilience.KindAuth, resilience.KindNetwork, resilience.KindThrottled, resilience.KindPermanent:
		return 2
	case resilience.KindNotFound:
		return 3
	case resilience.KindCorruptManifest, resilience.KindDataQuality:
		return 4
	case resilience.KindCancelled:
		return 5
	default:
		return 6
	}
}
