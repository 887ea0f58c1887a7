package main

import (
	"context"
	"fmt"

	"github.com/cuemby/medallion/internal/pipelog"
	"github.com/cuemby/medallion/internal/silver"
	"github.com/spf13/cobra"
)

var silverCmd = &cobra.Command{
	Use:   "silver",
	Short: "Silver layer operations: curate Bronze partitions into modeled datasets",
}

var silverRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one Silver promotion per configuration document",
	RunE:  runSilver,
}

func init() {
	addRunFlags(silverRunCmd)
	silverCmd.AddCommand(silverRunCmd)
}

func runSilver(cmd *cobra.Command, args []string) error {
	rr, err := resolveRun(cmd)
	if err != nil {
		return err
	}
	if err := validateAll(rr.configs); err != nil {
		return err
	}
	if rr.validateOnly {
		fmt.Println("validate-only: policy gate passed for all configuration documents")
		return nil
	}

	ctx := context.Background()
	hookSurface := loggingHookSurface()
	defer hookSurface.Close()

	for _, cfg := range rr.configs {
		if cfg.Silver == nil {
			return fmt.Errorf("silver: configuration document for entity %q has no silver_spec", cfg.Entity)
		}

		backend, err := openBackend(cfg)
		if err != nil {
			return err
		}

		if rr.dryRun {
			pipelog.WithRunID(rr.runID).Info().
				Str("system", cfg.System).Str("entity", cfg.Entity).
				Str("model", string(cfg.Silver.ResolvedModel())).
				Msg("dry-run: config and policy gate validated, no writes performed")
			backend.Close()
			continue
		}

		engine := silver.NewEngine(backend, hookSurface)
		result, err := engine.Run(ctx, cfg, rr.runID)
		closeErr := backend.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
		fmt.Printf("silver run complete: %s model=%s rows=%d bad_rows=%d partitions=%v\n",
			cfg.Entity, result.AppliedModel, result.RecordCount, result.BadRowCount, result.PartitionPaths)
	}
	return nil
}
