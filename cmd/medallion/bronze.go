package main

import (
	"context"
	"fmt"

	"github.com/cuemby/medallion/internal/bronze"
	"github.com/cuemby/medallion/internal/pipelog"
	"github.com/spf13/cobra"
)

var bronzeCmd = &cobra.Command{
	Use:   "bronze",
	Short: "Bronze layer operations: land raw source data into checksummed partitions",
}

var bronzeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one Bronze extraction per configuration document",
	RunE:  runBronze,
}

var bronzeSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned staging directories left by crashed runs",
	RunE:  runBronzeSweep,
}

func init() {
	addRunFlags(bronzeRunCmd)
	bronzeCmd.AddCommand(bronzeRunCmd)

	bronzeSweepCmd.Flags().String("config", "", "configuration document naming the storage backend to sweep (required)")
	bronzeSweepCmd.Flags().Duration("stale-after", bronze.StaleLeaseAfter, "age past which a staging directory is considered orphaned")
	_ = bronzeSweepCmd.MarkFlagRequired("config")
	bronzeCmd.AddCommand(bronzeSweepCmd)
}

func runBronze(cmd *cobra.Command, args []string) error {
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
		backend, err := openBackend(cfg)
		if err != nil {
			return err
		}

		if rr.dryRun {
			pipelog.WithRunID(rr.runID).Info().
				Str("system", cfg.System).Str("entity", cfg.Entity).
				Msg("dry-run: config and policy gate validated, no writes performed")
			backend.Close()
			continue
		}

		runner := bronze.NewRunner(backend, hookSurface)
		result, err := runner.Run(ctx, cfg, rr.runID)
		closeErr := backend.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
		fmt.Printf("bronze run complete: %s rows=%d chunks=%d partition=%s\n",
			cfg.Entity, result.RecordCount, result.ChunkCount, result.PartitionPath)
	}
	return nil
}

func runBronzeSweep(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	staleAfter, _ := cmd.Flags().GetDuration("stale-after")

	configs, err := loadConfigsOnly(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var swept int
	for _, cfg := range configs {
		backend, err := openBackend(cfg)
		if err != nil {
			return err
		}
		n, err := bronze.Sweep(ctx, backend, cfg.Storage.Prefix, staleAfter)
		backend.Close()
		if err != nil {
			return err
		}
		swept += n
	}
	fmt.Printf("swept %d orphaned staging directories (stale after %s)\n", swept, staleAfter)
	return nil
}
