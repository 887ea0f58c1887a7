package main

import (
	"fmt"
	"os"

	"github.com/cuemby/medallion/internal/pipelog"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "medallion",
	Short: "medallion - Bronze/Silver data landing and curation pipeline",
	Long: `medallion lands raw source data into a checksummed, manifest-backed
Bronze layer and curates it into Silver datasets via a small set of
well-defined transformation models (snapshot, dedupe, SCD1/2, incremental
merge).`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("medallion version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bronzeCmd)
	rootCmd.AddCommand(silverCmd)
	rootCmd.AddCommand(validateCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	pipelog.Init(pipelog.Config{
		Level:      pipelog.Level(level),
		JSONOutput: jsonOut,
	})
}
