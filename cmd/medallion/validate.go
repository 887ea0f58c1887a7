package main

import (
	"fmt"

	"github.com/cuemby/medallion/internal/config"
	"github.com/cuemby/medallion/internal/resilience"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the policy gate against one or more configuration documents without any I/O",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().String("config", "", "comma-separated configuration document paths (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	configs, err := config.LoadAll(configPath)
	if err != nil {
		return resilience.NewFailure(resilience.KindConfig, err)
	}
	if err := validateAll(configs); err != nil {
		return err
	}
	fmt.Printf("policy gate passed for %d configuration document(s)\n", len(configs))
	return nil
}
