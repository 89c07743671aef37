package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/rebalancer/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage rebalancer configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  rebalancer config init -o config.yaml
  rebalancer config validate -f config.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "config.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	// Defaults alone do not validate: the operator must choose models.
	cfg.Models = map[string]float64{"CORE": 1.0}
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the model mix, then run:")
	fmt.Printf("  rebalancer plan --config %s --portfolios portfolios.yaml --quotes quotes.yaml\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Account: %s (paper_only=%v)\n", cfg.Broker.Account, cfg.Safety.PaperOnly)
	fmt.Printf("  Trigger: %s (band %.0f bps, min order $%.0f)\n",
		cfg.Rebalance.TriggerMode, cfg.Rebalance.PerHoldingBandBps, cfg.Rebalance.MinOrderUSD)
	fmt.Printf("  FX: enabled=%v  Journal: %s\n", cfg.FX.Enabled, cfg.IO.JournalType)
	return nil
}
