package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configValidateAPI bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the merged configuration (files, ALLUREBOARD_* environment and
defaults) as YAML with secrets redacted, after validating it.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configValidateAPI, "api", false,
		"also validate the api section")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	validate := cfg.Validate
	if configValidateAPI {
		validate = cfg.ValidateAPI
	}

	if err := validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)

	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return enc.Close()
}
