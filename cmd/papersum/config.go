package main

import (
	"fmt"

	"github.com/phrazzld/papersum/internal/config"
	"github.com/spf13/cobra"
)

// loadConfig loads configuration from the --config flag, the working
// directory and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
