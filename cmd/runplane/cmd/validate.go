package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadaproject/runplane/internal/runplane"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Loads and validates the configuration and prints the resolved resource pools",
		RunE:  validateConfig,
	}
	return cmd
}

func validateConfig(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	pools, err := runplane.DescribePools(config)
	if err != nil {
		return err
	}
	for _, pool := range pools {
		fmt.Fprintln(cmd.OutOrStdout(), pool)
	}
	return nil
}
