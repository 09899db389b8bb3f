package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/runplane/internal/runplane"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the control plane",
		RunE:  runControlPlane,
	}
	return cmd
}

func runControlPlane(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return runplane.Run(config)
}
