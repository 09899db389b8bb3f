package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/runplane/internal/common"
	commonconfig "github.com/armadaproject/runplane/internal/common/config"
	"github.com/armadaproject/runplane/internal/runplane/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/runplane"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "runplane",
		SilenceUsage: true,
		Short:        "Runplane dispatches tasks onto container backends and reconciles their state",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation))

	cmd.AddCommand(
		runCmd(),
		validateCmd(),
	)

	return cmd
}

func loadConfig() (configuration.RunplaneConfiguration, error) {
	var config configuration.RunplaneConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	if _, err := common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}

	err := config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}
