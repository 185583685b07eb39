package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/chainstream/internal/cli/prompt"
	"github.com/marmos91/chainstream/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file with defaults",
	Long: `Write a configuration file populated with default values.

The file is written to the path given with --config, or to the default
location at $XDG_CONFIG_HOME/chainstream/config.yaml.

Examples:
  # Initialize config at the default location
  chainstream init

  # Initialize at a custom path, overwriting an existing file
  chainstream init --config /etc/chainstream/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		ok, err := prompt.Confirm(fmt.Sprintf("Config file %s exists, overwrite?", path), false)
		if err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
