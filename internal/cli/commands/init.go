package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/plevy/pkg/config"
)

var (
	initForce bool
	initPath  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration file.

The file goes to $XDG_CONFIG_HOME/plevy/config.yaml (or
~/.config/plevy/config.yaml) unless --config names another path. An
existing file is left untouched unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing configuration file")
	initCmd.Flags().StringVarP(&initPath, "config", "c", "", "path to write (default: user config directory)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if err := config.InitConfigToPath(path, initForce); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	fmt.Fprintf(cmd.OutOrStdout(), "Edit it, then run: plevy serve --config %s\n", path)
	return nil
}
