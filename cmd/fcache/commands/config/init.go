package config

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/filecache/internal/cli/prompt"
	"github.com/marmos91/filecache/pkg/config"
)

var (
	initForce       bool
	initInteractive bool

	// prompter is replaced in tests.
	prompter prompt.Prompter = prompt.Terminal{}

	// interactive reports whether the terminal can answer prompts.
	interactive = prompt.Interactive
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize an fcache configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/fcache/config.yaml
with every default spelled out. Use --config to specify a custom path and
--interactive to choose the block store and main cache settings.

Examples:
  # Initialize with default location
  fcache config init

  # Initialize with custom path
  fcache config init --config ./fcache.yaml

  # Answer a few questions instead of editing YAML
  fcache config init --interactive

  # Force overwrite existing config
  fcache config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the store and cache settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := runWizard(prompter, cfg); err != nil {
			if prompt.IsAborted(err) {
				return errors.New("configuration cancelled")
			}
			return err
		}
	}

	err := config.WriteConfig(cfg, configPath, initForce)
	if errors.Is(err, config.ErrConfigExists) && interactive() {
		overwrite, perr := prompter.Confirm(fmt.Sprintf("%s exists. Overwrite", configPath), false)
		if perr != nil && !prompt.IsAborted(perr) {
			return perr
		}
		if !overwrite {
			return err
		}
		err = config.WriteConfig(cfg, configPath, true)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	if !initInteractive {
		_, _ = fmt.Fprintln(out, "  1. Pick a block store (memory, badger or s3) in the store section")
	} else {
		_, _ = fmt.Fprintf(out, "  1. Review the %s store settings in the file\n", cfg.Store.Type)
	}
	_, _ = fmt.Fprintln(out, "  2. Check it with: fcache config validate")
	_, _ = fmt.Fprintf(out, "  3. Replay a scenario: fcache run --config %s scenario.yaml\n", configPath)
	return nil
}
