package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/filecache/internal/cli/output"
	"github.com/marmos91/filecache/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective fcache configuration: the file, environment
overrides and defaults merged.

By default outputs YAML format. Use --output json for JSON.

Examples:
  # Show the effective configuration
  fcache config show

  # Show as JSON
  fcache config show --output json

  # Show with an environment override applied
  FCACHE_CACHE_BLOCK_SIZE=4Ki fcache config show`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	formatFlag, _ := cmd.Flags().GetString("output")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(formatFlag)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
