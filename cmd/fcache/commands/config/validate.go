package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the fcache configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  fcache config validate

  # Validate specific config file
  fcache config validate --config ./fcache.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Store.Type == "memory" {
		warnings = append(warnings, "memory store selected: blocks do not outlive a run")
	}
	if cfg.Grant.InitialCaps&caps.WriteBuffer == 0 {
		warnings = append(warnings, "initial caps lack write_buffer: every write goes to the store synchronously")
	}
	if cfg.Cache.FlushAge > cfg.ShutdownTimeout {
		warnings = append(warnings, "flush_age exceeds shutdown_timeout: dirty data may be written only on exit")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Store type:      %s\n", cfg.Store.Type)
	_, _ = fmt.Fprintf(out, "  Block size:      %s\n", cfg.Cache.BlockSize)
	_, _ = fmt.Fprintf(out, "  Max dirty:       %s\n", cfg.Cache.MaxDirty)
	_, _ = fmt.Fprintf(out, "  Initial caps:    %s\n", cfg.Grant.InitialCaps)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
