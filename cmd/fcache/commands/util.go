package commands

import (
	"fmt"

	"github.com/marmos91/filecache/internal/logger"
	"github.com/marmos91/filecache/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
