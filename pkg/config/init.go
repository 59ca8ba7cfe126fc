package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# fcache configuration file
#
# Every value below is the built-in default. Any key can be overridden with
# an environment variable: FCACHE_<SECTION>_<KEY>, e.g.
#   FCACHE_LOGGING_LEVEL=DEBUG
#   FCACHE_STORE_TYPE=badger
#
# Sizes accept binary or decimal suffixes (64Ki, 16Mi, 100MB); durations use
# Go syntax (500ms, 30s, 5m). Capability masks use letters (r=read,
# c=read cache, w=write, b=write buffer).

`

// ErrConfigExists is returned by InitConfig when the target file exists and
// force is not set.
var ErrConfigExists = errors.New("configuration file already exists")

// InitConfig writes a default configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration to path. An existing file
// is only replaced when force is set.
func InitConfigToPath(path string, force bool) error {
	return WriteConfig(GetDefaultConfig(), path, force)
}

// WriteConfig validates cfg and writes it with the header comment. An
// existing file is only replaced when force is set.
func WriteConfig(cfg *Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s (use --force to overwrite)", ErrConfigExists, path)
		}
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("refusing to write invalid configuration: %w", err)
	}

	data, err := Render(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault renders the default configuration with a header comment.
func GenerateDefault() ([]byte, error) {
	return Render(GetDefaultConfig())
}

// Render encodes cfg as YAML below the header comment.
func Render(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}
