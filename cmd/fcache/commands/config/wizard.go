package config

import (
	"errors"
	"fmt"

	"github.com/marmos91/filecache/internal/bytesize"
	"github.com/marmos91/filecache/internal/cli/prompt"
	"github.com/marmos91/filecache/pkg/caps"
	"github.com/marmos91/filecache/pkg/config"
)

var storeOptions = []prompt.Option{
	{Label: "memory", Value: "memory", Description: "Blocks live in process memory and vanish after each run"},
	{Label: "badger", Value: "badger", Description: "Blocks persist in a local Badger database"},
	{Label: "s3", Value: "s3", Description: "Blocks are objects in an S3 (or compatible) bucket"},
}

// runWizard asks for the settings that differ most between setups and
// applies the answers to cfg.
func runWizard(p prompt.Prompter, cfg *config.Config) error {
	storeType, err := p.Select("Block store", storeOptions)
	if err != nil {
		return err
	}
	cfg.Store.Type = storeType

	switch storeType {
	case "badger":
		if cfg.Store.Badger.Path, err = p.Input("Badger directory", cfg.Store.Badger.Path, required); err != nil {
			return err
		}
	case "s3":
		if err := askS3(p, &cfg.Store.S3); err != nil {
			return err
		}
	}

	defSize, _ := cfg.Cache.BlockSize.MarshalText()
	size, err := p.Input("Block size", string(defSize), validateBlockSize)
	if err != nil {
		return err
	}
	if cfg.Cache.BlockSize, err = bytesize.ParseByteSize(size); err != nil {
		return err
	}
	if cfg.Cache.MaxDirty < cfg.Cache.BlockSize {
		cfg.Cache.MaxDirty = cfg.Cache.BlockSize
	}

	mask, err := p.Input("Initial capabilities (r, c, w, b)", cfg.Grant.InitialCaps.String(), validateCaps)
	if err != nil {
		return err
	}
	if cfg.Grant.InitialCaps, err = caps.Parse(mask); err != nil {
		return err
	}

	if cfg.Metrics.Enabled, err = p.Confirm("Serve Prometheus metrics", cfg.Metrics.Enabled); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		def := cfg.Metrics.Addr
		if def == "" {
			def = ":9090"
		}
		if cfg.Metrics.Addr, err = p.Input("Metrics address", def, required); err != nil {
			return err
		}
	}

	return config.Validate(cfg)
}

func askS3(p prompt.Prompter, s3 *config.S3StoreConfig) error {
	var err error
	if s3.Bucket, err = p.Input("S3 bucket", s3.Bucket, required); err != nil {
		return err
	}
	if s3.Region, err = p.Input("S3 region", s3.Region, nil); err != nil {
		return err
	}
	if s3.Endpoint, err = p.Input("S3 endpoint (empty for AWS)", s3.Endpoint, nil); err != nil {
		return err
	}
	if s3.Endpoint != "" {
		if s3.ForcePathStyle, err = p.Confirm("Use path-style addressing", true); err != nil {
			return err
		}
	}
	if s3.AccessKeyID, err = p.Input("Access key ID (empty for the default chain)", s3.AccessKeyID, nil); err != nil {
		return err
	}
	if s3.AccessKeyID != "" {
		if s3.SecretAccessKey, err = p.Secret("Secret access key"); err != nil {
			return err
		}
	}
	return nil
}

func required(s string) error {
	if s == "" {
		return errors.New("a value is required")
	}
	return nil
}

func validateBlockSize(s string) error {
	b, err := bytesize.ParseByteSize(s)
	if err != nil {
		return err
	}
	if b < 512 || b&(b-1) != 0 {
		return fmt.Errorf("block size must be a power of two of at least 512 bytes")
	}
	return nil
}

func validateCaps(s string) error {
	_, err := caps.Parse(s)
	return err
}
