package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	switch cfg.Store.Type {
	case "badger":
		if cfg.Store.Badger.Path == "" && !cfg.Store.Badger.InMemory {
			return fmt.Errorf("store.badger.path is required unless store.badger.in_memory is set")
		}
	case "s3":
		if cfg.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for the s3 store")
		}
		if (cfg.Store.S3.AccessKeyID == "") != (cfg.Store.S3.SecretAccessKey == "") {
			return fmt.Errorf("store.s3.access_key_id and store.s3.secret_access_key must be set together")
		}
	}

	if cfg.Cache.BlockSize&(cfg.Cache.BlockSize-1) != 0 {
		return fmt.Errorf("cache.block_size must be a power of two, got %d", cfg.Cache.BlockSize)
	}
	return nil
}

// formatValidationErrors renders one line per failed field, keeping the tag
// so callers can tell required from oneof failures.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	lines := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			lines = append(lines, fmt.Sprintf("%s: failed %s=%s (value %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			lines = append(lines, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(lines, "; "))
}
