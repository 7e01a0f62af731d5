package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/plevy/pkg/store/entry"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tags cover single fields; validateCustomRules covers rules that
// span fields or live inside backend option maps.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	a := cfg.Adapters
	if !a.FUSE.Enabled && !a.API.Enabled && !a.NFS.Enabled {
		return errors.New("adapters: at least one adapter must be enabled")
	}

	if a.FUSE.Enabled && a.FUSE.MountPoint == "" {
		return errors.New("adapters.fuse.mount_point: required when the FUSE adapter is enabled")
	}

	// Listening ports must not collide
	ports := map[int]string{}
	claim := func(name string, enabled bool, port int) error {
		if !enabled || port == 0 {
			return nil
		}
		if other, ok := ports[port]; ok {
			return fmt.Errorf("%s: port %d already used by %s", name, port, other)
		}
		ports[port] = name
		return nil
	}
	if err := claim("adapters.api", a.API.Enabled, a.API.Port); err != nil {
		return err
	}
	if err := claim("adapters.nfs", a.NFS.Enabled, a.NFS.Port); err != nil {
		return err
	}
	if err := claim("server.metrics", cfg.Server.Metrics.Enabled, cfg.Server.Metrics.Port); err != nil {
		return err
	}

	if err := validateFirstID(cfg.Entries); err != nil {
		return err
	}

	if cfg.Content.Type == "s3" {
		if bucket, _ := cfg.Content.S3["bucket"].(string); bucket == "" {
			return errors.New("content.s3.bucket: required when content type is s3")
		}
	}

	return nil
}

// validateFirstID rejects a configured first id inside the reserved range.
func validateFirstID(cfg EntriesConfig) error {
	options := cfg.Memory
	if cfg.Type == "badger" {
		options = cfg.Badger
	}

	var opts struct {
		FirstID uint64 `mapstructure:"first_id"`
	}
	if err := mapstructure.WeakDecode(options, &opts); err != nil {
		return fmt.Errorf("entries.%s: %w", cfg.Type, err)
	}
	if opts.FirstID == 0 {
		return nil
	}
	if err := entry.ValidateFirstID(entry.ID(opts.FirstID)); err != nil {
		return fmt.Errorf("entries.%s.first_id: %w", cfg.Type, err)
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
