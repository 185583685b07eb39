package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration for invalid values. It is called by
// Load after defaults are applied, so a validation failure always means the
// user supplied a bad value rather than an omitted one.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid value for %s (%s)", errs[0].Namespace(), errs[0].Tag())
		}
		return err
	}

	if cfg.Stream.Adaptive && cfg.Stream.PauseDuration <= 0 {
		return fmt.Errorf("stream.pause_duration must be positive when the adaptive throttle is enabled")
	}

	return nil
}
