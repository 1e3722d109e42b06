package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration for invalid or inconsistent values.
// Struct-level rules come from the `validate` tags on the config types;
// cross-field rules are checked explicitly.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid config field %s: failed %q validation", e.Namespace(), e.Tag())
		}
		return err
	}

	// A ping round must be able to fire: the elapsed threshold has to be
	// reachable with the configured tick.
	if cfg.Liveness.MinElapsed < cfg.Liveness.Interval {
		return fmt.Errorf("liveness min_elapsed (%s) must be at least the tick interval (%s)",
			cfg.Liveness.MinElapsed, cfg.Liveness.Interval)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Listen.Port {
		return fmt.Errorf("metrics port %d collides with the listen port", cfg.Metrics.Port)
	}

	return nil
}
