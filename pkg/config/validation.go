package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a Config against its struct validation tags and a handful
// of cross-field rules that validator tags can't express (queue backend
// requiring an address, listener names being unique).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Queue.Backend == "grpc" && cfg.Queue.Address == "" {
		return fmt.Errorf("queue.address is required when queue.backend is \"grpc\"")
	}

	seen := make(map[string]struct{}, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		if _, dup := seen[l.Name]; dup {
			return fmt.Errorf("duplicate listener name %q", l.Name)
		}
		seen[l.Name] = struct{}{}
	}

	return nil
}
