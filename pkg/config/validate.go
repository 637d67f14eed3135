package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidatableConfig is implemented by every configuration section.
type ValidatableConfig interface {
	Validate() []error
}

// Validate collects the problems of all given sections, in order.
func Validate(cfgs ...ValidatableConfig) []error {
	var out []error

	for _, cfg := range cfgs {
		if cfg == nil {
			continue
		}
		out = append(out, cfg.Validate()...)
	}

	return out
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%d not in [1, 65535]", port)
	}

	return nil
}

func validatePositive(name string, n int) error {
	if n < 1 {
		return fmt.Errorf("%s must be positive, got %d", name, n)
	}
	return nil
}

func validatePositiveDuration(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

func validateOneOf(name, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		names := slices.DeleteFunc(slices.Clone(allowed), func(s string) bool { return s == "" })
		return fmt.Errorf("%s must be one of %s", name, strings.Join(names, ", "))
	}
	return nil
}
