package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment variables overriding
// library settings, e.g. SSLKIT_IO_CEILING=30s.
const DefaultEnvPrefix = "SSLKIT_"

// Load returns the library configuration built from the defaults, the YAML
// file at path (skipped if empty) and environment variables starting with
// prefix, in increasing priority.
func Load(path, prefix string) (*Library, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	if prefix != "" {
		// SSLKIT_SESSION_IDLE_TIMEOUT -> session_idle_timeout
		transform := func(s string) string {
			return strings.ToLower(strings.TrimPrefix(s, prefix))
		}
		if err := k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
			return nil, fmt.Errorf("load env: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
