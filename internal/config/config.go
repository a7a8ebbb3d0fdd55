// Package config loads the gateway's YAML configuration. The config is read
// once at startup and injected into handlers as an immutable value.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// ProtectedAccess gates both gateway operations behind the access key set.
	ProtectedAccess bool `yaml:"PROTECTED_ACCESS"`
}

func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed parsing config %s: %w", path, err)
	}
	return cfg, nil
}
