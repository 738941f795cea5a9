package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file at path and decodes it into a Config,
// applying per-backend defaults. This is the only file-touching code
// in the package; everything else in this module operates on the
// resulting in-memory Config, per spec §6 ("Ingestion/parsing is
// handled by external collaborators" — this loader is the minimal
// external collaborator needed to run cmd/gateway).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	for i := range cfg.Backends {
		cfg.Backends[i] = cfg.Backends[i].WithDefaults()
		if cfg.Backends[i].WorkingDir == "" {
			cfg.Backends[i].WorkingDir = cfg.WorkingDir
		}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "mcpgateway"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return &cfg, nil
}
