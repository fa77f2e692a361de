package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the config file looked up inside the working directory.
const ConfigFileName = "devloop.yaml"

// Load reads the config file from workDir, applying defaults for anything
// unset. A missing config file is not an error; defaults are returned and
// written back so the user has a file to edit.
func Load(workDir string) (*Config, error) {
	cfg := Default(workDir)
	path := filepath.Join(workDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := Save(cfg, workDir); writeErr != nil {
				// Not fatal; run with defaults anyway.
				return cfg, nil //nolint:nilerr // Write-back is best-effort
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// A config file may override work_dir; keep the path fields anchored.
	if cfg.Paths.WorkDir == "" {
		cfg.Paths.WorkDir = workDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the config as YAML into workDir.
func Save(cfg *Config, workDir string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(workDir, ConfigFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Resolve returns an absolute path for a possibly-relative configured path,
// anchored at the working directory.
func (c *Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.WorkDir, path)
}
