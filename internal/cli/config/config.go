package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const ConfigFileName = "stashd.json"

// Endpoint represents a stashd auth API endpoint
type Endpoint struct {
	URL   string `json:"url"`
	Alias string `json:"alias"`
}

// Config represents the CLI configuration file
type Config struct {
	Endpoints []Endpoint `json:"endpoints"`
}

// DefaultConfig returns a default configuration with an example endpoint
func DefaultConfig() *Config {
	return &Config{
		Endpoints: []Endpoint{
			{
				URL:   "http://localhost:8080",
				Alias: "local",
			},
		},
	}
}

// FindConfigFile searches for stashd.json in the current directory and parents
func FindConfigFile() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	dir := currentDir
	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("stashd.json not found in %s or any parent directory", currentDir)
}

// Load reads the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadFromCurrentDir loads config from the current directory or its parents
func LoadFromCurrentDir() (*Config, error) {
	configPath, err := FindConfigFile()
	if err != nil {
		return nil, err
	}

	return Load(configPath)
}

// Save writes the configuration to a file
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEndpointByAlias returns an endpoint by its alias
func (c *Config) GetEndpointByAlias(alias string) (*Endpoint, error) {
	for i := range c.Endpoints {
		if c.Endpoints[i].Alias == alias {
			return &c.Endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("endpoint with alias '%s' not found", alias)
}

// GetDefaultEndpoint returns the first endpoint in the list
func (c *Config) GetDefaultEndpoint() (*Endpoint, error) {
	if len(c.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured in stashd.json")
	}
	return &c.Endpoints[0], nil
}
