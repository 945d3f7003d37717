package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/domus/domus.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "domus", "domus.yaml"))
	}

	paths = append(paths, "domus.yaml")

	if envPath := os.Getenv("DOMUS_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/domus/domus.yaml < ~/.config/domus/domus.yaml < ./domus.yaml < $DOMUS_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOME_ASSISTANT_URL"); v != "" {
		cfg.Hub.URL = v
	}
	if v := os.Getenv("HOME_ASSISTANT_USERNAME"); v != "" {
		cfg.Hub.Username = v
	}
	if v := os.Getenv("HOME_ASSISTANT_PASSWORD"); v != "" {
		cfg.Hub.Password = v
	}
	if v := os.Getenv("HOME_ASSISTANT_CACHE_DIR"); v != "" {
		cfg.Hub.CacheDir = v
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "0.0.0.0" {
		return fmt.Errorf("server.host must not be 0.0.0.0 — Domus must listen on localhost only (use a reverse proxy for external access)")
	}

	if cfg.Hub.URL == "" {
		return fmt.Errorf("hub.url is required")
	}
	u, err := url.Parse(cfg.Hub.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("hub.url must be an http(s) URL, got %q", cfg.Hub.URL)
	}

	if cfg.Hub.SubscribeWindow <= 0 {
		return fmt.Errorf("hub.subscribe_window must be positive")
	}

	if cfg.Control.MaxConcurrent < 1 {
		return fmt.Errorf("control.max_concurrent must be at least 1")
	}

	cfg.Hub.CacheDir = ExpandHome(cfg.Hub.CacheDir)
	cfg.Database.Path = ExpandHome(cfg.Database.Path)

	return nil
}
