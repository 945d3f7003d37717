package config

import "time"

// Config is the root configuration for Domus.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Hub      HubConfig      `yaml:"hub"`
	Database DatabaseConfig `yaml:"database"`
	Control  ControlConfig  `yaml:"control"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// HubConfig describes the Home Assistant instance Domus fronts.
// Username and password carry no defaults: they are only consulted on a
// first run, before any token is cached, and must come from the config
// file or the HOME_ASSISTANT_* environment variables.
type HubConfig struct {
	URL             string        `yaml:"url"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	CacheDir        string        `yaml:"cache_dir"`
	SubscribeWindow time.Duration `yaml:"subscribe_window"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type ControlConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8422,
			LogLevel: "info",
		},
		Hub: HubConfig{
			URL:             "http://127.0.0.1:8123",
			CacheDir:        "~/.cache/domus",
			SubscribeWindow: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:          "~/.config/domus/domus.db",
			RetentionDays: 90,
		},
		Control: ControlConfig{
			MaxConcurrent: 4,
		},
	}
}
