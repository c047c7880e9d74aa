// Package config loads server configuration from a YAML file with ${ENV}
// interpolation. Missing file falls back to defaults; flags in cmd/server
// override port and database path.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	CheckIn struct {
		CooldownSeconds      int     `yaml:"cooldown_seconds"`
		DefaultRadiusMeters  float64 `yaml:"default_radius_meters"`
		MaxReadingAgeSeconds int     `yaml:"max_reading_age_seconds"`
		LateThresholdHour    int     `yaml:"late_threshold_hour"`
		LateThresholdMinute  int     `yaml:"late_threshold_minute"`
	} `yaml:"checkin"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Database.Path = "presence.db"
	cfg.CheckIn.CooldownSeconds = 30
	cfg.CheckIn.DefaultRadiusMeters = 100
	cfg.CheckIn.MaxReadingAgeSeconds = 10
	cfg.CheckIn.LateThresholdHour = 9
	return cfg
}

// Load reads the config file at path. Environment variables referenced as
// ${NAME} in the file are substituted before parsing. A missing file is not
// an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}

	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}
