package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Config is the minimal bootstrap configuration. Everything that can
// change at runtime lives in the settings collection instead.
type Config struct {
	Listen  string  `yaml:"listen"`
	Logger  Logger  `yaml:"logger"`
	Storage Storage `yaml:"storage"`
	Cache   Cache   `yaml:"cache"`
	Session Session `yaml:"session"`
	Shell   Shell   `yaml:"shell"`
	CORS    CORS    `yaml:"cors"`

	// RateLimitBypassKey lets automation skip the external rate limiter
	// by presenting it in a request header.
	RateLimitBypassKey string `yaml:"rate_limit_bypass_key"`
}

type Logger struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Storage struct {
	Database string `yaml:"database"`
}

type Cache struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Session struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

// Shell carries transport options for outbound shell-server calls.
type Shell struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CACert         string `yaml:"ca_cert"`
	InsecureTLS    bool   `yaml:"insecure_tls"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Session.ExpireHours == 0 {
		cfg.Session.ExpireHours = 72
	}
	if cfg.Shell.TimeoutSeconds == 0 {
		cfg.Shell.TimeoutSeconds = 10
	}

	return &cfg, nil
}
