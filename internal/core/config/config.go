package config

import (
	"github.com/vietddude/resilience/internal/core/domain"
	redisclient "github.com/vietddude/resilience/internal/infra/redis"
	"github.com/vietddude/resilience/internal/infra/storage/postgres"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
	Breaker     breaker.Config     `yaml:"breaker"`
	Recovery    recovery.Config    `yaml:"recovery"`
	Degradation DegradationConfig  `yaml:"degradation"`
}

// DegradationConfig optionally overrides the built-in degradation rules.
// An empty rule list keeps the shipped defaults.
type DegradationConfig struct {
	Rules []domain.DegradationRule `yaml:"rules"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
