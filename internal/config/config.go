// Package config содержит логику чтения конфигурации консоли онбординга.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress       = "localhost:8080"
	defaultHiveRPCURL       = "https://api.hive.blog"
	defaultTransferAmount   = "3.000"
	defaultTransferCurrency = "HIVE"
	defaultLogLevel         = "info"
)

// Config содержит параметры конфигурации консоли онбординга.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	BackendURL  string `env:"BACKEND_URL"`
	RegistryURL string `env:"REGISTRY_URL"`
	HiveRPCURL  string `env:"HIVE_RPC_URL"`
	SecretKey   string `env:"SECRET_KEY"`

	TransferTo       string `env:"TRANSFER_TO"`
	TransferAmount   string `env:"TRANSFER_AMOUNT"`
	TransferCurrency string `env:"TRANSFER_CURRENCY"`
	CommunityTag     string `env:"COMMUNITY_TAG"`

	LogLevel string `env:"LOG_LEVEL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BackendURL, "b", "", "onboarding backend base URL")
	flag.StringVar(&cfg.RegistryURL, "g", "", "membership registry base URL")
	flag.StringVar(&cfg.HiveRPCURL, "h", defaultHiveRPCURL, "hive RPC node URL")
	flag.StringVar(&cfg.SecretKey, "s", "", "secret key for operator cookies")
	flag.StringVar(&cfg.TransferTo, "to", "", "destination account for onboarding transfers")
	flag.StringVar(&cfg.TransferAmount, "amount", defaultTransferAmount, "onboarding transfer amount")
	flag.StringVar(&cfg.TransferCurrency, "currency", defaultTransferCurrency, "onboarding transfer currency")
	flag.StringVar(&cfg.CommunityTag, "community", "", "community tag for welcome comments")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")

	flag.Parse()

	override(&cfg.RunAddress, envCfg.RunAddress)
	override(&cfg.DatabaseURI, envCfg.DatabaseURI)
	override(&cfg.BackendURL, envCfg.BackendURL)
	override(&cfg.RegistryURL, envCfg.RegistryURL)
	override(&cfg.HiveRPCURL, envCfg.HiveRPCURL)
	override(&cfg.SecretKey, envCfg.SecretKey)
	override(&cfg.TransferTo, envCfg.TransferTo)
	override(&cfg.TransferAmount, envCfg.TransferAmount)
	override(&cfg.TransferCurrency, envCfg.TransferCurrency)
	override(&cfg.CommunityTag, envCfg.CommunityTag)
	override(&cfg.LogLevel, envCfg.LogLevel)

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}

func (c *Config) validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend URL is required")
	}
	if c.RegistryURL == "" {
		return fmt.Errorf("registry URL is required")
	}
	if c.TransferTo == "" {
		return fmt.Errorf("transfer destination is required")
	}
	return nil
}
