// Package config contains the configuration loading for the feiramais core.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration parameters.
type Config struct {
	RunAddress          string `env:"RUN_ADDRESS"`
	DatabaseURI         string `env:"DATABASE_URI"`
	CatalogAddress      string `env:"CATALOG_ADDRESS"`
	AuthSecret          string `env:"AUTH_SECRET"`
	ShippingFeeCents    int64  `env:"SHIPPING_FEE_CENTS"`
	ReferralBonusPoints int64  `env:"REFERRAL_BONUS_POINTS"`
	ReferralWorkerSecs  int    `env:"REFERRAL_WORKER_SECONDS"`
}

// Parse reads the configuration from command line flags and environment
// variables. Environment variables win over flags.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envCatalogAddress := cfg.CatalogAddress
	envAuthSecret := cfg.AuthSecret
	envShippingFee := cfg.ShippingFeeCents
	envReferralBonus := cfg.ReferralBonusPoints
	envWorkerSecs := cfg.ReferralWorkerSecs

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.CatalogAddress, "c", "", "product catalog address")
	flag.StringVar(&cfg.AuthSecret, "s", "feiramais-secret", "auth cookie signing secret")
	flag.Int64Var(&cfg.ShippingFeeCents, "f", 1000, "shipping fee per store in cents")
	flag.Int64Var(&cfg.ReferralBonusPoints, "b", 20, "referral bonus points per side")
	flag.IntVar(&cfg.ReferralWorkerSecs, "w", 10, "referral approval worker interval in seconds")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envCatalogAddress != "" {
		cfg.CatalogAddress = envCatalogAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envShippingFee != 0 {
		cfg.ShippingFeeCents = envShippingFee
	}
	if envReferralBonus != 0 {
		cfg.ReferralBonusPoints = envReferralBonus
	}
	if envWorkerSecs != 0 {
		cfg.ReferralWorkerSecs = envWorkerSecs
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
