package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env"
)

type Config struct {
	ServerAddr        string        `env:"RUN_ADDRESS"`
	LogLevel          string        `env:"LOG_LEVEL"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	TaxServiceURI     string        `env:"TAX_SERVICE_ADDRESS"`
	GatewayURI        string        `env:"TRANSFER_GATEWAY_ADDRESS"`
	GatewayAPIKey     string        `env:"TRANSFER_GATEWAY_API_KEY"`
	GatewayTimeout    time.Duration `env:"TRANSFER_GATEWAY_TIMEOUT"`
	VerificationURI   string        `env:"VERIFICATION_SERVICE_ADDRESS"`
	NotificationURI   string        `env:"NOTIFICATION_SERVICE_ADDRESS"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL"`
	ReconcileGrace    time.Duration `env:"RECONCILE_GRACE"`
	JWTSecretKey      string        `env:"JWT_SECRET_KEY"`
}

func NewConfig() (Config, error) {
	cfg := Config{}

	flag.StringVar(&cfg.ServerAddr, "a", "0.0.0.0:8080", "server listening address [env:RUN_ADDRESS]")
	flag.StringVar(&cfg.LogLevel, "l", "info", "log output level [env:LOG_LEVEL]")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database connection string [env:DATABASE_URI]")
	flag.StringVar(&cfg.TaxServiceURI, "t", "http://localhost:8081", "tax calculation service URI [env:TAX_SERVICE_ADDRESS]")
	flag.StringVar(&cfg.GatewayURI, "g", "http://localhost:8082", "bank transfer gateway URI [env:TRANSFER_GATEWAY_ADDRESS]")
	flag.StringVar(&cfg.GatewayAPIKey, "k", "", "bank transfer gateway API key [env:TRANSFER_GATEWAY_API_KEY]")
	flag.DurationVar(&cfg.GatewayTimeout, "gt", 10*time.Second, "bank transfer gateway call timeout [env:TRANSFER_GATEWAY_TIMEOUT]")
	flag.StringVar(&cfg.VerificationURI, "v", "http://localhost:8083", "identity verification service URI [env:VERIFICATION_SERVICE_ADDRESS]")
	flag.StringVar(&cfg.NotificationURI, "n", "", "notification dispatch service URI [env:NOTIFICATION_SERVICE_ADDRESS]")
	flag.DurationVar(&cfg.ReconcileInterval, "i", 1*time.Minute, "processing requests reconcile interval [env:RECONCILE_INTERVAL]")
	flag.DurationVar(&cfg.ReconcileGrace, "w", 5*time.Minute, "grace period before reconciling a processing request [env:RECONCILE_GRACE]")
	flag.StringVar(&cfg.JWTSecretKey, "s", "secretkey", "JWT secret to verify admin tokens [env:JWT_SECRET_KEY]")
	flag.Parse()

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("env.Parse: %w", err)
	}

	return cfg, nil
}
