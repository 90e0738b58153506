package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

type AuthConfig struct {
	AccessSecret string
}

type ContractsConfig struct {
	FeeAmount     float64
	Currency      string
	DisputeWindow time.Duration
}

type CollaboratorsConfig struct {
	PaymentsURL string
	NotifyURL   string
}

type Config struct {
	Environment   string
	HTTP          HTTPConfig
	DB            DBConfig
	Auth          AuthConfig
	Contracts     ContractsConfig
	Collaborators CollaboratorsConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetString("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Contracts: ContractsConfig{
			FeeAmount:     v.GetFloat64("CONTRACTS_FEE_AMOUNT"),
			Currency:      v.GetString("CONTRACTS_CURRENCY"),
			DisputeWindow: v.GetDuration("DISPUTE_WINDOW"),
		},
		Collaborators: CollaboratorsConfig{
			PaymentsURL: v.GetString("PAYMENTS_WEBHOOK_URL"),
			NotifyURL:   v.GetString("NOTIFY_WEBHOOK_URL"),
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7090
	}
	if cfg.Contracts.FeeAmount == 0 {
		cfg.Contracts.FeeAmount = 200
	}
	if cfg.Contracts.Currency == "" {
		cfg.Contracts.Currency = "KES"
	}
	if cfg.Contracts.DisputeWindow == 0 {
		cfg.Contracts.DisputeWindow = 24 * time.Hour
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Contracts.FeeAmount < 0 {
		return fmt.Errorf("CONTRACTS_FEE_AMOUNT must not be negative")
	}
	return nil
}
