package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SKATEHUBBA"

	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DriverSQLite
	defaultDatabaseDSN     = "skatehubba.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "skate_session"
	defaultTurnTimeout     = 120 * time.Second
	defaultVoteWindow      = 60 * time.Second
	defaultDisconnectGrace = 120 * time.Second
	defaultSweepInterval   = 15 * time.Second
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabaseDriver    string
	DatabaseDSN       string
	LogLevel          string
	SigningSecret     string
	SessionCookieName string
	TurnTimeout       time.Duration
	VoteWindow        time.Duration
	DisconnectGrace   time.Duration
	SweepInterval     time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("game.turn_timeout", defaultTurnTimeout)
	configViper.SetDefault("game.vote_window", defaultVoteWindow)
	configViper.SetDefault("game.disconnect_grace", defaultDisconnectGrace)
	configViper.SetDefault("game.sweep_interval", defaultSweepInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		SessionCookieName: configViper.GetString("auth.cookie_name"),
		TurnTimeout:       configViper.GetDuration("game.turn_timeout"),
		VoteWindow:        configViper.GetDuration("game.vote_window"),
		DisconnectGrace:   configViper.GetDuration("game.disconnect_grace"),
		SweepInterval:     configViper.GetDuration("game.sweep_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.DatabaseDriver != DriverSQLite && c.DatabaseDriver != DriverPostgres {
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TurnTimeout <= 0 || c.VoteWindow <= 0 || c.DisconnectGrace <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("game timing values must be positive")
	}
	return nil
}
