package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "TWME"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "twme.db"
	defaultLogLevel          = "info"
	defaultPaddleEnvironment = "sandbox"
)

// AppConfig captures runtime configuration for the API server. The payment,
// webhook, and admin secrets are optional: leaving one unset disables that
// capability instead of failing startup.
type AppConfig struct {
	HTTPAddress         string
	SigningSecret       string
	DatabasePath        string
	RedisURL            string
	AdminSecret         string
	PaddleAPIKey        string
	PaddleEnvironment   string
	PaddleWebhookSecret string
	LogLevel            string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("paddle.environment", defaultPaddleEnvironment)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		DatabasePath:        configViper.GetString("database.path"),
		RedisURL:            configViper.GetString("redis.url"),
		AdminSecret:         configViper.GetString("admin.secret"),
		PaddleAPIKey:        configViper.GetString("paddle.api_key"),
		PaddleEnvironment:   configViper.GetString("paddle.environment"),
		PaddleWebhookSecret: configViper.GetString("paddle.webhook_secret"),
		LogLevel:            configViper.GetString("log.level"),
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
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
