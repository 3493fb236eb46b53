package config

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/pds/internal/logging"
	"github.com/spf13/viper"
)

const (
	envPrefix             = "PDS"
	defaultHTTPAddress    = "127.0.0.1:3000"
	defaultDatabasePath   = "pds.db"
	defaultLogLevel       = "info"
	defaultAuthIssuer     = "pds"
	defaultAllowedOrigins = "*"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	AuthSigningSecret string
	AuthIssuer        string
	AllowedOrigins    []string
}

// AuthEnabled reports whether requests must carry a bearer token.
func (c AppConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.AuthSigningSecret) != ""
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
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AllowedOrigins:    splitOrigins(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.AuthEnabled() && strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required when auth.signing_secret is set")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins is required")
	}
	return nil
}

func splitOrigins(rawInput string) []string {
	var origins []string
	for _, origin := range strings.Split(rawInput, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
