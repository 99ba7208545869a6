package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "STUDYAID"
	defaultHTTPAddress      = "127.0.0.1:8080"
	defaultDatabasePath     = "studyaid.db"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultTokenTTLMinutes  = 720
	defaultProgressWindow   = 5
	defaultProgressTimezone = "Local"
	defaultWriteAttempts    = 3
)

var defaultAllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

// AppConfig captures runtime configuration for the study-aid backend.
type AppConfig struct {
	HTTPAddress      string
	AllowedOrigins   []string
	SigningSecret    string
	TokenTTL         time.Duration
	DatabasePath     string
	LogLevel         string
	LogFormat        string
	ProgressWindow   int
	ProgressLocation *time.Location
	WriteAttempts    int
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
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("progress.window", defaultProgressWindow)
	configViper.SetDefault("progress.timezone", defaultProgressTimezone)
	configViper.SetDefault("storage.write_attempts", defaultWriteAttempts)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	timezone := strings.TrimSpace(configViper.GetString("progress.timezone"))
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("progress.timezone %q: %w", timezone, err)
	}

	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		AllowedOrigins:   configViper.GetStringSlice("http.allowed_origins"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		LogFormat:        configViper.GetString("log.format"),
		ProgressWindow:   configViper.GetInt("progress.window"),
		ProgressLocation: location,
		WriteAttempts:    configViper.GetInt("storage.write_attempts"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ValidateServer checks the settings only the HTTP server needs.
func (c AppConfig) ValidateServer() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("http.allowed_origins must list at least one origin")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.ProgressWindow <= 0 {
		return fmt.Errorf("progress.window must be positive")
	}
	if c.WriteAttempts <= 0 {
		return fmt.Errorf("storage.write_attempts must be positive")
	}
	return nil
}
