package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "STUDYTRACK"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "studytrack.db"
	defaultLogLevel     = "info"
	defaultIssuer       = "studytrack-auth"
	defaultAudience     = "studytrack-api"
	defaultTokenTTL     = 30 * time.Minute
	defaultBaseURL      = "http://localhost:8080"
	defaultTimeout      = 10 * time.Second
	defaultFetchTimeout = 15 * time.Second
)

var logLevels = []interface{}{"debug", "info", "warn", "warning", "error"}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	AllowedOrigins []string
	Auth           AuthConfig
}

// AuthConfig configures access token issuance and validation.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
}

// ClientConfig captures runtime configuration for the sync client.
type ClientConfig struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	LiveUpdates       bool
	LogLevel          string
	Cache             CacheConfig
}

// CacheConfig tunes the client cache. Zero durations disable the corresponding behavior.
type CacheConfig struct {
	RevalidateInterval time.Duration
	Retention          time.Duration
	FetchTimeout       time.Duration
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)

	configViper.SetDefault("client.base_url", defaultBaseURL)
	configViper.SetDefault("client.timeout", defaultTimeout)
	configViper.SetDefault("client.requests_per_second", 0)
	configViper.SetDefault("client.live_updates", false)
	configViper.SetDefault("cache.revalidate_interval", time.Duration(0))
	configViper.SetDefault("cache.retention", time.Duration(0))
	configViper.SetDefault("cache.fetch_timeout", defaultFetchTimeout)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		AllowedOrigins: splitList(configViper.GetStringSlice("http.allowed_origins")),
		Auth:           loadAuth(configViper),
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadAuth parses only the token settings, for tools that mint tokens without serving.
func LoadAuth(configViper *viper.Viper) (AuthConfig, error) {
	cfg := loadAuth(configViper)
	if err := cfg.Validate(); err != nil {
		return AuthConfig{}, err
	}
	return cfg, nil
}

// LoadClient parses sync client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:           strings.TrimRight(strings.TrimSpace(configViper.GetString("client.base_url")), "/"),
		Token:             strings.TrimSpace(configViper.GetString("client.token")),
		Timeout:           configViper.GetDuration("client.timeout"),
		RequestsPerSecond: configViper.GetFloat64("client.requests_per_second"),
		LiveUpdates:       configViper.GetBool("client.live_updates"),
		LogLevel:          strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		Cache: CacheConfig{
			RevalidateInterval: configViper.GetDuration("cache.revalidate_interval"),
			Retention:          configViper.GetDuration("cache.retention"),
			FetchTimeout:       configViper.GetDuration("cache.fetch_timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func loadAuth(configViper *viper.Viper) AuthConfig {
	return AuthConfig{
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        strings.TrimSpace(configViper.GetString("auth.issuer")),
		Audience:      strings.TrimSpace(configViper.GetString("auth.audience")),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),
	}
}

// Validate validates the server configuration.
func (c *AppConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.HTTPAddress, validation.Required),
		validation.Field(&c.DatabasePath, validation.Required),
		validation.Field(&c.LogLevel, validation.In(logLevels...)),
	); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// Validate validates the token settings.
func (c *AuthConfig) Validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Issuer, validation.Required),
		validation.Field(&c.Audience, validation.Required),
		validation.Field(&c.TokenTTL, validation.Required, validation.Min(time.Second)),
	)
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.LogLevel, validation.In(logLevels...)),
	); err != nil {
		return err
	}
	return c.Cache.Validate()
}

// Validate validates the cache tuning.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RevalidateInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.Retention, validation.Min(time.Duration(0))),
		validation.Field(&c.FetchTimeout, validation.Min(time.Duration(0))),
	)
}

func absoluteURL(value interface{}) error {
	raw, _ := value.(string)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
