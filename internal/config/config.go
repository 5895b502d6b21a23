package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "COOKBOOK"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "cookbook.db"
	defaultServerDatabasePath = "cookbook-remote.db"
	defaultLogLevel           = "info"
	defaultRemoteBaseURL      = "http://127.0.0.1:8080"
	defaultRemoteEnvironment  = "development"
	defaultRemoteTimeout      = 30 * time.Second
	defaultRemoteMaxAttempts  = 3
	defaultSyncThrottle       = 30 * time.Second
	defaultAuthIssuer         = "cookbook-auth"
	defaultAuthAudience       = "cookbook-sync"
	defaultTokenTTLMinutes    = 60
)

// AppConfig captures runtime configuration for the sync client and the reference server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	ServerDatabasePath string
	LogLevel           string

	RemoteBaseURL     string
	RemoteEnvironment string
	RemoteTimeout     time.Duration
	RemoteMaxAttempts int

	SyncThrottle        time.Duration
	SyncMaxPushAttempts int

	AuthSigningSecret string
	AuthIssuer        string
	AuthAudience      string
	AuthTokenTTL      time.Duration

	DeviceID  string
	UserID    string
	UserToken string
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
	configViper.SetDefault("server.database_path", defaultServerDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.environment", defaultRemoteEnvironment)
	configViper.SetDefault("remote.timeout", defaultRemoteTimeout)
	configViper.SetDefault("remote.max_attempts", defaultRemoteMaxAttempts)
	configViper.SetDefault("sync.throttle", defaultSyncThrottle)
	configViper.SetDefault("sync.max_push_attempts", 0)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("device.id", "")
	configViper.SetDefault("user.id", "")
	configViper.SetDefault("user.token", "")
	configViper.SetDefault("auth.signing_secret", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		ServerDatabasePath:  configViper.GetString("server.database_path"),
		LogLevel:            configViper.GetString("log.level"),
		RemoteBaseURL:       configViper.GetString("remote.base_url"),
		RemoteEnvironment:   configViper.GetString("remote.environment"),
		RemoteTimeout:       configViper.GetDuration("remote.timeout"),
		RemoteMaxAttempts:   configViper.GetInt("remote.max_attempts"),
		SyncThrottle:        configViper.GetDuration("sync.throttle"),
		SyncMaxPushAttempts: configViper.GetInt("sync.max_push_attempts"),
		AuthSigningSecret:   configViper.GetString("auth.signing_secret"),
		AuthIssuer:          configViper.GetString("auth.issuer"),
		AuthAudience:        configViper.GetString("auth.audience"),
		AuthTokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DeviceID:            configViper.GetString("device.id"),
		UserID:              configViper.GetString("user.id"),
		UserToken:           configViper.GetString("user.token"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.RemoteTimeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}
	if c.RemoteMaxAttempts < 1 {
		return fmt.Errorf("remote.max_attempts must be at least 1")
	}
	if c.SyncThrottle < 0 {
		return fmt.Errorf("sync.throttle must not be negative")
	}
	if c.SyncMaxPushAttempts < 0 {
		return fmt.Errorf("sync.max_push_attempts must not be negative")
	}
	return nil
}

// ValidateServer checks the settings the reference server needs.
func (c AppConfig) ValidateServer() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.ServerDatabasePath) == "" {
		return fmt.Errorf("server.database_path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	return nil
}

// ValidateSync checks the settings a sync client needs.
func (c AppConfig) ValidateSync() error {
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("user.id is required")
	}
	return nil
}
