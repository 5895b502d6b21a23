package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath)
	}
	if cfg.SyncThrottle != 30*time.Second {
		t.Fatalf("unexpected throttle: %s", cfg.SyncThrottle)
	}
	if cfg.RemoteMaxAttempts != defaultRemoteMaxAttempts {
		t.Fatalf("unexpected max attempts: %d", cfg.RemoteMaxAttempts)
	}
	if cfg.AuthTokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl: %s", cfg.AuthTokenTTL)
	}
	if cfg.SyncMaxPushAttempts != 0 {
		t.Fatalf("expected quarantine to be disabled by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("COOKBOOK_REMOTE_BASE_URL", "https://sync.example.com")
	t.Setenv("COOKBOOK_SYNC_THROTTLE", "5s")
	t.Setenv("COOKBOOK_USER_ID", "user-1")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RemoteBaseURL != "https://sync.example.com" {
		t.Fatalf("unexpected base url: %q", cfg.RemoteBaseURL)
	}
	if cfg.SyncThrottle != 5*time.Second {
		t.Fatalf("unexpected throttle: %s", cfg.SyncThrottle)
	}
	if err := cfg.ValidateSync(); err != nil {
		t.Fatalf("unexpected sync validation error: %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	configViper := NewViper()
	configViper.Set("remote.max_attempts", 0)
	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "remote.max_attempts") {
		t.Fatalf("expected max attempts error, got %v", err)
	}

	configViper = NewViper()
	configViper.Set("database.path", " ")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected database path error")
	}
}

func TestValidateServerRequiresSigningSecret(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.ValidateServer(); err == nil || !strings.Contains(err.Error(), "auth.signing_secret") {
		t.Fatalf("expected signing secret error, got %v", err)
	}
	cfg.AuthSigningSecret = "secret"
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSyncRequiresUser(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.ValidateSync(); err == nil || !strings.Contains(err.Error(), "user.id") {
		t.Fatalf("expected user id error, got %v", err)
	}
}
