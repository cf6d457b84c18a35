package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studio-board.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
environment = "production"

[storage]
database_path = "/tmp/board.db"

[blob]
endpoint = "blob.internal:9000"
bucket = "assets"
auth = "enterprise"
access_key = "ak"
secret_key = "sk"

[auth]
enabled = true
secret = "s3cret"
allowed_domains = ["studio.example"]

[logging]
level = "debug"
output = "console"
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", config.Server.Port)
	}
	if !config.IsProduction() {
		t.Errorf("IsProduction() = false, want true")
	}
	if config.Storage.DatabasePath != "/tmp/board.db" {
		t.Errorf("Storage.DatabasePath = %q, want %q", config.Storage.DatabasePath, "/tmp/board.db")
	}
	if !config.BlobConfigured() {
		t.Errorf("BlobConfigured() = false, want true")
	}
	if len(config.Auth.AllowedDomains) != 1 || config.Auth.AllowedDomains[0] != "studio.example" {
		t.Errorf("Auth.AllowedDomains = %v, want [studio.example]", config.Auth.AllowedDomains)
	}
	// untouched sections keep their defaults
	if config.Blob.ThumbnailAttempts != 5 {
		t.Errorf("Blob.ThumbnailAttempts = %d, want 5", config.Blob.ThumbnailAttempts)
	}
	if config.Board.WriteTimeoutSeconds != 10 {
		t.Errorf("Board.WriteTimeoutSeconds = %d, want 10", config.Board.WriteTimeoutSeconds)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[logging]
output = "console"
`)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("AUTH_ALLOWED_DOMAINS", "a.example, b.example ,")
	t.Setenv("LOG_LEVEL", "warn")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", config.Server.Port)
	}
	if got := strings.Join(config.Auth.AllowedDomains, "|"); got != "a.example|b.example" {
		t.Errorf("Auth.AllowedDomains = %q, want %q", got, "a.example|b.example")
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", config.Logging.Level, "warn")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Storage.DatabasePath = "" },
			wantErr: "database_path",
		},
		{
			name:    "unknown blob auth",
			mutate:  func(c *Config) { c.Blob.Auth = "magic" },
			wantErr: "invalid blob auth",
		},
		{
			name: "client credentials without token url",
			mutate: func(c *Config) {
				c.Blob.Auth = BlobAuthClientCredentials
				c.Blob.ClientID = "id"
				c.Blob.ClientSecret = "secret"
			},
			wantErr: "token_url",
		},
		{
			name: "half static credentials",
			mutate: func(c *Config) {
				c.Blob.AccessKey = "ak"
			},
			wantErr: "set together",
		},
		{
			name:    "auth without secret",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "auth secret",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillsZeroValues(t *testing.T) {
	config := DefaultConfig()
	config.Server.Port = 0
	config.Blob.ThumbnailAttempts = 0
	config.Board.WriteTimeoutSeconds = -1

	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if config.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", config.Server.Port)
	}
	if config.Blob.ThumbnailAttempts != 5 {
		t.Errorf("Blob.ThumbnailAttempts = %d, want 5", config.Blob.ThumbnailAttempts)
	}
	if config.Board.WriteTimeoutSeconds != 10 {
		t.Errorf("Board.WriteTimeoutSeconds = %d, want 10", config.Board.WriteTimeoutSeconds)
	}
}
