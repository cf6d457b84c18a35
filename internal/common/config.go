package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	BlobAuthEnterprise        = "enterprise"
	BlobAuthClientCredentials = "client_credentials"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Blob    BlobConfig    `toml:"blob"`
	Auth    AuthConfig    `toml:"auth"`
	Board   BoardConfig   `toml:"board"`
	CORS    CORSConfig    `toml:"cors"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Name             string `toml:"name"`
	Environment      string `toml:"environment"`
	Port             int    `toml:"port"`
	PublicURL        string `toml:"public_url"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
	MaxUploadMB      int    `toml:"max_upload_mb"`
}

type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
	OpenTimeout  int    `toml:"open_timeout_seconds"`
}

// BlobConfig selects the blob-storage backend and one of two authentication
// strategies. Auth must be "enterprise" (static long-lived keys) or
// "client_credentials" (short-lived tokens from TokenURL).
type BlobConfig struct {
	Endpoint          string `toml:"endpoint"`
	Bucket            string `toml:"bucket"`
	Region            string `toml:"region"`
	UseSSL            bool   `toml:"use_ssl"`
	RootFolder        string `toml:"root_folder"`
	Auth              string `toml:"auth"`
	AccessKey         string `toml:"access_key"`
	SecretKey         string `toml:"secret_key"`
	TokenURL          string `toml:"token_url"`
	ClientID          string `toml:"client_id"`
	ClientSecret      string `toml:"client_secret"`
	STSEndpoint       string `toml:"sts_endpoint"`
	LinkExpiryHours   int    `toml:"link_expiry_hours"`
	ThumbnailAttempts int    `toml:"thumbnail_attempts"`
	ThumbnailDelayMs  int    `toml:"thumbnail_delay_ms"`
}

type AuthConfig struct {
	Enabled        bool     `toml:"enabled"`
	Secret         string   `toml:"secret"`
	Issuer         string   `toml:"issuer"`
	CookieName     string   `toml:"cookie_name"`
	AllowedDomains []string `toml:"allowed_domains"`
	DevUser        string   `toml:"dev_user"`
}

type BoardConfig struct {
	WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
}

func DefaultConfig() *Config {
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	execName := filepath.Base(execPath)
	execName = execName[:len(execName)-len(filepath.Ext(execName))]

	defaultDBPath := filepath.Join(execDir, "data", execName+".db")

	return &Config{
		Server: ServerConfig{
			Name:             execName,
			Environment:      "development",
			Port:             8080,
			HeartbeatSeconds: 30,
			MaxUploadMB:      100,
		},
		Storage: StorageConfig{
			DatabasePath: defaultDBPath,
			OpenTimeout:  1,
		},
		Blob: BlobConfig{
			Endpoint:          "localhost:9000",
			Bucket:            "studio-board",
			RootFolder:        "studio-board",
			Auth:              BlobAuthEnterprise,
			LinkExpiryHours:   24 * 7,
			ThumbnailAttempts: 5,
			ThumbnailDelayMs:  500,
		},
		Auth: AuthConfig{
			Enabled:    false,
			CookieName: "studio_session",
			DevUser:    "dev@localhost",
		},
		Board: BoardConfig{
			WriteTimeoutSeconds: 10,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			MaxSize:    100,
			MaxBackups: 3,
		},
	}
}

func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile == "" {
		// Auto-detect config file
		execPath, _ := os.Executable()
		execDir := filepath.Dir(execPath)
		execName := filepath.Base(execPath)
		execName = execName[:len(execName)-len(filepath.Ext(execName))]

		possiblePaths := []string{
			filepath.Join(execDir, execName+".toml"),
			filepath.Join(execDir, "config.toml"),
			"config.toml",
		}

		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		config.Storage.DatabasePath = dbPath
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if portNum, err := strconv.Atoi(port); err == nil {
			config.Server.Port = portNum
		}
	}
	if publicURL := os.Getenv("PUBLIC_URL"); publicURL != "" {
		config.Server.PublicURL = publicURL
	}

	if endpoint := os.Getenv("BLOB_ENDPOINT"); endpoint != "" {
		config.Blob.Endpoint = endpoint
	}
	if bucket := os.Getenv("BLOB_BUCKET"); bucket != "" {
		config.Blob.Bucket = bucket
	}
	if auth := os.Getenv("BLOB_AUTH"); auth != "" {
		config.Blob.Auth = auth
	}
	if accessKey := os.Getenv("BLOB_ACCESS_KEY"); accessKey != "" {
		config.Blob.AccessKey = accessKey
	}
	if secretKey := os.Getenv("BLOB_SECRET_KEY"); secretKey != "" {
		config.Blob.SecretKey = secretKey
	}
	if clientID := os.Getenv("BLOB_CLIENT_ID"); clientID != "" {
		config.Blob.ClientID = clientID
	}
	if clientSecret := os.Getenv("BLOB_CLIENT_SECRET"); clientSecret != "" {
		config.Blob.ClientSecret = clientSecret
	}
	if ssl := os.Getenv("BLOB_USE_SSL"); ssl != "" {
		if val, err := strconv.ParseBool(ssl); err == nil {
			config.Blob.UseSSL = val
		}
	}

	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		config.Auth.Secret = secret
	}
	if enabled := os.Getenv("AUTH_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			config.Auth.Enabled = val
		}
	}
	if domains := os.Getenv("AUTH_ALLOWED_DOMAINS"); domains != "" {
		config.Auth.AllowedDomains = splitList(domains)
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.CORS.AllowedOrigins = splitList(origins)
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		config.Logging.Format = logFormat
	}
	if logOutput := os.Getenv("LOG_OUTPUT"); logOutput != "" {
		config.Logging.Output = logOutput
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database_path is required")
	}

	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.HeartbeatSeconds <= 0 {
		c.Server.HeartbeatSeconds = 30
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 100
	}
	if c.Storage.OpenTimeout <= 0 {
		c.Storage.OpenTimeout = 1
	}
	if c.Board.WriteTimeoutSeconds <= 0 {
		c.Board.WriteTimeoutSeconds = 10
	}

	switch c.Blob.Auth {
	case BlobAuthEnterprise:
		if c.Blob.Endpoint != "" && (c.Blob.AccessKey == "") != (c.Blob.SecretKey == "") {
			return fmt.Errorf("blob access_key and secret_key must be set together")
		}
	case BlobAuthClientCredentials:
		if c.Blob.TokenURL == "" || c.Blob.ClientID == "" || c.Blob.ClientSecret == "" {
			return fmt.Errorf("blob client_credentials auth requires token_url, client_id and client_secret")
		}
	default:
		return fmt.Errorf("invalid blob auth strategy: %s", c.Blob.Auth)
	}
	if c.Blob.ThumbnailAttempts <= 0 {
		c.Blob.ThumbnailAttempts = 5
	}
	if c.Blob.ThumbnailDelayMs <= 0 {
		c.Blob.ThumbnailDelayMs = 500
	}
	if c.Blob.LinkExpiryHours <= 0 {
		c.Blob.LinkExpiryHours = 24 * 7
	}

	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required when auth is enabled")
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	validLevel := false
	for _, level := range validLogLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validOutputs := []string{"console", "file", "both"}
	validOutput := false
	for _, output := range validOutputs {
		if c.Logging.Output == output {
			validOutput = true
			break
		}
	}
	if !validOutput {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

// BlobConfigured reports whether a blob-storage endpoint has usable credentials.
func (c *Config) BlobConfigured() bool {
	if c.Blob.Endpoint == "" || c.Blob.Bucket == "" {
		return false
	}
	if c.Blob.Auth == BlobAuthClientCredentials {
		return true
	}
	return c.Blob.AccessKey != "" && c.Blob.SecretKey != ""
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
