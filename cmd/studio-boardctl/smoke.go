package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"studio-board/internal/common"
	"studio-board/internal/handlers"
	"studio-board/internal/middleware"
	"studio-board/internal/services"
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Check a running server and the blob storage backend",
	Long: `Check that a running server answers its health endpoint and, when auth is
enabled, accepts a session token minted from the configured secret. With
blob storage configured the backend is pinged directly as well.`,
	Args: cobra.NoArgs,
	RunE: runSmoke,
}

var (
	smokeURL     string
	smokeEmail   string
	smokeTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(smokeCmd)
	smokeCmd.Flags().StringVar(&smokeURL, "url", "", "Server base URL (default http://localhost:<port>)")
	smokeCmd.Flags().StringVar(&smokeEmail, "email", "", "Email to mint the session token for (default: first allowed domain)")
	smokeCmd.Flags().DurationVar(&smokeTimeout, "timeout", 10*time.Second, "Timeout per check")
}

func runSmoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := common.GetLogger()

	baseURL := smokeURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(smokeTimeout).
		SetHeader("Accept", "application/json")

	ctx := context.Background()

	var health handlers.HealthResponse
	resp, err := client.R().SetContext(ctx).SetResult(&health).Get("/health")
	if err != nil {
		return errors.Wrap(err, "health check failed")
	}
	if resp.IsError() {
		return errors.Errorf("health check returned %s", resp.Status())
	}
	fmt.Printf("✓ server %s is %s (version %s, database %v, blob %v)\n",
		baseURL, health.Status, health.Version, health.Services.Database, health.Services.Blob)

	if cfg.Auth.Enabled {
		if err := smokeAuth(ctx, client, &cfg.Auth); err != nil {
			return err
		}
	}

	if cfg.BlobConfigured() {
		blob, err := services.NewBlobStore(ctx, &cfg.Blob, logger, nil)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, smokeTimeout)
		defer cancel()
		if err := blob.Ping(pingCtx); err != nil {
			return errors.Wrap(err, "blob storage ping failed")
		}
		fmt.Printf("✓ blob storage %s/%s reachable\n", cfg.Blob.Endpoint, cfg.Blob.Bucket)
	} else {
		fmt.Println("- blob storage not configured, skipped")
	}
	return nil
}

// smokeAuth mints a short-lived token and lists clients with it.
func smokeAuth(ctx context.Context, client *resty.Client, auth *common.AuthConfig) error {
	email := smokeEmail
	if email == "" {
		domain := "localhost"
		if len(auth.AllowedDomains) > 0 {
			domain = auth.AllowedDomains[0]
		}
		email = "smoke@" + domain
	}

	token, err := middleware.IssueToken(auth, email, "smoke test", 5*time.Minute)
	if err != nil {
		return errors.Wrap(err, "could not mint session token")
	}

	resp, err := client.R().SetContext(ctx).SetAuthToken(token).Get("/api/clients")
	if err != nil {
		return errors.Wrap(err, "authenticated request failed")
	}
	if resp.IsError() {
		return errors.Errorf("authenticated request returned %s: %s", resp.Status(), resp.String())
	}
	fmt.Printf("✓ session token for %s accepted\n", email)
	return nil
}
