package services

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"studio-board/internal/common"
)

// BlobAuth is the credential strategy for the blob store, chosen once from
// configuration. The two variants are EnterpriseAuth and
// ClientCredentialsAuth.
type BlobAuth interface {
	Strategy() string
	credentials() (*credentials.Credentials, error)
}

// EnterpriseAuth signs requests with long-lived static keys.
type EnterpriseAuth struct {
	AccessKey string
	SecretKey string
}

func (a EnterpriseAuth) Strategy() string {
	return common.BlobAuthEnterprise
}

func (a EnterpriseAuth) credentials() (*credentials.Credentials, error) {
	if a.AccessKey == "" || a.SecretKey == "" {
		return nil, errors.New("enterprise blob auth requires an access key and secret key")
	}
	return credentials.NewStaticV4(a.AccessKey, a.SecretKey, ""), nil
}

// ClientCredentialsAuth obtains short-lived tokens with an OAuth2
// client-credentials grant and exchanges them for temporary keys through
// the storage STS endpoint. Keys are refreshed when they expire.
type ClientCredentialsAuth struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	STSEndpoint  string

	client *resty.Client
}

type OAuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func NewClientCredentialsAuth(config *common.BlobConfig) *ClientCredentialsAuth {
	client := resty.New().
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")

	return &ClientCredentialsAuth{
		TokenURL:     config.TokenURL,
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		STSEndpoint:  config.STSEndpoint,
		client:       client,
	}
}

func (a *ClientCredentialsAuth) Strategy() string {
	return common.BlobAuthClientCredentials
}

func (a *ClientCredentialsAuth) credentials() (*credentials.Credentials, error) {
	if a.STSEndpoint == "" {
		return nil, errors.New("client_credentials blob auth requires an sts_endpoint")
	}
	return credentials.NewSTSClientGrants(a.STSEndpoint, func() (*credentials.ClientGrantsToken, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		token, err := a.FetchToken(ctx)
		if err != nil {
			return nil, err
		}
		return &credentials.ClientGrantsToken{Token: token.AccessToken, Expiry: token.ExpiresIn}, nil
	})
}

// FetchToken performs the client-credentials grant.
func (a *ClientCredentialsAuth) FetchToken(ctx context.Context) (*OAuthToken, error) {
	var token OAuthToken

	resp, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     a.ClientID,
			"client_secret": a.ClientSecret,
		}).
		SetResult(&token).
		Post(a.TokenURL)

	if err != nil {
		return nil, errors.Wrap(err, "token request failed")
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("token endpoint returned status %d: %s", resp.StatusCode(), resp.String())
	}

	if token.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access_token")
	}

	return &token, nil
}

// BlobAuthFromConfig selects the credential strategy named by config.Auth.
func BlobAuthFromConfig(config *common.BlobConfig) (BlobAuth, error) {
	switch config.Auth {
	case common.BlobAuthEnterprise, "":
		return EnterpriseAuth{AccessKey: config.AccessKey, SecretKey: config.SecretKey}, nil
	case common.BlobAuthClientCredentials:
		return NewClientCredentialsAuth(config), nil
	}
	return nil, common.NewConfigurationError("BLOB_AUTH", "unknown blob auth strategy "+config.Auth)
}
