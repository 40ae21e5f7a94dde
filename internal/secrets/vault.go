// Package secrets resolves a profile's BrokerCredentialRef to the API
// key/secret pair BrokerPool's Session factory needs to authenticate,
// adapted from the teacher's internal/config VaultClient down to the single
// KV-v2 read path broker credential lookup needs.
package secrets

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Config locates the KV-v2 mount broker credentials live under.
type Config struct {
	Address   string
	Token     string
	MountPath string // e.g. "secret"
}

// Client wraps a Vault client scoped to broker credential lookups.
type Client struct {
	api       *vault.Client
	mountPath string
	log       zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address

	api, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("secrets: no vault token configured")
	}
	api.SetToken(token)

	return &Client{api: api, mountPath: cfg.MountPath, log: logger.With().Str("component", "secrets").Logger()}, nil
}

// BrokerCredentials is the shape stored at a profile's BrokerCredentialRef.
type BrokerCredentials struct {
	APIKey    string
	APISecret string
	AccountID string
}

// Resolve reads a profile's broker credentials from Vault KV-v2 at
// {mountPath}/data/{ref}.
func (c *Client) Resolve(ctx context.Context, ref string) (*BrokerCredentials, error) {
	fullPath := fmt.Sprintf("%s/data/%s", c.mountPath, ref)

	secret, err := c.api.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %q: %w", fullPath, err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secrets: no secret at %q", fullPath)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		data = secret.Data
	}

	creds := &BrokerCredentials{}
	if v, ok := data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := data["api_secret"].(string); ok {
		creds.APISecret = v
	}
	if v, ok := data["account_id"].(string); ok {
		creds.AccountID = v
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("secrets: incomplete broker credentials at %q", fullPath)
	}
	return creds, nil
}
