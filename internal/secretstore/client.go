// Package secretstore provides a client for the upstream KV v2 secret store
// (Vault/OpenBao compatible). It holds both tenant-managed secrets and the
// control plane's own persisted workspace credentials.
package secretstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pipestack/control-plane/internal/config"
)

var (
	// ErrNotFound is returned when the requested path or field is absent.
	ErrNotFound = errors.New("secret not found")
	// ErrUnauthorized is returned when the store rejects the client token.
	ErrUnauthorized = errors.New("secret store rejected token")
)

// Value is a secret payload read from the store. Exactly one of String and
// Binary is set.
type Value struct {
	String string
	Binary []byte
}

// Credentials is the per-workspace identity bundle the control plane
// persists after provisioning. Each field lands in its own KV entry under
// {platformPrefix}/workspaces/{slug}/.
type Credentials struct {
	AccountNkey string // account seed
	AccountJWT  string
	UserNkey    string // user public key
	UserJWT     string
	UserSeed    string
}

// Client talks to the KV v2 HTTP API.
type Client struct {
	address        string
	token          string
	mount          string
	project        string
	environment    string
	platformPrefix string
	client         *http.Client
}

// NewClient creates a new secret store client.
func NewClient(cfg config.SecretStoreConfig) *Client {
	return &Client{
		address:        cfg.Address,
		token:          cfg.Token,
		mount:          cfg.Mount,
		project:        cfg.Project,
		environment:    cfg.Environment,
		platformPrefix: cfg.PlatformPrefix,
		client:         &http.Client{Timeout: 30 * time.Second},
	}
}

// kvReadResponse is the KV v2 read envelope.
type kvReadResponse struct {
	Data struct {
		Data map[string]any `json:"data"`
	} `json:"data"`
	Errors []string `json:"errors"`
}

// secretPath scopes a tenant secret under the configured project and
// environment.
func (c *Client) secretPath(key string) string {
	return fmt.Sprintf("%s/%s/%s", c.project, c.environment, key)
}

// credentialPath is where one entry of a workspace's identity bundle is
// persisted. Intermediate path segments need no pre-creation in KV v2, so
// re-running a write is idempotent.
func (c *Client) credentialPath(slug, entry string) string {
	return fmt.Sprintf("%s/workspaces/%s/%s", c.platformPrefix, slug, entry)
}

// ReadSecret fetches a tenant secret by key. The "value" field holds a
// string secret; "binary" holds a base64-encoded blob.
func (c *Client) ReadSecret(ctx context.Context, key string) (*Value, error) {
	data, err := c.read(ctx, c.secretPath(key))
	if err != nil {
		return nil, err
	}

	if s, ok := data["value"].(string); ok {
		return &Value{String: s}, nil
	}
	if b64, ok := data["binary"].(string); ok {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode binary secret: %w", err)
		}
		return &Value{Binary: raw}, nil
	}
	return nil, ErrNotFound
}

// ReadUserCredentials fetches the persisted user JWT and seed for a
// workspace; the deployer hands them to the tenant's bus capability.
func (c *Client) ReadUserCredentials(ctx context.Context, slug string) (userJWT, userSeed string, err error) {
	userJWT, err = c.readValue(ctx, c.credentialPath(slug, "user_jwt"))
	if err != nil {
		return "", "", err
	}
	userSeed, err = c.readValue(ctx, c.credentialPath(slug, "user_seed"))
	if err != nil {
		return "", "", err
	}
	return userJWT, userSeed, nil
}

// WriteWorkspaceCredentials persists the identity bundle for a workspace as
// five sibling entries.
func (c *Client) WriteWorkspaceCredentials(ctx context.Context, slug string, creds *Credentials) error {
	entries := []struct {
		name  string
		value string
	}{
		{"account_nkey", creds.AccountNkey},
		{"account_jwt", creds.AccountJWT},
		{"user_nkey", creds.UserNkey},
		{"user_jwt", creds.UserJWT},
		{"user_seed", creds.UserSeed},
	}
	for _, e := range entries {
		if err := c.write(ctx, c.credentialPath(slug, e.name), map[string]any{"value": e.value}); err != nil {
			return fmt.Errorf("failed to write %s: %w", e.name, err)
		}
	}
	return nil
}

// readValue reads the "value" field of a KV entry.
func (c *Client) readValue(ctx context.Context, path string) (string, error) {
	data, err := c.read(ctx, path)
	if err != nil {
		return "", err
	}
	s, ok := data["value"].(string)
	if !ok || s == "" {
		return "", ErrNotFound
	}
	return s, nil
}

// read performs a KV v2 data read.
func (c *Client) read(ctx context.Context, path string) (map[string]any, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", c.address, c.mount, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("secret store error (status %d): %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var kvResp kvReadResponse
	if err := json.Unmarshal(respBody, &kvResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(kvResp.Errors) > 0 {
		return nil, fmt.Errorf("secret store error: %v", kvResp.Errors)
	}
	if kvResp.Data.Data == nil {
		return nil, ErrNotFound
	}
	return kvResp.Data.Data, nil
}

// write performs a KV v2 data write.
func (c *Client) write(ctx context.Context, path string, data map[string]any) error {
	url := fmt.Sprintf("%s/v1/%s/data/%s", c.address, c.mount, path)

	jsonBody, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("secret store error (status %d): %s", resp.StatusCode, string(body))
	}
}
