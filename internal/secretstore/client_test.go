package secretstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipestack/control-plane/internal/config"
)

// fakeKV is an in-memory KV v2 endpoint.
type fakeKV struct {
	entries map[string]map[string]any // by full path after /v1/{mount}/data/
	token   string
	reads   []string
	writes  []string
}

func newFakeKV(token string) *fakeKV {
	return &fakeKV{entries: map[string]map[string]any{}, token: token}
}

func (kv *fakeKV) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != kv.token {
			http.Error(w, `{"errors":["permission denied"]}`, http.StatusForbidden)
			return
		}

		const prefix = "/v1/secret/data/"
		require.True(t, len(r.URL.Path) > len(prefix), "unexpected path %s", r.URL.Path)
		path := r.URL.Path[len(prefix):]

		switch r.Method {
		case http.MethodGet:
			kv.reads = append(kv.reads, path)
			data, ok := kv.entries[path]
			if !ok {
				http.Error(w, `{"errors":[]}`, http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": data}})
		case http.MethodPost:
			kv.writes = append(kv.writes, path)
			var body struct {
				Data map[string]any `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			kv.entries[path] = body.Data
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]any{})
		default:
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
		}
	}
}

func newTestClient(t *testing.T, kv *fakeKV, token string) *Client {
	t.Helper()
	ts := httptest.NewServer(kv.handler(t))
	t.Cleanup(ts.Close)

	return NewClient(config.SecretStoreConfig{
		Address:        ts.URL,
		Token:          token,
		Mount:          "secret",
		Project:        "pipestack",
		Environment:    "production",
		PlatformPrefix: "platform",
	})
}

func TestReadSecretString(t *testing.T) {
	kv := newFakeKV("root")
	kv.entries["pipestack/production/api_password"] = map[string]any{"value": "opensesame"}
	c := newTestClient(t, kv, "root")

	v, err := c.ReadSecret(context.Background(), "api_password")
	require.NoError(t, err)
	assert.Equal(t, "opensesame", v.String)
	assert.Nil(t, v.Binary)

	// Reads stay inside the configured project and environment.
	assert.Equal(t, []string{"pipestack/production/api_password"}, kv.reads)
}

func TestReadSecretBinary(t *testing.T) {
	kv := newFakeKV("root")
	kv.entries["pipestack/production/signing_key"] = map[string]any{
		"binary": base64.StdEncoding.EncodeToString([]byte{0xde, 0xad}),
	}
	c := newTestClient(t, kv, "root")

	v, err := c.ReadSecret(context.Background(), "signing_key")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, v.Binary)
}

func TestReadSecretNotFound(t *testing.T) {
	c := newTestClient(t, newFakeKV("root"), "root")

	_, err := c.ReadSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadSecretBadToken(t *testing.T) {
	c := newTestClient(t, newFakeKV("root"), "wrong")

	_, err := c.ReadSecret(context.Background(), "api_password")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestReadSecretNoUsableField(t *testing.T) {
	kv := newFakeKV("root")
	kv.entries["pipestack/production/odd"] = map[string]any{"other": "x"}
	c := newTestClient(t, kv, "root")

	_, err := c.ReadSecret(context.Background(), "odd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteWorkspaceCredentials(t *testing.T) {
	kv := newFakeKV("root")
	c := newTestClient(t, kv, "root")

	creds := &Credentials{
		AccountNkey: "SAACCOUNTSEED",
		AccountJWT:  "account.jwt",
		UserNkey:    "UUSERPUB",
		UserJWT:     "user.jwt",
		UserSeed:    "SUUSERSEED",
	}
	require.NoError(t, c.WriteWorkspaceCredentials(context.Background(), "acme", creds))

	// Five sibling entries under the workspace prefix.
	want := []string{
		"platform/workspaces/acme/account_nkey",
		"platform/workspaces/acme/account_jwt",
		"platform/workspaces/acme/user_nkey",
		"platform/workspaces/acme/user_jwt",
		"platform/workspaces/acme/user_seed",
	}
	assert.Equal(t, want, kv.writes)
	assert.Equal(t, map[string]any{"value": "user.jwt"}, kv.entries["platform/workspaces/acme/user_jwt"])
}

func TestReadUserCredentials(t *testing.T) {
	kv := newFakeKV("root")
	c := newTestClient(t, kv, "root")

	require.NoError(t, c.WriteWorkspaceCredentials(context.Background(), "acme", &Credentials{
		AccountNkey: "seed", AccountJWT: "ajwt", UserNkey: "upub", UserJWT: "user.jwt", UserSeed: "SUSEED",
	}))

	userJWT, userSeed, err := c.ReadUserCredentials(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "user.jwt", userJWT)
	assert.Equal(t, "SUSEED", userSeed)
}

func TestReadUserCredentialsMissing(t *testing.T) {
	c := newTestClient(t, newFakeKV("root"), "root")

	_, _, err := c.ReadUserCredentials(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
