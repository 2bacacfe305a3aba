package secrets

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeJWT builds an unsigned-but-well-formed 3-segment token from claims.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ed25519-nkey","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestParseEntityJWT(t *testing.T) {
	now := time.Now().Unix()
	token := makeJWT(t, map[string]any{
		"sub": "MCOMPONENT",
		"iss": "AACCOUNT",
		"iat": now,
		"exp": now + 600,
	})

	claims, err := ParseEntityJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "MCOMPONENT", claims.Sub)
	assert.Equal(t, now+600, claims.Exp)
}

func TestParseEntityJWTMalformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"two segments", "only.two"},
		{"empty", ""},
		{"four segments", "a.b.c.d"},
		{"payload not base64url", "h.!!!.s"},
		{"payload not json", "h." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntityJWT(tt.token)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Invalid JWT format")
		})
	}
}

func TestParseEntityJWTMissingSubject(t *testing.T) {
	token := makeJWT(t, map[string]any{"iss": "AACCOUNT"})

	_, err := ParseEntityJWT(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing subject")
}

func TestValidateTime(t *testing.T) {
	now := time.Now()
	skew := 300 * time.Second

	tests := []struct {
		name          string
		claims        EntityClaims
		enforceExpiry bool
		wantErr       string
	}{
		{
			name:          "fresh token",
			claims:        EntityClaims{Sub: "M", Exp: now.Add(10 * time.Minute).Unix()},
			enforceExpiry: true,
		},
		{
			name:          "expired",
			claims:        EntityClaims{Sub: "M", Exp: now.Add(-10 * time.Minute).Unix()},
			enforceExpiry: true,
			wantErr:       "JWT expired",
		},
		{
			name:          "expired within skew",
			claims:        EntityClaims{Sub: "M", Exp: now.Add(-time.Minute).Unix()},
			enforceExpiry: true,
		},
		{
			name:          "expired but enforcement off",
			claims:        EntityClaims{Sub: "M", Exp: now.Add(-10 * time.Minute).Unix()},
			enforceExpiry: false,
		},
		{
			name:          "not yet valid",
			claims:        EntityClaims{Sub: "M", Nbf: now.Add(10 * time.Minute).Unix()},
			enforceExpiry: true,
			wantErr:       "JWT not yet valid",
		},
		{
			name:          "nbf within skew",
			claims:        EntityClaims{Sub: "M", Nbf: now.Add(time.Minute).Unix()},
			enforceExpiry: true,
		},
		{
			name:          "no time claims",
			claims:        EntityClaims{Sub: "M"},
			enforceExpiry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.claims.ValidateTime(now, tt.enforceExpiry, skew)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}
