package secrets

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrInvalidJWT is returned for any structural parse failure; its text is
// part of the wire contract with hosts.
var ErrInvalidJWT = errors.New("Invalid JWT format")

// EntityClaims is the payload slice of an entity JWT the backend cares
// about. The token's signature is not verified here; the sealed envelope
// already binds the request to a caller key, and claims are treated as
// advisory identity.
type EntityClaims struct {
	Sub string `json:"sub"`
	Iss string `json:"iss,omitempty"`
	Iat int64  `json:"iat,omitempty"`
	Nbf int64  `json:"nbf,omitempty"`
	Exp int64  `json:"exp,omitempty"`
}

// ParseEntityJWT decodes the payload of a 3-segment JWT.
func ParseEntityJWT(token string) (*EntityClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidJWT
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidJWT
	}

	var claims EntityClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidJWT
	}
	if claims.Sub == "" {
		return nil, errors.New("JWT missing subject")
	}
	return &claims, nil
}

// ValidateTime checks nbf and exp against now with the given skew. Expiry
// enforcement is configurable; nbf is always enforced.
func (c *EntityClaims) ValidateTime(now time.Time, enforceExpiry bool, skew time.Duration) error {
	if c.Nbf != 0 && now.Add(skew).Before(time.Unix(c.Nbf, 0)) {
		return errors.New("JWT not yet valid")
	}
	if enforceExpiry && c.Exp != 0 && now.After(time.Unix(c.Exp, 0).Add(skew)) {
		return errors.New("JWT expired")
	}
	return nil
}
