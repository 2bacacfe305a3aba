package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	cperrors "github.com/pipestack/control-plane/internal/pkg/errors"
)

const (
	claimsUpdateSubject = "$SYS.REQ.CLAIMS.UPDATE"
	claimsLookupFormat  = "$SYS.REQ.ACCOUNT.%s.CLAIMS.LOOKUP"
)

// Resolver pushes and reads account JWTs in the trust resolver.
type Resolver interface {
	// UpdateAccount publishes a signed account JWT.
	UpdateAccount(ctx context.Context, token string) error

	// LookupAccount returns the current JWT for an account public key, or
	// "" when the resolver holds none.
	LookupAccount(ctx context.Context, accountPub string) (string, error)
}

// BusRequester is the slice of the bus connection the resolver needs.
// *nats.Conn satisfies it.
type BusRequester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// natsResolver talks to the resolver over the system account connection.
type natsResolver struct {
	conn    BusRequester
	timeout time.Duration
}

// NewResolver creates a resolver backed by a system-account bus connection.
func NewResolver(conn BusRequester, timeout time.Duration) Resolver {
	return &natsResolver{conn: conn, timeout: timeout}
}

// resolverReply is the envelope the resolver wraps responses in.
type resolverReply struct {
	Error *struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (r *natsResolver) UpdateAccount(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg, err := r.conn.RequestWithContext(ctx, claimsUpdateSubject, []byte(token))
	if err != nil {
		return &cperrors.ResolverError{Op: "update", Err: err}
	}

	var reply resolverReply
	if err := json.Unmarshal(msg.Data, &reply); err == nil && reply.Error != nil {
		return &cperrors.ResolverError{
			Op:       "update",
			Conflict: true,
			Err:      fmt.Errorf("code %d: %s", reply.Error.Code, reply.Error.Description),
		}
	}
	return nil
}

func (r *natsResolver) LookupAccount(ctx context.Context, accountPub string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	subject := fmt.Sprintf(claimsLookupFormat, accountPub)
	msg, err := r.conn.RequestWithContext(ctx, subject, nil)
	if err != nil {
		// No responder means the resolver holds no JWT for this account.
		if errors.Is(err, nats.ErrNoResponders) {
			return "", nil
		}
		return "", &cperrors.ResolverError{Op: "lookup", Err: err}
	}

	token := strings.TrimSpace(string(msg.Data))
	return token, nil
}
