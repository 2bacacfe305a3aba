package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pipestack/control-plane/internal/config"
	"github.com/pipestack/control-plane/internal/secretstore"
)

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipestack_secrets_requests_total",
		Help: "Secret requests served by outcome.",
	},
	[]string{"outcome"},
)

// SecretReader fetches a tenant secret from the upstream store.
type SecretReader interface {
	ReadSecret(ctx context.Context, key string) (*secretstore.Value, error)
}

// Server answers the two secrets subjects. Each subscription delivers
// messages FIFO on its own callback; requests share no mutable state, so
// the two subjects run fully independently.
type Server struct {
	cfg    config.SecretsConfig
	env    *envelope
	store  SecretReader
	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates a secrets server.
func NewServer(cfg config.SecretsConfig, store SecretReader, logger *slog.Logger) (*Server, error) {
	env, err := newEnvelope(cfg.XkeySeed)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:    cfg,
		env:    env,
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

// GetSubject returns the main request subject.
func (s *Server) GetSubject() string {
	return fmt.Sprintf("%s.%s.%s.get", s.cfg.Prefix, s.cfg.APIVersion, s.cfg.Name)
}

// XkeySubject returns the public-key discovery subject.
func (s *Server) XkeySubject() string {
	return fmt.Sprintf("%s.%s.%s.server_xkey", s.cfg.Prefix, s.cfg.APIVersion, s.cfg.Name)
}

// Run subscribes both subjects and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, conn *nats.Conn) error {
	getSub, err := conn.Subscribe(s.GetSubject(), func(msg *nats.Msg) {
		if reply := s.HandleGet(ctx, msg); reply != nil {
			reply.Subject = msg.Reply
			if err := conn.PublishMsg(reply); err != nil {
				s.logger.Error("failed to publish secret response", "error", err)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.GetSubject(), err)
	}
	defer getSub.Unsubscribe()

	xkeySub, err := conn.Subscribe(s.XkeySubject(), func(msg *nats.Msg) {
		if msg.Reply == "" {
			return
		}
		if err := conn.Publish(msg.Reply, []byte(s.env.PublicKey())); err != nil {
			s.logger.Error("failed to publish server xkey", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.XkeySubject(), err)
	}
	defer xkeySub.Unsubscribe()

	s.logger.Info("secrets backend listening",
		"get_subject", s.GetSubject(),
		"xkey_subject", s.XkeySubject(),
	)

	<-ctx.Done()
	return ctx.Err()
}

// HandleGet processes one encrypted secret request and returns the reply
// message, or nil when no response can be sent. A request without a caller
// key cannot be answered at all: there is nobody to seal the error for.
func (s *Server) HandleGet(ctx context.Context, msg *nats.Msg) *nats.Msg {
	callerPub := msg.Header.Get(HeaderHostXkey)
	if callerPub == "" {
		s.logger.Warn("dropping secret request without caller xkey header")
		requestsTotal.WithLabelValues("no_caller_key").Inc()
		return nil
	}

	resp, outcome := s.resolve(ctx, msg.Data, callerPub)
	requestsTotal.WithLabelValues(outcome).Inc()

	plain, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal secret response", "error", err)
		return nil
	}
	sealed, responsePub, err := s.env.Seal(plain, callerPub)
	if err != nil {
		s.logger.Error("failed to seal secret response", "error", err)
		return nil
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderServerResponseXkey, responsePub)
	reply.Data = sealed
	return reply
}

// resolve decrypts, validates, and serves one request. Every failure class
// carries its own error string; all of them travel encrypted.
func (s *Server) resolve(ctx context.Context, sealed []byte, callerPub string) (*Response, string) {
	plain, err := s.env.Open(sealed, callerPub)
	if err != nil {
		return &Response{Error: errDecryptFailed}, "decrypt_failed"
	}

	var req Request
	if err := json.Unmarshal(plain, &req); err != nil || req.Key == "" {
		return &Response{Error: errRequestMalformed}, "malformed"
	}

	claims, err := ParseEntityJWT(req.Context.EntityJWT)
	if err != nil {
		return &Response{Error: err.Error()}, "caller_invalid"
	}
	if err := claims.ValidateTime(s.now(), s.cfg.EnforceExpiry, s.cfg.ClockSkew); err != nil {
		return &Response{Error: err.Error()}, "caller_invalid"
	}

	value, err := s.store.ReadSecret(ctx, req.Key)
	switch {
	case errors.Is(err, secretstore.ErrNotFound):
		return &Response{Error: errSecretNotFound}, "not_found"
	case errors.Is(err, secretstore.ErrUnauthorized):
		return &Response{Error: errUpstreamUnauthorized}, "upstream_unauthorized"
	case err != nil:
		s.logger.Error("upstream secret fetch failed",
			"key", req.Key,
			"entity", claims.Sub,
			"error", err,
		)
		return &Response{Error: errUpstreamNetwork}, "upstream_error"
	}

	version := req.Version
	if version == "" {
		version = "latest"
	}
	secret := &Secret{Name: req.Key, Version: version}
	if value.Binary != nil {
		secret.BinarySecret = value.Binary
	} else {
		secret.StringSecret = value.String
	}
	return &Response{Secret: secret}, "served"
}
