// Package deployer submits compiled manifests to the per-tenant reconciler
// over the control bus.
package deployer

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

	"github.com/pipestack/control-plane/internal/compiler"
	"github.com/pipestack/control-plane/internal/config"
	"github.com/pipestack/control-plane/internal/manifest"
	"github.com/pipestack/control-plane/internal/pipeline"
	cperrors "github.com/pipestack/control-plane/internal/pkg/errors"
	"github.com/pipestack/control-plane/internal/repository"
	"github.com/pipestack/control-plane/internal/secretstore"
)

var deploysTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipestack_deploys_total",
		Help: "Manifest deployments by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// BusConn is the slice of the platform-user bus connection the deployer
// needs. *nats.Conn satisfies it.
type BusConn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// CredentialReader fetches the persisted tenant user credentials.
type CredentialReader interface {
	ReadUserCredentials(ctx context.Context, slug string) (userJWT, userSeed string, err error)
}

// Deployer compiles pipelines and pushes the resulting manifests to the
// tenant's reconciler. The providers manifest is always submitted and
// acknowledged before the pipeline manifest.
type Deployer struct {
	conn     BusConn
	repo     repository.WorkspaceRepository
	creds    CredentialReader
	compiler *compiler.Compiler
	cfg      config.DeployConfig
	logger   *slog.Logger
}

// New creates a deployer.
func New(
	conn BusConn,
	repo repository.WorkspaceRepository,
	creds CredentialReader,
	c *compiler.Compiler,
	cfg config.DeployConfig,
	logger *slog.Logger,
) *Deployer {
	return &Deployer{
		conn:     conn,
		repo:     repo,
		creds:    creds,
		compiler: c,
		cfg:      cfg,
		logger:   logger,
	}
}

// DeployPipeline compiles and submits both manifests for a pipeline.
func (d *Deployer) DeployPipeline(ctx context.Context, slug string, p *pipeline.Pipeline) error {
	t, account, err := d.tenant(ctx, slug)
	if err != nil {
		return err
	}

	pipelineManifest, providersManifest, err := d.compiler.Compile(p, t)
	if err != nil {
		return err
	}

	if err := d.submit(ctx, account, "providers", providersManifest); err != nil {
		return err
	}
	if err := d.submit(ctx, account, "pipeline", pipelineManifest); err != nil {
		return err
	}

	d.logger.Info("pipeline deployed",
		"workspace", slug,
		"pipeline", p.Name,
		"version", p.Version,
	)
	return nil
}

// DeployProviders submits only the providers manifest, with every capability
// enabled.
func (d *Deployer) DeployProviders(ctx context.Context, slug string) error {
	t, account, err := d.tenant(ctx, slug)
	if err != nil {
		return err
	}

	if err := d.submit(ctx, account, "providers", d.compiler.CompileProviders(t)); err != nil {
		return err
	}

	d.logger.Info("providers deployed", "workspace", slug)
	return nil
}

// tenant resolves the workspace's account and credentials.
func (d *Deployer) tenant(ctx context.Context, slug string) (compiler.Tenant, string, error) {
	w, err := d.repo.GetBySlug(ctx, slug)
	if err != nil {
		return compiler.Tenant{}, "", fmt.Errorf("failed to load workspace %q: %w", slug, err)
	}
	if w == nil || !w.Provisioned() {
		return compiler.Tenant{}, "", &cperrors.TenantNotReadyError{Slug: slug}
	}

	userJWT, userSeed, err := d.creds.ReadUserCredentials(ctx, slug)
	if err != nil {
		if errors.Is(err, secretstore.ErrNotFound) {
			return compiler.Tenant{}, "", fmt.Errorf(
				"credentials missing for provisioned workspace %q: %w", slug, err,
			)
		}
		return compiler.Tenant{}, "", fmt.Errorf("failed to read credentials for %q: %w", slug, err)
	}

	return compiler.Tenant{Slug: slug, UserJWT: userJWT, UserSeed: userSeed}, *w.NatsAccount, nil
}

// reconcilerReply is the acknowledgment envelope from the reconciler.
type reconcilerReply struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// submit stores then deploys one manifest, acknowledged per step.
func (d *Deployer) submit(ctx context.Context, account, kind string, m *manifest.Manifest) error {
	data, err := m.EncodeYAML()
	if err != nil {
		deploysTotal.WithLabelValues(kind, "failed").Inc()
		return fmt.Errorf("failed to serialize %s manifest: %w", m.Metadata.Name, err)
	}

	putSubject := fmt.Sprintf("%s.ctl.api.model.put", account)
	if err := d.request(ctx, putSubject, data); err != nil {
		deploysTotal.WithLabelValues(kind, "failed").Inc()
		return err
	}

	deployBody, err := json.Marshal(map[string]string{"name": m.Metadata.Name})
	if err != nil {
		deploysTotal.WithLabelValues(kind, "failed").Inc()
		return err
	}
	deploySubject := fmt.Sprintf("%s.ctl.api.model.deploy", account)
	if err := d.request(ctx, deploySubject, deployBody); err != nil {
		deploysTotal.WithLabelValues(kind, "failed").Inc()
		return err
	}

	deploysTotal.WithLabelValues(kind, "deployed").Inc()
	return nil
}

// request performs one acknowledged bus request with bounded linear-backoff
// retries. Only transport failures are retried; a reconciler rejection is
// final.
func (d *Deployer) request(ctx context.Context, subject string, data []byte) error {
	attempts := d.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * d.cfg.RetryDelay):
			}
			d.logger.Warn("retrying manifest submission",
				"subject", subject,
				"attempt", attempt,
			)
		}

		msg, err := d.conn.RequestWithContext(ctx, subject, data)
		if err != nil {
			lastErr = &cperrors.BusError{
				Subject: subject,
				Timeout: errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded),
				Err:     err,
			}
			continue
		}

		var reply reconcilerReply
		if err := json.Unmarshal(msg.Data, &reply); err == nil && reply.Result == "error" {
			return fmt.Errorf("reconciler rejected %s: %s", subject, reply.Message)
		}
		return nil
	}
	return lastErr
}
