package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/jwt/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pipestack/control-plane/internal/config"
	cperrors "github.com/pipestack/control-plane/internal/pkg/errors"
	"github.com/pipestack/control-plane/internal/repository"
	"github.com/pipestack/control-plane/internal/secretstore"
)

var provisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipestack_identity_provisions_total",
		Help: "Workspace identity provisioning attempts by outcome.",
	},
	[]string{"outcome"},
)

// CredentialStore persists the tenant credential bundle.
type CredentialStore interface {
	WriteWorkspaceCredentials(ctx context.Context, slug string, creds *secretstore.Credentials) error
}

// Manager mints tenant identities. Provision is idempotent per workspace:
// a workspace whose account is already recorded is skipped, so at-least-once
// delivery from the watcher is safe.
type Manager struct {
	keys           *platformKeys
	resolver       Resolver
	repo           repository.WorkspaceRepository
	store          CredentialStore
	serviceSubject string
	logger         *slog.Logger
}

// NewManager creates an identity manager.
func NewManager(
	cfg config.NatsConfig,
	resolver Resolver,
	repo repository.WorkspaceRepository,
	store CredentialStore,
	logger *slog.Logger,
) (*Manager, error) {
	keys, err := newPlatformKeys(cfg.OperatorSeed, cfg.CentralAccountPub)
	if err != nil {
		return nil, err
	}
	return &Manager{
		keys:           keys,
		resolver:       resolver,
		repo:           repo,
		store:          store,
		serviceSubject: cfg.CentralServiceSubject,
		logger:         logger,
	}, nil
}

// Provision runs the full identity sequence for a workspace: fresh keys,
// account JWT into the resolver, central account import grants, default
// user, then persistence of the account key and credential bundle.
//
// Key generation is not repeatable, so the recorded account acts as the
// idempotency guard: once nats_account is set the workspace is done.
func (m *Manager) Provision(ctx context.Context, slug string) error {
	w, err := m.repo.GetBySlug(ctx, slug)
	if err != nil {
		provisionsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to load workspace %q: %w", slug, err)
	}
	if w == nil {
		provisionsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("unknown workspace %q", slug)
	}
	if w.Provisioned() {
		m.logger.Info("workspace already provisioned",
			"slug", slug,
			"account", *w.NatsAccount,
		)
		provisionsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	tk, err := newTenantKeys()
	if err != nil {
		provisionsTotal.WithLabelValues("failed").Inc()
		return err
	}

	if err := m.provision(ctx, slug, tk); err != nil {
		provisionsTotal.WithLabelValues("failed").Inc()
		return err
	}
	provisionsTotal.WithLabelValues("provisioned").Inc()

	m.logger.Info("workspace provisioned",
		"slug", slug,
		"account", tk.accountPub,
	)
	return nil
}

func (m *Manager) provision(ctx context.Context, slug string, tk *tenantKeys) error {
	accountJWT, err := m.buildAccountJWT(slug, tk)
	if err != nil {
		return fmt.Errorf("failed to build account JWT: %w", err)
	}
	if err := m.resolver.UpdateAccount(ctx, accountJWT); err != nil {
		return err
	}

	if err := m.grantCentralImports(ctx, slug, tk.accountPub); err != nil {
		return err
	}

	userJWT, err := m.buildUserJWT(slug, tk)
	if err != nil {
		return fmt.Errorf("failed to build user JWT: %w", err)
	}

	if err := m.repo.SetNatsAccount(ctx, slug, tk.accountPub); err != nil {
		return &cperrors.PersistError{Slug: slug, What: "workspace_account", Err: err}
	}

	accountSeed, err := seedString(tk.account)
	if err != nil {
		return err
	}
	userSeed, err := seedString(tk.user)
	if err != nil {
		return err
	}
	creds := &secretstore.Credentials{
		AccountNkey: accountSeed,
		AccountJWT:  accountJWT,
		UserNkey:    tk.userPub,
		UserJWT:     userJWT,
		UserSeed:    userSeed,
	}
	if err := m.store.WriteWorkspaceCredentials(ctx, slug, creds); err != nil {
		// The account is live in the resolver but the credentials are gone
		// with this process; flag for manual recovery.
		m.logger.Error("CredentialPersistMissing",
			"slug", slug,
			"account", tk.accountPub,
			"error", err,
		)
		return &cperrors.PersistError{Slug: slug, What: "credentials", Err: err}
	}
	return nil
}

// buildAccountJWT builds and operator-signs the tenant account claims:
// unlimited limits, ctl.>/evt.> exports, and the central service import.
func (m *Manager) buildAccountJWT(slug string, tk *tenantKeys) (string, error) {
	ac := jwt.NewAccountClaims(tk.accountPub)
	ac.Name = slug
	ac.SigningKeys.Add(tk.signingPub)
	ac.Limits.JetStreamLimits = jwt.JetStreamLimits{
		MemoryStorage: jwt.NoLimit,
		DiskStorage:   jwt.NoLimit,
		Streams:       jwt.NoLimit,
		Consumer:      jwt.NoLimit,
	}
	ac.Exports.Add(
		&jwt.Export{Name: "ctl", Subject: "ctl.>", Type: jwt.Service},
		&jwt.Export{Name: "evt", Subject: "evt.>", Type: jwt.Stream},
	)
	ac.Imports.Add(&jwt.Import{
		Name:         "platform-services",
		Account:      m.keys.centralPub,
		Subject:      jwt.Subject(m.serviceSubject),
		LocalSubject: jwt.RenamingSubject(m.serviceSubject),
		Type:         jwt.Service,
	})
	return ac.Encode(m.keys.operator)
}

// grantCentralImports fetches the central account claims, appends the import
// pair for the new tenant when absent, re-signs and republishes. An absent
// or unparsable central JWT starts from an empty import set.
func (m *Manager) grantCentralImports(ctx context.Context, slug, accountPub string) error {
	token, err := m.resolver.LookupAccount(ctx, m.keys.centralPub)
	if err != nil {
		return err
	}

	var central *jwt.AccountClaims
	if token != "" {
		central, err = jwt.DecodeAccountClaims(token)
		if err != nil {
			m.logger.Warn("central account JWT unparsable, rebuilding import set",
				"error", err,
			)
			central = nil
		}
	}
	if central == nil {
		central = jwt.NewAccountClaims(m.keys.centralPub)
	}

	if !ensureTenantImports(central, slug, accountPub) {
		return nil
	}

	resigned, err := central.Encode(m.keys.operator)
	if err != nil {
		return fmt.Errorf("failed to re-sign central account JWT: %w", err)
	}
	return m.resolver.UpdateAccount(ctx, resigned)
}

// ensureTenantImports appends the (service ctl.>, stream evt.>) import pair
// for a tenant account unless an import with the same (account, subject) key
// already exists. Event subjects are renamed under mt.{account} so tenant
// observability traffic lands in a workspace-scoped slice of the central
// address space. Reports whether the claims changed.
func ensureTenantImports(central *jwt.AccountClaims, slug, accountPub string) bool {
	changed := false
	if !hasImport(central, accountPub, "ctl.>") {
		central.Imports.Add(&jwt.Import{
			Name:         slug + "-ctl",
			Account:      accountPub,
			Subject:      "ctl.>",
			LocalSubject: jwt.RenamingSubject(accountPub + ".ctl.>"),
			Type:         jwt.Service,
		})
		changed = true
	}
	if !hasImport(central, accountPub, "evt.>") {
		central.Imports.Add(&jwt.Import{
			Name:         slug + "-evt",
			Account:      accountPub,
			Subject:      "evt.>",
			LocalSubject: jwt.RenamingSubject("mt." + accountPub + ".evt.>"),
			Type:         jwt.Stream,
		})
		changed = true
	}
	return changed
}

func hasImport(claims *jwt.AccountClaims, accountPub string, subject jwt.Subject) bool {
	for _, imp := range claims.Imports {
		if imp.Account == accountPub && imp.Subject == subject {
			return true
		}
	}
	return false
}

// buildUserJWT builds the workspace's default user, signed with the account
// signing key. The publish allow-list covers JetStream, KV, inbox replies,
// the platform topic space, the workspace's own prefix, the control surface,
// and resolver replies; subscribe gets the same set minus resolver replies.
func (m *Manager) buildUserJWT(slug string, tk *tenantKeys) (string, error) {
	uc := jwt.NewUserClaims(tk.userPub)
	uc.Name = slug + "-default"
	uc.IssuerAccount = tk.accountPub
	uc.Permissions.Pub.Allow.Add(
		"$JS.>",
		"$KV.>",
		"_INBOX.>",
		"pipestack.>",
		slug+".>",
		"ctl.>",
		"_R_.>",
	)
	uc.Permissions.Sub.Allow.Add(
		"$JS.>",
		"$KV.>",
		"_INBOX.>",
		"pipestack.>",
		slug+".>",
		"ctl.>",
	)
	return uc.Encode(tk.signing)
}
