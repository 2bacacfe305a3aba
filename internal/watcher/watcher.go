// Package watcher listens for workspace creation notifications from
// Postgres and hands each new slug to the identity manager.
package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// channel matches the pg_notify channel raised by the workspaces insert
// trigger.
const channel = "workspace_created"

const reconnectDelay = 5 * time.Second

// Provisioner handles a newly created workspace. Delivery is at-least-once:
// notifications can repeat across reconnects, so implementations must be
// idempotent per slug.
type Provisioner interface {
	Provision(ctx context.Context, slug string) error
}

// Watcher holds a dedicated listen connection. LISTEN state is per
// connection in Postgres, so it cannot share the application pool.
type Watcher struct {
	dsn         string
	provisioner Provisioner
	logger      *slog.Logger
}

// New creates a watcher.
func New(dsn string, p Provisioner, logger *slog.Logger) *Watcher {
	return &Watcher{dsn: dsn, provisioner: p, logger: logger}
}

// Run blocks until ctx is canceled, reconnecting with a fixed delay when the
// listen connection drops.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := w.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("workspace listener disconnected", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (w *Watcher) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, w.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	w.logger.Info("listening for workspace creations", "channel", channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		w.dispatch(ctx, n.Payload)
	}
}

// dispatch decodes one notification and runs provisioning. Errors are logged
// and swallowed: a failed workspace never takes the listen loop down.
func (w *Watcher) dispatch(ctx context.Context, payload string) {
	slug, err := ParsePayload(payload)
	if err != nil {
		w.logger.Error("dropping malformed workspace notification",
			"payload", payload,
			"error", err,
		)
		return
	}

	w.logger.Info("workspace created", "slug", slug)
	if err := w.provisioner.Provision(ctx, slug); err != nil {
		w.logger.Error("workspace provisioning failed",
			"slug", slug,
			"error", err,
		)
	}
}

// ParsePayload extracts the slug from a notification payload.
func ParsePayload(payload string) (string, error) {
	var evt struct {
		Slug string `json:"slug"`
	}
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return "", err
	}
	if evt.Slug == "" {
		return "", errMissingSlug
	}
	return evt.Slug, nil
}

type payloadError string

func (e payloadError) Error() string { return string(e) }

const errMissingSlug = payloadError("notification payload has no slug")
