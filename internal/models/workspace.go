package models

import "time"

// Workspace is the tenant boundary. Slug is the tenant identity; NatsAccount
// holds the public key of the tenant account once the identity manager has
// provisioned it, and is nil until then.
type Workspace struct {
	Slug        string    `json:"slug"`
	NatsAccount *string   `json:"natsAccount,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Provisioned reports whether the workspace has a tenant account.
func (w *Workspace) Provisioned() bool {
	return w.NatsAccount != nil && *w.NatsAccount != ""
}
