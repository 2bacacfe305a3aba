// Package identity provisions per-workspace tenant identities in the
// keyed-JWT trust hierarchy: an account, its signing key, a default user,
// and the import grants that stitch the tenant into the central account.
package identity

import (
	"fmt"

	"github.com/nats-io/nkeys"
)

// platformKeys holds the long-lived platform key material. The handles are
// immutable after construction.
type platformKeys struct {
	// operator signs every account JWT pushed to the resolver.
	operator nkeys.KeyPair

	// centralPub is the public key of the platform's central account.
	centralPub string
}

func newPlatformKeys(operatorSeed, centralPub string) (*platformKeys, error) {
	op, err := nkeys.FromSeed([]byte(operatorSeed))
	if err != nil {
		return nil, fmt.Errorf("invalid operator seed: %w", err)
	}
	if _, err := op.PublicKey(); err != nil {
		return nil, fmt.Errorf("operator seed is not a signing key: %w", err)
	}
	return &platformKeys{operator: op, centralPub: centralPub}, nil
}

// tenantKeys is the fresh key material minted for one workspace.
type tenantKeys struct {
	account nkeys.KeyPair
	signing nkeys.KeyPair
	user    nkeys.KeyPair

	accountPub string
	signingPub string
	userPub    string
}

// newTenantKeys generates an account pair, an account signing pair, and a
// user pair.
func newTenantKeys() (*tenantKeys, error) {
	account, err := nkeys.CreateAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to create account key: %w", err)
	}
	signing, err := nkeys.CreateAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to create signing key: %w", err)
	}
	user, err := nkeys.CreateUser()
	if err != nil {
		return nil, fmt.Errorf("failed to create user key: %w", err)
	}

	tk := &tenantKeys{account: account, signing: signing, user: user}
	if tk.accountPub, err = account.PublicKey(); err != nil {
		return nil, err
	}
	if tk.signingPub, err = signing.PublicKey(); err != nil {
		return nil, err
	}
	if tk.userPub, err = user.PublicKey(); err != nil {
		return nil, err
	}
	return tk, nil
}

func seedString(kp nkeys.KeyPair) (string, error) {
	seed, err := kp.Seed()
	if err != nil {
		return "", err
	}
	return string(seed), nil
}
