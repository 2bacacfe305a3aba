package secrets

import (
	"fmt"

	"github.com/nats-io/nkeys"
)

// Envelope headers carried on bus messages.
const (
	// HeaderHostXkey holds the caller's ephemeral public key on a request.
	HeaderHostXkey = "Host-Xkey"

	// HeaderServerResponseXkey holds the per-response server public key on
	// a reply.
	HeaderServerResponseXkey = "Server-Response-Xkey"
)

// envelope implements the curve25519 sealed-box protocol. The server key is
// long-lived; every response is sealed with a fresh ephemeral pair whose
// public half travels in the reply header.
type envelope struct {
	server    nkeys.KeyPair
	serverPub string
}

func newEnvelope(xkeySeed string) (*envelope, error) {
	kp, err := nkeys.FromCurveSeed([]byte(xkeySeed))
	if err != nil {
		return nil, fmt.Errorf("invalid xkey seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, err
	}
	return &envelope{server: kp, serverPub: pub}, nil
}

// PublicKey returns the long-lived server public key.
func (e *envelope) PublicKey() string { return e.serverPub }

// Open decrypts a request sealed by callerPub for the server key.
func (e *envelope) Open(sealed []byte, callerPub string) ([]byte, error) {
	return e.server.Open(sealed, callerPub)
}

// Seal encrypts a response to callerPub with a fresh ephemeral pair and
// returns the ciphertext together with the ephemeral public key.
func (e *envelope) Seal(plain []byte, callerPub string) (sealed []byte, responsePub string, err error) {
	eph, err := nkeys.CreateCurveKeys()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create response key: %w", err)
	}
	sealed, err = eph.Seal(plain, callerPub)
	if err != nil {
		return nil, "", err
	}
	responsePub, err = eph.PublicKey()
	if err != nil {
		return nil, "", err
	}
	return sealed, responsePub, nil
}
