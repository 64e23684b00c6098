package gossip

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// AuthError marks a missing or invalid message signature. It is always
// handled by dropping the message, but counted separately from transport
// noise: a burst of these is a potential attack signal.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "gossip: auth: " + e.Reason
}

// Authenticator signs and verifies gossip payloads with HMAC-SHA256.
//
// Construction is an explicit choice between NewSigned and
// NewExplicitlyUnsigned. There is no state in which authentication is
// silently disabled because a key happened to be missing.
type Authenticator struct {
	key    []byte
	signed bool
}

// NewSigned creates an authenticator with a keyed MAC. An empty key is a
// configuration error, not a downgrade to unsigned operation.
func NewSigned(key []byte) (*Authenticator, error) {
	if len(key) == 0 {
		return nil, errors.New("gossip: signing key must not be empty")
	}
	return &Authenticator{key: append([]byte(nil), key...), signed: true}, nil
}

// NewExplicitlyUnsigned creates an authenticator that neither signs nor
// verifies. Reaching this mode requires asking for it by name.
func NewExplicitlyUnsigned() *Authenticator {
	return &Authenticator{}
}

// Signed reports whether this authenticator carries a key.
func (a *Authenticator) Signed() bool {
	return a.signed
}

// Sign returns the MAC over payload, or nil in unsigned mode.
func (a *Authenticator) Sign(payload []byte) []byte {
	if !a.signed {
		return nil
	}
	mac := hmac.New(sha256.New, a.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Verify checks sig against payload. In signed mode a missing signature is
// rejected; in explicitly unsigned mode everything passes.
func (a *Authenticator) Verify(payload, sig []byte) error {
	if !a.signed {
		return nil
	}
	if len(sig) == 0 {
		return &AuthError{Reason: "missing signature"}
	}
	if !hmac.Equal(sig, a.Sign(payload)) {
		return &AuthError{Reason: "signature mismatch"}
	}
	return nil
}
