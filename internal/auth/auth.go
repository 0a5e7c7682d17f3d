// Package auth handles the credential side of the socket handshake: encoding
// the bearer token for transport, the backup in-band authenticate message,
// and classifying abnormal closures as authentication vs. transient failures.
package auth

import (
	"context"
	"errors"
)

// Errors
var (
	ErrMissingIdentity   = errors.New("missing user or restaurant identity")
	ErrMissingCredential = errors.New("missing bearer credential")
)

// Credential is a fetched copy of the bearer token and its identity. The
// external token manager owns the canonical credential; this package never
// mutates one.
type Credential struct {
	Token        string // opaque bearer token
	UserID       string
	RestaurantID string
}

// Validate checks that the credential can open a connection.
func (c Credential) Validate() error {
	if c.UserID == "" || c.RestaurantID == "" {
		return ErrMissingIdentity
	}
	if c.Token == "" {
		return ErrMissingCredential
	}
	return nil
}

// TokenSource supplies the current credential. Implemented by the external
// token manager; fetched fresh on every connection attempt and poll.
type TokenSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// TokenSourceFunc is a function adapter for TokenSource.
type TokenSourceFunc func(ctx context.Context) (Credential, error)

func (f TokenSourceFunc) Credential(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// Static returns a TokenSource that always yields cred. Used by cmds and
// tests where no token manager is wired in.
func Static(cred Credential) TokenSource {
	return TokenSourceFunc(func(context.Context) (Credential, error) {
		return cred, nil
	})
}
