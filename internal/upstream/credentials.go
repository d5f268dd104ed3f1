package upstream

import (
	"context"
	"errors"
)

// ErrNoCredentials is returned when no upstream credential is configured
var ErrNoCredentials = errors.New("no upstream credentials configured")

// Credentials supplies the secret used to authenticate upstream connections.
// Minting short-lived tokens happens outside this service; implementations
// only hand out what they hold.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// StaticKey is a long-lived API key read from configuration
type StaticKey string

// Token returns the key
func (k StaticKey) Token(ctx context.Context) (string, error) {
	if k == "" {
		return "", ErrNoCredentials
	}
	return string(k), nil
}

// Check reports whether creds can produce a token. It backs the readiness probe.
func Check(ctx context.Context, creds Credentials) (bool, error) {
	if creds == nil {
		return false, ErrNoCredentials
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}
