package testutil

import (
	"context"
	"net/http"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// FakeAuth always authenticates successfully with the configured mode.
type FakeAuth struct {
	Mode         gateway.AuthMode
	ManagedKeyID string
	ManagedKey   *gateway.APIKey
}

// Authenticate returns a fixed Identity regardless of the request.
func (a *FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.Identity, error) {
	return &gateway.Identity{
		Mode:         a.Mode,
		ManagedKeyID: a.ManagedKeyID,
		ManagedKey:   a.ManagedKey,
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	return nil, gateway.ErrUnauthorized
}
