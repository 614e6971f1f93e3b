// Package auth implements the gateway's three request-auth modes (spec
// §6): the shared proxy key, a proxy key paired with a caller-supplied
// refresh token (a synthetic per-caller credential), and gateway-issued
// "kg-" managed API keys. Managed keys are cached in a W-TinyLFU cache so
// the hot path avoids a store round trip on every request.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/credpool"
	"github.com/tbuijibing/KiroGate/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second
	cacheMaxLen = 10_000
)

// Authenticator implements the three auth modes against the configured
// shared key, the credential pool (for mode 2's synthetic credentials),
// and the API key store (for mode 3).
type Authenticator struct {
	proxyAPIKey string
	keys        storage.APIKeyStore
	pool        *credpool.Pool
	cache       *otter.Cache[string, *gateway.APIKey]
}

// New constructs an Authenticator. proxyAPIKey is the spec's PROXY_API_KEY;
// an empty value disables auth modes 1 and 2.
func New(proxyAPIKey string, keys storage.APIKeyStore, pool *credpool.Pool) (*Authenticator, error) {
	c, err := otter.New[string, *gateway.APIKey](&otter.Options[string, *gateway.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &Authenticator{proxyAPIKey: proxyAPIKey, keys: keys, pool: pool, cache: c}, nil
}

// rawCredential extracts the caller-supplied key from whichever header the
// dialect uses (spec §6: `x-api-key` for Anthropic, `Authorization: Bearer`
// for both).
func rawCredential(r *http.Request) string {
	if v := r.Header.Get("x-api-key"); v != "" {
		return v
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// Authenticate dispatches to one of the three auth modes (spec §6) and
// returns the resulting Identity.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
	raw := rawCredential(r)
	if raw == "" {
		return nil, gateway.ErrUnauthorized
	}

	if strings.HasPrefix(raw, gateway.APIKeyPrefix) {
		return a.authenticateManagedKey(ctx, raw)
	}

	if a.proxyAPIKey == "" {
		return nil, gateway.ErrUnauthorized
	}

	if key, refreshToken, ok := strings.Cut(raw, ":"); ok {
		if !constantTimeEqual(key, a.proxyAPIKey) || refreshToken == "" {
			return nil, gateway.ErrUnauthorized
		}
		credID := a.materializeSyntheticCredential(refreshToken)
		return &gateway.Identity{
			Mode:                            gateway.AuthModeProxyKeyWithRefresh,
			ManagedKeyID:                    credID,
			SyntheticCredentialRefreshToken: refreshToken,
		}, nil
	}

	if !constantTimeEqual(raw, a.proxyAPIKey) {
		return nil, gateway.ErrUnauthorized
	}
	return &gateway.Identity{Mode: gateway.AuthModeProxyKey}, nil
}

// materializeSyntheticCredential returns the deterministic pool id for
// refreshToken, adding a fresh synthetic Credential on first sighting
// (spec §6 auth mode 2: "found or materialized").
func (a *Authenticator) materializeSyntheticCredential(refreshToken string) string {
	id := syntheticCredentialID(refreshToken)
	if _, ok := a.pool.Get(id); ok {
		return id
	}
	a.pool.Add(&gateway.Credential{
		ID:           id,
		RefreshToken: refreshToken,
		HealthScore:  100,
		Available:    true,
		CreatedAt:    time.Now().UTC(),
	})
	a.pool.MarkNeedsRefresh(id)
	return id
}

func syntheticCredentialID(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return "synthetic:" + hex.EncodeToString(sum[:])[:24]
}

func (a *Authenticator) authenticateManagedKey(ctx context.Context, raw string) (*gateway.Identity, error) {
	hash := gateway.HashKey(raw)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		return a.identityForKey(key)
	}

	key, err := a.keys.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrUnauthorized
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, gateway.ErrUnauthorized
	}

	a.cache.Set(hash, key)

	go func() {
		touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.keys.TouchKeyUsed(touchCtx, key.ID) //nolint:errcheck
	}()

	return a.identityForKey(key)
}

func (a *Authenticator) identityForKey(key *gateway.APIKey) (*gateway.Identity, error) {
	if !key.Enabled {
		return nil, gateway.ErrForbidden
	}
	return &gateway.Identity{Mode: gateway.AuthModeManagedKey, ManagedKeyID: key.ID, ManagedKey: key}, nil
}

// InvalidateKey evicts a managed key from the auth cache, for admin
// operations (disable, delete, rotate) that must take effect immediately
// rather than waiting out cacheTTL.
func (a *Authenticator) InvalidateKey(hash string) {
	a.cache.Invalidate(hash)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AdminAuthenticator checks the admin bearer password (spec SPEC_FULL §4.8:
// `Authorization: Bearer <ADMIN_PASSWORD>`, constant-time compare).
type AdminAuthenticator struct {
	password string
}

// NewAdminAuthenticator constructs an AdminAuthenticator for password. An
// empty password means the admin surface is unreachable (constantTimeEqual
// never matches an empty caller-supplied value either, since raw must be
// non-empty to reach here).
func NewAdminAuthenticator(password string) *AdminAuthenticator {
	return &AdminAuthenticator{password: password}
}

// Authenticate checks the request's Authorization header against the
// configured admin password.
func (a *AdminAuthenticator) Authenticate(r *http.Request) bool {
	if a.password == "" {
		return false
	}
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return false
	}
	return constantTimeEqual(raw, a.password)
}
