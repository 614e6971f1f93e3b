package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/app"
	"github.com/tbuijibing/KiroGate/internal/circuitbreaker"
	"github.com/tbuijibing/KiroGate/internal/credpool"
	"github.com/tbuijibing/KiroGate/internal/format"
	"github.com/tbuijibing/KiroGate/internal/ratelimit"
)

func newChatTestServer(t *testing.T, limiter *ratelimit.Limiter) (*server, *credpool.Pool) {
	t.Helper()
	pool := credpool.NewPool()
	pool.Add(&gateway.Credential{ID: "c1"})

	svc := &app.Service{
		Pool:     pool,
		Breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		ConvIDs:  format.NewConversationIDs(),
		Tools:    format.NewToolCache(),
	}
	s := &server{deps: Deps{Service: svc, Pool: pool, RateLimiter: limiter}}
	return s, pool
}

// TestServeCompletionChargesPerCredentialRateLimitAfterAcquire is a
// regression test: the per-credential bucket must actually be consulted
// once a credential is known, not just the unkeyed global bucket from the
// outer rateLimit middleware.
func TestServeCompletionChargesPerCredentialRateLimitAfterAcquire(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewLimiter(60, ratelimit.DefaultBurstMultiplier)
	// Exhaust credential c1's bucket in advance so the post-acquire charge
	// in serveCompletion is the one that rejects the request.
	for {
		if res := limiter.Allow("c1"); !res.Allowed {
			break
		}
	}

	s, pool := newChatTestServer(t, limiter)
	identity := &gateway.Identity{Mode: gateway.AuthModeProxyKey}
	payload := &gateway.CanonicalPayload{Inference: gateway.InferenceConfig{Model: "claude-sonnet-4-5"}}

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	s.serveCompletion(rec, r, identity, payload, dialectOpenAI)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 once the per-credential bucket is exhausted, body=%s", rec.Code, rec.Body.String())
	}
	cred, ok := pool.Get("c1")
	if !ok {
		t.Fatal("credential missing from pool")
	}
	if cred.Inflight != 0 {
		t.Errorf("Inflight = %d, want the credential released back after the rate-limit rejection", cred.Inflight)
	}
}

func TestServeCompletionRejectsDisallowedModel(t *testing.T) {
	t.Parallel()

	s, _ := newChatTestServer(t, nil)
	identity := &gateway.Identity{
		Mode:       gateway.AuthModeManagedKey,
		ManagedKey: &gateway.APIKey{AllowedModels: []string{"claude-haiku-4-5"}},
	}
	payload := &gateway.CanonicalPayload{Inference: gateway.InferenceConfig{Model: "claude-sonnet-4-5"}}

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	s.serveCompletion(rec, r, identity, payload, dialectOpenAI)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for a model outside the managed key's allowlist", rec.Code)
	}
}

func TestServeCompletionRejectsDisallowedCredentialAndReleasesIt(t *testing.T) {
	t.Parallel()

	s, pool := newChatTestServer(t, nil)
	identity := &gateway.Identity{
		Mode:       gateway.AuthModeManagedKey,
		ManagedKey: &gateway.APIKey{AllowedCredentials: []string{"some-other-credential"}},
	}
	payload := &gateway.CanonicalPayload{Inference: gateway.InferenceConfig{Model: "claude-sonnet-4-5"}}

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	s.serveCompletion(rec, r, identity, payload, dialectOpenAI)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a credential outside the managed key's allowlist", rec.Code)
	}
	cred, _ := pool.Get("c1")
	if cred.Inflight != 0 {
		t.Errorf("Inflight = %d, want the credential released after the allowlist rejection", cred.Inflight)
	}
}
