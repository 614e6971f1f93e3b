package app

import (
	"testing"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/circuitbreaker"
	"github.com/tbuijibing/KiroGate/internal/credpool"
)

func newTestService() *Service {
	pool := credpool.NewPool()
	pool.Add(&gateway.Credential{
		ID:          "cred-1",
		ExpiresAt:   time.Now().Add(time.Hour),
		HealthScore: 100,
		Available:   true,
	})
	return &Service{
		Pool:     pool,
		Breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
	}
}

func TestAcquireSettleSuccess(t *testing.T) {
	s := newTestService()

	a, err := s.Acquire("claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	if a.Credential.ID != "cred-1" {
		t.Fatalf("acquired = %q", a.Credential.ID)
	}

	s.Settle(a, gateway.Usage{InputTokens: 10, OutputTokens: 5}, nil)

	cred, _ := s.Pool.Get("cred-1")
	if cred.Requests != 1 {
		t.Errorf("requests = %d, want 1", cred.Requests)
	}
	if cred.Inflight != 0 {
		t.Errorf("inflight = %d, want 0 after release", cred.Inflight)
	}
}

func TestAcquireNoCredential(t *testing.T) {
	s := &Service{Pool: credpool.NewPool(), Breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())}
	if _, err := s.Acquire("claude-sonnet-4-5"); err != gateway.ErrNoCredential {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
}

func TestAcquireCircuitOpen(t *testing.T) {
	s := newTestService()
	b := s.Breakers.GetOrCreate("cred-1")
	for i := 0; i < circuitbreaker.DefaultConfig().FailureThreshold; i++ {
		b.RecordFailure()
	}

	if _, err := s.Acquire("claude-sonnet-4-5"); err != gateway.ErrCircuitOpen {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	// Release on the circuit-open path must make the credential available
	// for a subsequent Acquire once the breaker resets.
	cred, _ := s.Pool.Get("cred-1")
	if cred.Inflight != 0 {
		t.Errorf("inflight = %d, want 0", cred.Inflight)
	}
}

func TestSettleFailureRecordsErrorAndTripsBreaker(t *testing.T) {
	s := newTestService()
	cfg := circuitbreaker.DefaultConfig()

	for i := 0; i < cfg.FailureThreshold; i++ {
		a, err := s.Acquire("claude-sonnet-4-5")
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		s.Settle(a, gateway.Usage{}, gateway.ErrUpstreamError)
	}

	if _, err := s.Acquire("claude-sonnet-4-5"); err != gateway.ErrCircuitOpen {
		t.Errorf("err after threshold failures = %v, want ErrCircuitOpen", err)
	}
}

func TestClassifyUpstreamErr(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{gateway.ErrQuotaExceeded, "quota"},
		{gateway.ErrUnauthorized, "auth"},
		{gateway.ErrBadRequest, "client"},
		{gateway.ErrUpstreamError, "server"},
	}
	for _, c := range cases {
		if got := classifyUpstreamErr(c.err).String(); got != c.want {
			t.Errorf("classifyUpstreamErr(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
