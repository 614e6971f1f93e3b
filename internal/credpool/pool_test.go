package credpool

import (
	"testing"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

func newTestCredential(id string) *gateway.Credential {
	return &gateway.Credential{
		ID:          id,
		HealthScore: 100,
		ExpiresAt:   time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	}
}

func TestAcquireSingleCredentialFastPath(t *testing.T) {
	t.Parallel()

	p := NewPool()
	cred := newTestCredential("c1")
	cred.CooldownUntil = time.Now().Add(time.Minute)
	p.Add(cred)

	got := p.Acquire("")
	if got == nil {
		t.Fatal("expected a credential, got nil")
	}
	if got.ID != "c1" {
		t.Fatalf("got %s, want c1", got.ID)
	}
	if !got.CooldownUntil.IsZero() {
		t.Fatal("expected single-credential fast path to clear cooldown")
	}
}

func TestAcquireExcludesDisabledAndExhausted(t *testing.T) {
	t.Parallel()

	p := NewPool()
	disabled := newTestCredential("disabled")
	disabled.Disabled = true
	p.Add(disabled)
	exhausted := newTestCredential("exhausted")
	exhausted.QuotaExhausted = true
	p.Add(exhausted)
	good := newTestCredential("good")
	p.Add(good)

	got := p.Acquire("")
	if got == nil || got.ID != "good" {
		t.Fatalf("got %+v, want good", got)
	}
}

func TestAcquireBlocksOpusForFreeTier(t *testing.T) {
	t.Parallel()

	p := NewPool()
	free := newTestCredential("free")
	free.SubscriptionTier = "free"
	p.Add(free)

	got := p.Acquire("claude-opus-4-5")
	if got != nil {
		t.Fatalf("expected no eligible credential for opus on free tier, got %+v", got)
	}
}

// TestCooldownEscalation exercises scenario S3: five consecutive "other"
// errors should arm a cooldown, and the cooldown elapsing should leave the
// error counter unchanged.
func TestCooldownEscalation(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.cooldown = 10 * time.Millisecond // shrink for the test
	cred := newTestCredential("c1")
	p.Add(cred)
	other := newTestCredential("c2")
	p.Add(other)

	for i := 0; i < DefaultConsecutiveErrorThreshold; i++ {
		p.RecordError("c1", ErrorOther)
	}

	snap, _ := p.Get("c1")
	if snap.ConsecutiveErrors != DefaultConsecutiveErrorThreshold {
		t.Fatalf("consecutive errors = %d, want %d", snap.ConsecutiveErrors, DefaultConsecutiveErrorThreshold)
	}
	if snap.CooldownUntil.Before(time.Now()) {
		t.Fatal("expected cooldown to be armed")
	}

	got := p.Acquire("")
	if got == nil || got.ID != "c2" {
		t.Fatalf("expected fallback to c2 while c1 cools down, got %+v", got)
	}

	time.Sleep(20 * time.Millisecond)
	snap, _ = p.Get("c1")
	if !snap.CooldownUntil.Before(time.Now()) {
		t.Fatal("expected cooldown to have elapsed")
	}
	if snap.ConsecutiveErrors != DefaultConsecutiveErrorThreshold {
		t.Fatal("cooldown elapsing must not reset the error count on its own")
	}

	// S3: once the cooldown has elapsed, c1 is eligible again even though
	// its error count is still at the threshold -- acquiring repeatedly
	// from a two-credential pool must eventually select it. Five errors have
	// driven c1's health score to 0, so the Smart policy would always rank
	// c2 (health 100) above it; Priority picks the first eligible credential
	// in insertion order, which isolates eligibility.
	p.SetPolicy(PolicyPriority)
	p.Release("c2")
	sawC1 := false
	for i := 0; i < 20; i++ {
		got = p.Acquire("")
		if got == nil {
			t.Fatal("expected a credential after cooldown elapsed")
		}
		if got.ID == "c1" {
			sawC1 = true
		}
		p.Release(got.ID)
	}
	if !sawC1 {
		t.Fatal("expected c1 to be eligible again once its cooldown elapsed")
	}
}

func TestRecordErrorNetworkDoesNotIncrementCounter(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.Add(newTestCredential("c1"))
	for i := 0; i < 10; i++ {
		p.RecordError("c1", ErrorNetwork)
	}
	snap, _ := p.Get("c1")
	if snap.Errors != 0 || snap.ConsecutiveErrors != 0 {
		t.Fatalf("network errors must not persist: %+v", snap)
	}
}

func TestRecordErrorBannedDisablesPermanently(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.Add(newTestCredential("c1"))
	p.RecordError("c1", ErrorBanned)

	snap, _ := p.Get("c1")
	if !snap.Disabled {
		t.Fatal("expected banned credential to be disabled")
	}
}

func TestHealthScoreClampedAndRecovers(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.Add(newTestCredential("c1"))
	for i := 0; i < 10; i++ {
		p.RecordError("c1", ErrorOther)
	}
	snap, _ := p.Get("c1")
	if snap.HealthScore < 0 {
		t.Fatalf("health score must clamp at 0, got %d", snap.HealthScore)
	}

	p.RecordSuccess("c1", 10, 100*time.Millisecond)
	after, _ := p.Get("c1")
	if after.HealthScore != snap.HealthScore+10 {
		t.Fatalf("expected health recovery of 10, got %d -> %d", snap.HealthScore, after.HealthScore)
	}
}

func TestSelfHealRecoversWhenAllUnavailable(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.Add(newTestCredential("c1"))
	p.Add(newTestCredential("c2"))
	for _, id := range []string{"c1", "c2"} {
		for i := 0; i < DefaultConsecutiveErrorThreshold; i++ {
			p.RecordError(id, ErrorOther)
		}
	}

	p.SelfHeal()

	snap, _ := p.Get("c1")
	if snap.ConsecutiveErrors >= DefaultConsecutiveErrorThreshold {
		t.Fatalf("expected self-heal to halve error counts, got %d", snap.ConsecutiveErrors)
	}
	if snap.HealthScore < 50 {
		t.Fatalf("expected self-heal to raise health to >= 50, got %d", snap.HealthScore)
	}
}

func TestQuotaRecoveryOnRefresh(t *testing.T) {
	t.Parallel()

	p := NewPool()
	cred := newTestCredential("c1")
	cred.QuotaExhausted = true
	p.Add(cred)

	p.ApplyRefresh("c1", "new-token", time.Now().Add(time.Hour), true)

	snap, _ := p.Get("c1")
	if snap.QuotaExhausted {
		t.Fatal("expected quota-exhausted flag to clear after refresh reports remaining quota")
	}
}

func TestAcquireReleaseBalance(t *testing.T) {
	t.Parallel()

	p := NewPool()
	p.Add(newTestCredential("c1"))

	const n = 20
	got := make([]*gateway.Credential, 0, n)
	for i := 0; i < n; i++ {
		c := p.Acquire("")
		if c == nil {
			t.Fatal("expected a credential")
		}
		got = append(got, c)
	}
	snap, _ := p.Get("c1")
	if snap.Inflight != n {
		t.Fatalf("inflight = %d, want %d", snap.Inflight, n)
	}
	for range got {
		p.Release("c1")
	}
	snap, _ = p.Get("c1")
	if snap.Inflight != 0 {
		t.Fatalf("inflight after release = %d, want 0", snap.Inflight)
	}
}

func TestZeroDowntimeFallbackNeverNilForNonEmptyPool(t *testing.T) {
	t.Parallel()

	p := NewPool()
	c := newTestCredential("c1")
	c.CooldownUntil = time.Now().Add(time.Hour)
	c.ConsecutiveErrors = DefaultConsecutiveErrorThreshold
	p.Add(c)

	got := p.Acquire("")
	if got == nil {
		t.Fatal("expected zero-downtime fallback to return a credential")
	}
}

func TestAcquireEmptyPoolReturnsNil(t *testing.T) {
	t.Parallel()

	p := NewPool()
	if got := p.Acquire(""); got != nil {
		t.Fatalf("expected nil for empty pool, got %+v", got)
	}
}
