package credpool

import (
	"time"

	"github.com/tbuijibing/KiroGate/internal/classify"
)

// ErrorKindFromClassify maps a classify.Kind (spec §4.7's 10-category HTTP
// error classifier) down to the pool's coarser 5-category ErrorKind (spec
// §4.1), so callers driving the upstream client can feed classifier output
// straight into RecordError without duplicating the mapping.
func ErrorKindFromClassify(k classify.Kind) ErrorKind {
	switch k {
	case classify.Banned:
		return ErrorBanned
	case classify.Quota:
		return ErrorQuota
	case classify.Auth:
		return ErrorAuth
	case classify.Network:
		return ErrorNetwork
	default:
		return ErrorOther
	}
}

// healthDecay maps an ErrorKind to the health-score penalty applied on
// RecordError (spec §4.1): banned 50, auth 40, quota 30, everything else
// (including network) 20.
func healthDecay(kind ErrorKind) int {
	switch kind {
	case ErrorBanned:
		return 50
	case ErrorAuth:
		return 40
	case ErrorQuota:
		return 30
	default:
		return 20
	}
}

// RecordSuccess records a successful call: recovers health score by 10
// (clamped to 100), resets the consecutive-error counter, and folds the
// observed latency into the credential's running average for the Smart
// policy's latency bonus (spec §4.1).
func (p *Pool) RecordSuccess(id string, tokens int, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return
	}
	c.ConsecutiveErrors = 0
	c.HealthScore = min(100, c.HealthScore+10)

	st := p.sched[id]
	if st == nil {
		st = &schedState{}
		p.sched[id] = st
	}
	if st.latencySamples == 0 {
		st.avgLatency = latency
	} else {
		st.avgLatency = (st.avgLatency*time.Duration(st.latencySamples) + latency) / time.Duration(st.latencySamples+1)
	}
	st.latencySamples++
}

// RecordError applies the spec §4.1 error-bookkeeping rules for kind:
//
//   - network errors never increment the persistent error counter.
//   - banned permanently disables the credential.
//   - quota sets QuotaExhausted.
//   - auth is expected to be followed by a refresh attempt by the caller
//     (MarkNeedsRefresh); RecordError itself only adjusts health/cooldown.
//
// Reaching the consecutive-error threshold schedules a cooldown.
func (p *Pool) RecordError(id string, kind ErrorKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return
	}

	c.HealthScore = max(0, c.HealthScore-healthDecay(kind))

	switch kind {
	case ErrorBanned:
		c.Disabled = true
		c.Available = false
		return
	case ErrorQuota:
		c.QuotaExhausted = true
	case ErrorNetwork:
		// Does not increment the persistent error count.
		return
	}

	c.Errors++
	c.ConsecutiveErrors++
	if c.ConsecutiveErrors >= p.threshold {
		c.CooldownUntil = time.Now().Add(p.cooldown)
	}
}

// MarkNeedsRefresh flags a credential as requiring refresh-token renewal
// before its next use (spec §4.1: "auth triggers refresh").
func (p *Pool) MarkNeedsRefresh(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.sched[id]; ok {
		st.needsRefresh = true
	}
}

// NeedsRefresh reports and clears the refresh flag for id.
func (p *Pool) NeedsRefresh(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sched[id]
	if !ok || !st.needsRefresh {
		return false
	}
	st.needsRefresh = false
	return true
}

// ApplyRefresh updates a credential's tokens after a successful refresh
// and rejoins it to the pool if it had been quota-exhausted (spec §4.1
// Quota recovery: "after a refresh returns remaining quota, a previously
// quota-exhausted credential rejoins the pool").
func (p *Pool) ApplyRefresh(id, accessToken string, expiresAt time.Time, remainingQuota bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return false
	}
	c.AccessToken = accessToken
	c.ExpiresAt = expiresAt
	if remainingQuota && c.QuotaExhausted {
		c.QuotaExhausted = false
	}
	return true
}

// SelfHeal runs the 5-minute recovery sweep (spec §4.1): if every
// credential is currently unavailable, halve error counts and bump health
// on error-disabled ones; if the pool is still hopeless after that, fully
// reset all cooldowns and error counts.
func (p *Pool) SelfHeal() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.anyAvailableLocked(now) {
		return
	}

	for _, c := range p.creds {
		if c.Disabled {
			continue
		}
		c.ConsecutiveErrors /= 2
		if c.HealthScore < 50 {
			c.HealthScore = 50
		}
	}

	if p.anyAvailableLocked(now) {
		return
	}

	for _, c := range p.creds {
		if c.Disabled {
			continue
		}
		c.CooldownUntil = time.Time{}
		c.ConsecutiveErrors = 0
	}
}

// anyAvailableLocked reports whether at least one non-disabled,
// non-quota-exhausted, non-cooldown credential exists. Caller holds p.mu.
func (p *Pool) anyAvailableLocked(now time.Time) bool {
	for _, c := range p.creds {
		if c.Disabled || c.QuotaExhausted {
			continue
		}
		if now.Before(c.CooldownUntil) {
			continue
		}
		return true
	}
	return false
}

// Snapshot is a read-only diagnostics view of one pooled credential.
type Snapshot struct {
	ID                string
	Tier              string
	HealthScore       int
	Inflight          int
	Requests          int64
	Errors            int64
	ConsecutiveErrors int
	Available         bool
	QuotaExhausted    bool
	Disabled          bool
	CooldownUntil     time.Time
}

// Diagnostics returns a point-in-time snapshot of every pooled credential,
// taken under the lock but formatted outside it (spec §5: "Read-heavy
// queries (diagnostics) may use a snapshot").
func (p *Pool) Diagnostics() []Snapshot {
	p.mu.Lock()
	now := time.Now()
	out := make([]Snapshot, 0, len(p.creds))
	for _, id := range p.order {
		c, ok := p.creds[id]
		if !ok {
			continue
		}
		out = append(out, Snapshot{
			ID:                c.ID,
			Tier:              c.Tier(),
			HealthScore:       c.HealthScore,
			Inflight:          c.Inflight,
			Requests:          c.Requests,
			Errors:            c.Errors,
			ConsecutiveErrors: c.ConsecutiveErrors,
			Available:         !c.Disabled && !c.QuotaExhausted && now.After(c.CooldownUntil),
			QuotaExhausted:    c.QuotaExhausted,
			Disabled:          c.Disabled,
			CooldownUntil:     c.CooldownUntil,
		})
	}
	p.mu.Unlock()
	return out
}
