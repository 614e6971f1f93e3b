// Package credpool implements the credential pool and scheduler (spec §4.1):
// selection policy, cooldown escalation, health-score bookkeeping, and the
// zero-downtime fallback that guarantees acquire never blocks the gateway
// dry except when the pool itself is empty.
package credpool

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// ErrorKind is the pool-level error category passed to RecordError (spec
// §4.1). It is coarser than classify.Kind, which the fault layer uses for
// HTTP-facing decisions; callers map classify.Kind down to this set.
type ErrorKind int

const (
	ErrorOther ErrorKind = iota
	ErrorNetwork
	ErrorQuota
	ErrorAuth
	ErrorBanned
)

// Policy selects which scheduling strategy Acquire uses.
type Policy int

const (
	// PolicySmart is the default: health-score driven with randomized
	// tie-break among near-top candidates.
	PolicySmart Policy = iota
	PolicyPriority
	PolicyBalanced
)

const (
	// DefaultConsecutiveErrorThreshold is the consecutive-error ceiling
	// past which a credential is excluded from scheduling (spec §4.1).
	DefaultConsecutiveErrorThreshold = 5
	// DefaultCooldown is applied when the consecutive-error threshold is
	// reached.
	DefaultCooldown = 60 * time.Second
	// slidingWindow is the recent-request window used by Balanced/Smart.
	slidingWindow = 5 * time.Minute
)

// opusClassModels lists model names that only paid tiers may serve (spec
// §4.1: "Free tier cannot serve Opus-class models").
var opusClassModels = map[string]bool{
	"claude-opus-4-5": true,
	"claude-opus-4-6": true,
}

// IsOpusClass reports whether model is restricted to non-Free tiers.
func IsOpusClass(model string) bool {
	return opusClassModels[model]
}

// schedState is the per-credential scheduling bookkeeping (spec §3
// Credential policy state) kept alongside the shared Credential record.
type schedState struct {
	requestWindow []time.Time
	lastUse       time.Time
	idleSince     time.Time
	avgLatency    time.Duration
	latencySamples int
	needsRefresh  bool
}

// Pool holds credentials and selects one per request by a pluggable
// policy (spec §4.1). All mutation happens under a single mutex; read-heavy
// diagnostics queries take a snapshot instead of holding the lock across
// formatting work (spec §5 Shared-resource policy).
type Pool struct {
	mu       sync.Mutex
	creds    map[string]*gateway.Credential
	order    []string // insertion order, for PolicyPriority
	sched    map[string]*schedState
	policy   Policy
	threshold int
	cooldown time.Duration
}

// NewPool creates an empty pool using the default Smart policy.
func NewPool() *Pool {
	return &Pool{
		creds:     make(map[string]*gateway.Credential),
		sched:     make(map[string]*schedState),
		policy:    PolicySmart,
		threshold: DefaultConsecutiveErrorThreshold,
		cooldown:  DefaultCooldown,
	}
}

// SetPolicy changes the active scheduling policy.
func (p *Pool) SetPolicy(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

// Add registers a credential with the pool, defaulting its bookkeeping
// fields if unset.
func (p *Pool) Add(cred *gateway.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cred.HealthScore == 0 && !cred.Disabled {
		cred.HealthScore = 100
	}
	cred.Available = !cred.Disabled
	if _, exists := p.creds[cred.ID]; !exists {
		p.order = append(p.order, cred.ID)
	}
	p.creds[cred.ID] = cred
	p.sched[cred.ID] = &schedState{idleSince: time.Now()}
}

// Remove deletes a credential from the pool (admin delete, spec §3).
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.creds, id)
	delete(p.sched, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Update applies patch to the credential identified by id under the pool
// mutex, returning false if no such credential exists.
func (p *Pool) Update(id string, patch func(*gateway.Credential)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return false
	}
	patch(c)
	return true
}

// Get returns a copy of the credential's current state, for read-only
// callers (e.g. admin API serialization).
func (p *Pool) Get(id string) (gateway.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return gateway.Credential{}, false
	}
	return *c, true
}

// Len returns the number of credentials currently in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Acquire selects a credential eligible to serve model (empty model means
// no model restriction applies) and marks it in-flight. It returns nil when
// the pool is empty, when every credential is disabled, or when the pool's
// only credential is disabled or is a free-tier credential asked for an
// Opus-class model (spec §4.1).
func (p *Pool) Acquire(model string) *gateway.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.creds) == 0 {
		return nil
	}

	// Fast path: a single-credential pool serves any model its tier allows,
	// clearing any cooldown to preserve zero-downtime behavior.
	if len(p.creds) == 1 {
		for id, c := range p.creds {
			if c.Disabled || (model != "" && IsOpusClass(model) && c.Tier() == "free") {
				return nil
			}
			c.CooldownUntil = time.Time{}
			p.markAcquiredLocked(id, c)
			return c
		}
	}

	now := time.Now()
	candidates := p.eligibleLocked(model, now)
	if len(candidates) > 0 {
		chosen := p.selectLocked(candidates, now)
		p.markAcquiredLocked(chosen.ID, chosen)
		return chosen
	}

	chosen := p.zeroDowntimeFallbackLocked(model, now)
	if chosen != nil {
		p.markAcquiredLocked(chosen.ID, chosen)
	}
	return chosen
}

// eligibleLocked returns credentials passing every availability gate in
// spec §4.1's Acquire contract. Caller holds p.mu.
func (p *Pool) eligibleLocked(model string, now time.Time) []*gateway.Credential {
	var out []*gateway.Credential
	for _, id := range p.order {
		c, ok := p.creds[id]
		if !ok {
			continue
		}
		if !credentialEligible(c, model, now) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// credentialEligible reports whether c passes every availability gate in
// spec §4.1's Acquire contract, shared by eligibleLocked (scheduler pool)
// and AcquirePinned (a single named credential, spec §6 auth mode 2).
//
// CooldownUntil is the sole time-gated exclusion: once it has passed, the
// credential is eligible again regardless of ConsecutiveErrors, matching
// spec §4.1 S3 ("after 60s, credential becomes available again with error
// count unchanged"). ConsecutiveErrors only decides whether a credential
// enters cooldown in the first place (RecordError) and is cleared by
// RecordSuccess or halved by SelfHeal; it is not re-checked here.
func credentialEligible(c *gateway.Credential, model string, now time.Time) bool {
	if c.Disabled || c.QuotaExhausted {
		return false
	}
	if now.Before(c.CooldownUntil) {
		return false
	}
	if model != "" && IsOpusClass(model) && c.Tier() == "free" {
		return false
	}
	return true
}

// AcquirePinned marks a single named credential in-flight instead of
// letting the scheduler choose one (spec §6 auth mode 2: a synthetic
// credential tied to one caller's refresh token must serve that caller's
// requests specifically, not be substituted by zero-downtime fallback).
// Returns nil if id is unknown or currently ineligible.
func (p *Pool) AcquirePinned(id, model string) *gateway.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok || !credentialEligible(c, model, time.Now()) {
		return nil
	}
	p.markAcquiredLocked(id, c)
	return c
}

// markAcquiredLocked bumps bookkeeping for a freshly acquired credential.
// Caller holds p.mu.
func (p *Pool) markAcquiredLocked(id string, c *gateway.Credential) {
	c.Inflight++
	c.Requests++
	st := p.sched[id]
	if st == nil {
		st = &schedState{}
		p.sched[id] = st
	}
	st.requestWindow = append(st.requestWindow, time.Now())
	st.lastUse = time.Now()
	st.idleSince = time.Time{}
}

// Release decrements the in-flight counter for id (spec §4.1, §5: release
// guaranteed on every exit path).
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.creds[id]
	if !ok {
		return
	}
	if c.Inflight > 0 {
		c.Inflight--
	}
	if c.Inflight == 0 {
		if st := p.sched[id]; st != nil {
			st.idleSince = time.Now()
		}
	}
}

// selectLocked applies the active policy to choose among candidates.
// Caller holds p.mu.
func (p *Pool) selectLocked(candidates []*gateway.Credential, now time.Time) *gateway.Credential {
	switch p.policy {
	case PolicyPriority:
		return candidates[0] // already in insertion order
	case PolicyBalanced:
		return p.selectBalancedLocked(candidates, now)
	default:
		return p.selectSmartLocked(candidates, now)
	}
}

func (p *Pool) selectBalancedLocked(candidates []*gateway.Credential, now time.Time) *gateway.Credential {
	best := candidates[0]
	bestScore := p.balancedScoreLocked(best, now)
	for _, c := range candidates[1:] {
		score := p.balancedScoreLocked(c, now)
		if score < bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// balancedScoreLocked computes inflight*1000 + recentRequestsIn5Min, lower
// is better (spec §4.1 Balanced policy).
func (p *Pool) balancedScoreLocked(c *gateway.Credential, now time.Time) int {
	return c.Inflight*1000 + p.recentRequestCountLocked(c.ID, now)
}

// recentRequestCountLocked counts requests in the trailing 5-minute window
// and prunes stale timestamps while it's there. Caller holds p.mu.
func (p *Pool) recentRequestCountLocked(id string, now time.Time) int {
	st := p.sched[id]
	if st == nil {
		return 0
	}
	cutoff := now.Add(-slidingWindow)
	kept := st.requestWindow[:0]
	for _, t := range st.requestWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.requestWindow = kept
	return len(kept)
}

// selectSmartLocked implements the default Smart policy: health score minus
// inflight pressure plus usage-deviation and latency bonuses, with a
// uniformly random tie-break among candidates within 15% of the top score
// (spec §4.1).
func (p *Pool) selectSmartLocked(candidates []*gateway.Credential, now time.Time) *gateway.Credential {
	type scored struct {
		cred  *gateway.Credential
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))

	var totalRecent, count int
	for _, c := range candidates {
		totalRecent += p.recentRequestCountLocked(c.ID, now)
		count++
	}
	avgRecent := 0.0
	if count > 0 {
		avgRecent = float64(totalRecent) / float64(count)
	}

	for _, c := range candidates {
		scoredList = append(scoredList, scored{cred: c, score: p.smartScoreLocked(c, now, avgRecent)})
	}

	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })
	top := scoredList[0].score
	threshold := top * 0.85
	var pool []*gateway.Credential
	for _, s := range scoredList {
		if s.score >= threshold {
			pool = append(pool, s.cred)
		} else {
			break
		}
	}
	if len(pool) == 1 {
		return pool[0]
	}
	return pool[rand.IntN(len(pool))]
}

// smartScoreLocked computes the Smart policy's composite score (spec
// §4.1): healthScore − 30·inflight + usage-deviation bonus (idle/loaded
// relative to the candidate average) + latency bonus − expiry penalty.
func (p *Pool) smartScoreLocked(c *gateway.Credential, now time.Time, avgRecent float64) float64 {
	score := float64(c.HealthScore) - 30*float64(c.Inflight)

	st := p.sched[c.ID]
	recent := p.recentRequestCountLocked(c.ID, now)
	if avgRecent > 0 {
		deviation := avgRecent - float64(recent)
		if deviation > 0 {
			bonus := deviation / avgRecent * 40
			score += min(bonus, 40)
		} else {
			score += max(deviation/avgRecent*40, -40)
		}
	} else if recent == 0 {
		score += 30
	}

	if st != nil {
		if c.Inflight == 0 && !st.idleSince.IsZero() {
			score += 30
			if now.Sub(st.idleSince) >= 30*time.Second {
				score += 20
			}
		}
		if st.latencySamples > 0 && st.avgLatency < 5*time.Second {
			score += 10
		}
	}

	if remaining := time.Until(c.ExpiresAt); remaining > 0 && remaining < 10*time.Minute {
		frac := float64(remaining) / float64(10*time.Minute)
		score -= 15 - frac*10
	}

	return score
}

// zeroDowntimeFallbackLocked is invoked when no candidate passes every
// availability gate. It degrades gracefully, returning nil only when every
// credential is disabled (spec §4.1): soonest-cooldown first, then
// fewest-errors, then any non-disabled credential. Caller holds p.mu.
func (p *Pool) zeroDowntimeFallbackLocked(model string, now time.Time) *gateway.Credential {
	var soonest *gateway.Credential
	for _, id := range p.order {
		c := p.creds[id]
		if c == nil || c.Disabled || c.QuotaExhausted {
			continue
		}
		if model != "" && IsOpusClass(model) && c.Tier() == "free" {
			continue
		}
		if soonest == nil || c.CooldownUntil.Before(soonest.CooldownUntil) {
			soonest = c
		}
	}
	if soonest != nil {
		if soonest.CooldownUntil.Sub(now) < 5*time.Second {
			soonest.CooldownUntil = time.Time{}
		}
		return soonest
	}

	var fewestErrors *gateway.Credential
	for _, id := range p.order {
		c := p.creds[id]
		if c == nil || c.Disabled {
			continue
		}
		if fewestErrors == nil || c.ConsecutiveErrors < fewestErrors.ConsecutiveErrors {
			fewestErrors = c
		}
	}
	if fewestErrors != nil {
		fewestErrors.ConsecutiveErrors /= 2
		return fewestErrors
	}

	for _, id := range p.order {
		c := p.creds[id]
		if c != nil && !c.Disabled {
			return c
		}
	}
	return nil
}
