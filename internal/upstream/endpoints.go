package upstream

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// endpointDef is one of the two known upstream endpoints, region-templated
// (spec §4.3).
type endpointDef struct {
	tag         string
	urlTemplate string
}

var endpointDefs = []endpointDef{
	{tag: "primary", urlTemplate: "https://rts.%s.kiro-upstream.example/generateAssistantResponse"},
	{tag: "fips", urlTemplate: "https://rts-fips.%s.kiro-upstream.example/generateAssistantResponse"},
}

func (c *Client) endpointByTag(tag string) endpointDef {
	for _, d := range c.defs {
		if d.tag == tag {
			return d
		}
	}
	return c.defs[0]
}

func (d endpointDef) url(region string) string {
	return fmt.Sprintf(d.urlTemplate, region)
}

type endpointHealth struct {
	consecutiveErrors int
	lastErrorAt       time.Time
	successSamples    int
	failureSamples    int
	avgLatency        time.Duration
	latencySamples    int
}

// endpointRegistry tracks per-endpoint health for the failover ranking
// spec §4.3 describes: consecutive-error exclusion, success-rate
// comparison, and latency tie-break.
type endpointRegistry struct {
	mu     sync.Mutex
	health map[string]*endpointHealth
}

func newEndpointRegistry() *endpointRegistry {
	return &endpointRegistry{health: make(map[string]*endpointHealth)}
}

func (r *endpointRegistry) entry(tag string) *endpointHealth {
	h, ok := r.health[tag]
	if !ok {
		h = &endpointHealth{}
		r.health[tag] = h
	}
	return h
}

func (r *endpointRegistry) recordSuccess(tag string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.entry(tag)
	h.consecutiveErrors = 0
	h.successSamples++
	if h.latencySamples == 0 {
		h.avgLatency = latency
	} else {
		h.avgLatency = (h.avgLatency*time.Duration(h.latencySamples) + latency) / time.Duration(h.latencySamples+1)
	}
	h.latencySamples++
}

func (r *endpointRegistry) recordFailure(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.entry(tag)
	h.consecutiveErrors++
	h.lastErrorAt = time.Now()
	h.failureSamples++
}

// rank orders tags by spec §4.3's failover policy: endpoints with >=3
// consecutive errors within the last 30s go last; otherwise a >10%
// success-rate difference over >=5 samples ranks the higher rate first,
// else lower average latency goes first.
func (r *endpointRegistry) rank(tags []string, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ranked := append([]string(nil), tags...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := r.entry(ranked[i]), r.entry(ranked[j])
		aBad := a.consecutiveErrors >= 3 && now.Sub(a.lastErrorAt) < 30*time.Second
		bBad := b.consecutiveErrors >= 3 && now.Sub(b.lastErrorAt) < 30*time.Second
		if aBad != bBad {
			return !aBad
		}
		aTotal, bTotal := a.successSamples+a.failureSamples, b.successSamples+b.failureSamples
		if aTotal >= 5 && bTotal >= 5 {
			aRate := float64(a.successSamples) / float64(aTotal)
			bRate := float64(b.successSamples) / float64(bTotal)
			if diff := aRate - bRate; diff > 0.10 || diff < -0.10 {
				return aRate > bRate
			}
		}
		return a.avgLatency < b.avgLatency
	})
	return ranked
}
