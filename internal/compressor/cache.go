package compressor

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// l2MaxBytes bounds the L2 tier by total summary bytes rather than entry
// count (spec §4.6: "100 MiB byte budget"). narrativeSummary joins
// per-batch summaries across a long conversation's history (scenario S4),
// so a single entry can run well past 1 KiB -- a flat entry-count cap
// can't bound memory on its own.
const l2MaxBytes = 100 << 20

type l2Entry struct {
	summary   string
	expiresAt time.Time
}

// l2Cache is the compressor's second tier: an LRU of summaries with a
// per-entry TTL, weighed by summary byte length instead of a flat entry
// count (spec §4.6).
type l2Cache struct {
	cache *otter.Cache[string, l2Entry]
}

func newL2Cache() *l2Cache {
	c, err := otter.New[string, l2Entry](&otter.Options[string, l2Entry]{
		MaximumWeight: l2MaxBytes,
		Weigher: func(key string, value l2Entry) uint32 {
			return uint32(len(key) + len(value.summary))
		},
	})
	if err != nil {
		panic(err)
	}
	return &l2Cache{cache: c}
}

// Get returns the cached summary for key if present and unexpired.
func (l *l2Cache) Get(key string) (string, bool) {
	e, ok := l.cache.GetIfPresent(key)
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		l.cache.Invalidate(key)
		return "", false
	}
	return e.summary, true
}

// Set stores a summary with the given TTL.
func (l *l2Cache) Set(key, summary string, ttl time.Duration) {
	l.cache.Set(key, l2Entry{summary: summary, expiresAt: time.Now().Add(ttl)})
}
