package upstream

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

const (
	dnsFreshTTL = 5 * time.Minute
	dnsStaleTTL = 30 * time.Minute
)

type dnsEntry struct {
	ips        []string
	resolvedAt time.Time
}

// dnsCache layers the spec's two-tier freshness policy (fresh 5 min, stale
// fallback 30 min) on top of github.com/rs/dnscache's resolver, which only
// gives us an unconditional cache plus a manual Refresh/clear call (spec
// §4.3).
type dnsCache struct {
	resolver *dnscache.Resolver

	mu      sync.Mutex
	entries map[string]dnsEntry
}

func newDNSCache() *dnsCache {
	return &dnsCache{resolver: &dnscache.Resolver{}, entries: make(map[string]dnsEntry)}
}

func (d *dnsCache) lookup(ctx context.Context, host string) ([]string, error) {
	d.mu.Lock()
	entry, fresh := d.entries[host]
	d.mu.Unlock()

	if fresh && time.Since(entry.resolvedAt) < dnsFreshTTL {
		return entry.ips, nil
	}

	ips, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		if fresh && time.Since(entry.resolvedAt) < dnsStaleTTL {
			return entry.ips, nil
		}
		return nil, err
	}

	d.mu.Lock()
	d.entries[host] = dnsEntry{ips: ips, resolvedAt: time.Now()}
	d.mu.Unlock()
	return ips, nil
}

// dialContext builds an http.Transport DialContext that resolves through
// this cache before handing off to dialer, trying each returned address in
// turn.
func (d *dnsCache) dialContext(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		ips, err := d.lookup(ctx, host)
		if err != nil || len(ips) == 0 {
			return dialer.DialContext(ctx, network, addr)
		}
		var lastErr error
		for _, ip := range ips {
			conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if dialErr == nil {
				return conn, nil
			}
			lastErr = dialErr
		}
		return nil, lastErr
	}
}

// refreshLoop periodically refreshes the underlying resolver until ctx is
// done, matching the teacher's pattern of a background worker owning a
// ticker (internal/worker).
func (d *dnsCache) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(dnsFreshTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.resolver.Refresh(true)
		}
	}
}
