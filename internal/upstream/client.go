// Package upstream is the dual-endpoint HTTP client for the upstream
// vendor service: endpoint ranking and failover, DNS caching, retry and
// backoff per status code, and wiring the response body into
// internal/eventstream's binary decoder (spec §4.3).
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/classify"
	"github.com/tbuijibing/KiroGate/internal/eventstream"
)

const (
	defaultRegion          = "us-east-1"
	retryBudgetPerEndpoint = 1
	retryBudgetGlobal      = 3
	contentLengthRetries   = 3
	requestTimeout         = 300 * time.Second
	streamInactivityTimeout = 120 * time.Second
	maxErrorBodyBytes      = 4096
)

var errStreamInactive = errors.New("upstream: stream read inactivity timeout")

// Client is the upstream vendor HTTP client. One Client is shared process-
// wide; per-request state lives entirely in Stream's return value.
type Client struct {
	http      *http.Client
	dns       *dnsCache
	endpoints *endpointRegistry
	region    string
	defs      []endpointDef

	// TruncateBody, when set, reduces a request body by truncation tier
	// (0, 1, 2) on a "content too long" 400, wired to internal/format's
	// three-tier truncation once that package composes this client.
	TruncateBody func(body []byte, tier int) ([]byte, bool)
	// SanitizeBody, when set, is invoked once on any other 400 before
	// giving up.
	SanitizeBody func(body []byte) ([]byte, bool)
}

// New creates a Client for the given default region (spec §6.1
// UPSTREAM_REGION), used when a credential doesn't specify its own.
func New(region string) *Client {
	if region == "" {
		region = defaultRegion
	}
	dns := newDNSCache()
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext:         dns.dialContext(dialer),
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http:      &http.Client{Transport: transport, Timeout: requestTimeout},
		dns:       dns,
		endpoints: newEndpointRegistry(),
		region:    region,
		defs:      endpointDefs,
	}
}

// withEndpoints overrides the client's known endpoint set, for tests that
// need to point at an httptest.Server instead of the real upstream.
func (c *Client) withEndpoints(defs []endpointDef) *Client {
	c.defs = defs
	return c
}

// StartDNSRefresh runs the DNS cache's periodic refresh until ctx is done.
// Intended to be launched as one of the background workers wired in
// cmd/kirogate/run.go.
func (c *Client) StartDNSRefresh(ctx context.Context) {
	c.dns.refreshLoop(ctx)
}

// StreamResult is the live handle to one in-flight upstream stream: Events
// delivers decoded events in arrival order (spec §5 ordering guarantees).
// Once the channel is closed, Err and Usage report the terminal outcome.
type StreamResult struct {
	Events <-chan eventstream.Event

	errVal   atomic.Value
	usageVal atomic.Value
}

// Err returns the terminal error, if any, after Events has closed.
func (r *StreamResult) Err() error {
	if v, ok := r.errVal.Load().(error); ok {
		return v
	}
	return nil
}

// Usage returns the final accumulated usage after Events has closed.
func (r *StreamResult) Usage() gateway.Usage {
	if v, ok := r.usageVal.Load().(gateway.Usage); ok {
		return v
	}
	return gateway.Usage{}
}

// Stream sends body to the upstream on behalf of cred and streams the
// decoded response. The returned StreamResult's Events channel is always
// closed, even on error; callers should drain it to completion.
func (c *Client) Stream(ctx context.Context, cred *gateway.Credential, model string, body []byte, thinkingEnabled bool) *StreamResult {
	result := &StreamResult{}
	ch := make(chan eventstream.Event, 32)
	result.Events = ch

	go func() {
		defer close(ch)
		usage, err := c.run(ctx, cred, body, thinkingEnabled, ch)
		if err != nil {
			result.errVal.Store(err)
		}
		result.usageVal.Store(usage)
	}()
	return result
}

func (c *Client) run(ctx context.Context, cred *gateway.Credential, body []byte, thinkingEnabled bool, ch chan<- eventstream.Event) (gateway.Usage, error) {
	region := cred.Region
	if region == "" {
		region = c.region
	}
	tags := make([]string, len(c.defs))
	for i, d := range c.defs {
		tags[i] = d.tag
	}
	ranked := c.endpoints.rank(tags, time.Now())

	currentBody := body
	truncationTier := 0
	sanitizeAttempted := false
	perEndpointRetries := make(map[string]int)
	globalAttempts := 0

	for idx := 0; idx < len(ranked); idx++ {
		tag := ranked[idx]
		def := c.endpointByTag(tag)

		for {
			if globalAttempts >= retryBudgetGlobal {
				return gateway.Usage{}, fmt.Errorf("upstream: %w: retry budget exhausted", gateway.ErrUpstreamError)
			}
			globalAttempts++

			resp, latency, err := c.attempt(ctx, def, region, cred, currentBody)
			if err != nil {
				c.endpoints.recordFailure(tag)
				break // try the next ranked endpoint
			}

			switch {
			case resp.StatusCode == http.StatusOK:
				c.endpoints.recordSuccess(tag, latency)
				return c.consume(ctx, resp.Body, thinkingEnabled, ch)

			case resp.StatusCode == http.StatusTooManyRequests:
				resp.Body.Close()
				c.endpoints.recordFailure(tag)
				if !sleepCtx(ctx, time.Second) {
					return gateway.Usage{}, ctx.Err()
				}
				// fall through to the trailing break: move on to the next
				// ranked endpoint (spec §4.3: "switch endpoint after 1s sleep").

			case resp.StatusCode == http.StatusPaymentRequired:
				resp.Body.Close()
				return gateway.Usage{}, gateway.ErrQuotaExceeded

			case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
				resp.Body.Close()
				return gateway.Usage{}, gateway.ErrUnauthorized

			case resp.StatusCode == http.StatusBadRequest:
				msg := readErrorBody(resp)
				resp.Body.Close()
				kind := classify.Classify(resp.StatusCode, msg)
				if kind == classify.ContentTooLong && c.TruncateBody != nil && truncationTier < contentLengthRetries {
					if newBody, ok := c.TruncateBody(currentBody, truncationTier); ok {
						currentBody = newBody
						truncationTier++
						continue
					}
				}
				if !sanitizeAttempted && c.SanitizeBody != nil {
					sanitizeAttempted = true
					if newBody, ok := c.SanitizeBody(currentBody); ok {
						currentBody = newBody
						continue
					}
				}
				return gateway.Usage{}, fmt.Errorf("upstream: %w: %s", gateway.ErrBadRequest, msg)

			case resp.StatusCode >= 500:
				resp.Body.Close()
				c.endpoints.recordFailure(tag)
				if perEndpointRetries[tag] >= retryBudgetPerEndpoint {
					break
				}
				perEndpointRetries[tag]++
				if !sleepCtx(ctx, backoffFor(perEndpointRetries[tag])) {
					return gateway.Usage{}, ctx.Err()
				}
				continue

			default:
				resp.Body.Close()
				return gateway.Usage{}, fmt.Errorf("upstream: %w: status %d", gateway.ErrUpstreamError, resp.StatusCode)
			}
			break
		}
	}

	return gateway.Usage{}, gateway.ErrUpstreamError
}

// attempt sends a single POST to one endpoint and returns the response
// along with observed latency for the endpoint-health tracker.
func (c *Client) attempt(ctx context.Context, def endpointDef, region string, cred *gateway.Credential, body []byte) (*http.Response, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, def.url(region), bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: build request: %w", err)
	}
	setAuthHeaders(req, cred)

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, latency, fmt.Errorf("upstream: %w: %w", gateway.ErrUpstreamError, err)
	}
	return resp, latency, nil
}

// consume reads the streaming body through the binary decoder, forwarding
// every decoded event to ch in arrival order, enforcing the stream
// inactivity timeout, and returning the terminal usage once the upstream
// signals end-of-stream.
func (c *Client) consume(ctx context.Context, body io.ReadCloser, thinkingEnabled bool, ch chan<- eventstream.Event) (gateway.Usage, error) {
	defer body.Close()
	dec := eventstream.NewDecoder(thinkingEnabled)
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			return gateway.Usage{}, ctx.Err()
		default:
		}

		n, err := readWithTimeout(body, buf, streamInactivityTimeout)
		if n > 0 {
			events, ferr := dec.Feed(buf[:n])
			if !forward(ctx, ch, events) {
				return gateway.Usage{}, ctx.Err()
			}
			if ferr != nil {
				return gateway.Usage{}, ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				events, usage := dec.Close()
				forward(ctx, ch, events)
				return usage, nil
			}
			return gateway.Usage{}, fmt.Errorf("upstream: read stream: %w", err)
		}
	}
}

func forward(ctx context.Context, ch chan<- eventstream.Event, events []eventstream.Event) bool {
	for _, e := range events {
		select {
		case ch <- e:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

type readResult struct {
	n   int
	err error
}

// readWithTimeout bounds a single Read call, returning errStreamInactive
// if no data (and no terminal error) arrives within d (spec §5 stream read
// inactivity timeout, default 120s).
func readWithTimeout(r io.Reader, buf []byte, d time.Duration) (int, error) {
	resultCh := make(chan readResult, 1)
	go func() {
		n, err := r.Read(buf)
		resultCh <- readResult{n, err}
	}()
	select {
	case res := <-resultCh:
		return res.n, res.err
	case <-time.After(d):
		return 0, errStreamInactive
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffFor implements the capped exponential backoff spec §4.3 defines
// for 5xx retries: 500ms * 2^n, capped at 2s.
func backoffFor(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func readErrorBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return string(b)
}
