// Package app wires the credential pool, upstream client, compressor, and
// fault layer together into the single request-orchestration path shared by
// the OpenAI and Anthropic handlers (spec §2, §4).
package app

import (
	"context"
	"errors"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/circuitbreaker"
	"github.com/tbuijibing/KiroGate/internal/classify"
	"github.com/tbuijibing/KiroGate/internal/compressor"
	"github.com/tbuijibing/KiroGate/internal/credpool"
	"github.com/tbuijibing/KiroGate/internal/eventstream"
	"github.com/tbuijibing/KiroGate/internal/format"
	"github.com/tbuijibing/KiroGate/internal/upstream"
)

// Service is the gateway's request-orchestration core: it owns no HTTP
// concerns, only the acquire -> compress -> build -> stream -> settle
// pipeline that both dialect handlers drive identically (spec §2.1).
type Service struct {
	Pool       *credpool.Pool
	Upstream   *upstream.Client
	Compressor *compressor.Compressor
	Breakers   *circuitbreaker.Registry
	ConvIDs    *format.ConversationIDs
	Tools      *format.ToolCache
}

// NewService constructs a Service from its already-built collaborators.
func NewService(pool *credpool.Pool, up *upstream.Client, comp *compressor.Compressor, breakers *circuitbreaker.Registry) *Service {
	return &Service{
		Pool:       pool,
		Upstream:   up,
		Compressor: comp,
		Breakers:   breakers,
		ConvIDs:    format.NewConversationIDs(),
		Tools:      format.NewToolCache(),
	}
}

// Attempt is one acquired credential bound to its circuit breaker, returned
// to the caller so it can drive upstream.Stream directly and then report
// the outcome back via Settle.
type Attempt struct {
	Credential *gateway.Credential
	breaker    *circuitbreaker.Breaker
	started    time.Time
}

// Acquire picks an eligible, non-tripped credential for model (spec §4.1,
// §4.7). Pool exhaustion and an open circuit are both reported as plain
// errors; the pool's own zero-downtime fallback already does cross-
// credential substitution, so a single acquisition attempt is sufficient.
func (s *Service) Acquire(model string) (*Attempt, error) {
	cred := s.Pool.Acquire(model)
	if cred == nil {
		return nil, gateway.ErrNoCredential
	}
	b := s.Breakers.GetOrCreate(cred.ID)
	if !b.CanExecute() {
		s.Pool.Release(cred.ID)
		return nil, gateway.ErrCircuitOpen
	}
	return &Attempt{Credential: cred, breaker: b, started: time.Now()}, nil
}

// AcquirePinned acquires a specific credential by id rather than letting
// the scheduler choose one (spec §6 auth mode 2: synthetic credentials
// tied to a caller's own refresh token).
func (s *Service) AcquirePinned(id, model string) (*Attempt, error) {
	cred := s.Pool.AcquirePinned(id, model)
	if cred == nil {
		return nil, gateway.ErrNoCredential
	}
	b := s.Breakers.GetOrCreate(cred.ID)
	if !b.CanExecute() {
		s.Pool.Release(cred.ID)
		return nil, gateway.ErrCircuitOpen
	}
	return &Attempt{Credential: cred, breaker: b, started: time.Now()}, nil
}

// Dispatch compresses payload's history if warranted, renders the upstream
// wire request, and starts streaming it on behalf of a.Credential (spec
// §4.2, §4.3, §4.6). The caller drains the returned StreamResult's Events
// channel to completion and then calls Settle.
func (s *Service) Dispatch(ctx context.Context, a *Attempt, payload *gateway.CanonicalPayload) (*upstream.StreamResult, error) {
	if s.Compressor != nil {
		payload.History = s.Compressor.Compress(ctx, payload.ConversationID, payload.History)
	}
	body, err := format.BuildUpstreamRequest(payload)
	if err != nil {
		return nil, err
	}
	thinkingEnabled := payload.Inference.Thinking != gateway.ThinkingDisabled
	return s.Upstream.Stream(ctx, a.Credential, payload.Inference.Model, body, thinkingEnabled), nil
}

// Settle records the attempt's outcome against both the credential pool's
// health bookkeeping and the circuit breaker, then releases the credential
// back to the pool (spec §4.1 Invariant: every Acquire is matched by
// exactly one Release; §4.7 breaker transitions).
func (s *Service) Settle(a *Attempt, usage gateway.Usage, err error) {
	defer s.Pool.Release(a.Credential.ID)

	if err == nil {
		a.breaker.RecordSuccess()
		s.Pool.RecordSuccess(a.Credential.ID, usage.TotalTokens(), time.Since(a.started))
		return
	}

	kind := classifyUpstreamErr(err)
	if kind != classify.Client {
		a.breaker.RecordFailure()
	}
	s.Pool.RecordError(a.Credential.ID, credpool.ErrorKindFromClassify(kind))
}

// classifyUpstreamErr maps the sentinel errors internal/upstream wraps its
// failures in down to a classify.Kind, since the client surfaces outcomes
// as errors rather than raw status codes once a stream has started.
func classifyUpstreamErr(err error) classify.Kind {
	switch {
	case errors.Is(err, gateway.ErrQuotaExceeded):
		return classify.Quota
	case errors.Is(err, gateway.ErrUnauthorized):
		return classify.Auth
	case errors.Is(err, gateway.ErrBadRequest):
		return classify.Client
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return classify.Network
	case errors.Is(err, gateway.ErrUpstreamError):
		return classify.Server
	default:
		return classify.Network
	}
}

// Accumulate drains events into a fresh format.Accumulator, for the
// non-streaming response path where the handler needs the whole message
// before it can reply.
func Accumulate(events <-chan eventstream.Event) *format.Accumulator {
	acc := format.NewAccumulator()
	for ev := range events {
		acc.Apply(ev)
	}
	return acc
}
