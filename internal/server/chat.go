package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/app"
	"github.com/tbuijibing/KiroGate/internal/circuitbreaker"
	"github.com/tbuijibing/KiroGate/internal/compressor"
	"github.com/tbuijibing/KiroGate/internal/format"
	"github.com/tbuijibing/KiroGate/internal/sse"
	"github.com/tbuijibing/KiroGate/internal/upstream"
)

const maxRequestBody = 8 << 20 // 8 MiB, generous for long histories with images

// bodyPool reuses read buffers across requests to avoid a fresh
// allocation on every chat completion.
var bodyPool = sync.Pool{
	New: func() any { b := make([]byte, 0, 64<<10); return &b },
}

func decodeRequestBody(r *http.Request) ([]byte, error) {
	bp := bodyPool.Get().(*[]byte)
	defer bodyPool.Put(bp)
	lr := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, gateway.ErrBadRequest
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// handleChatCompletions implements POST /v1/chat/completions (spec §6):
// OpenAI request body in, OpenAI response or text/event-stream out.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := gateway.IdentityFromContext(ctx)

	body, err := decodeRequestBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("request body too large or unreadable"))
		return
	}

	payload, err := format.ParseOpenAIRequest(body, s.deps.Service.ConvIDs, s.deps.Service.Tools)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request: "+err.Error()))
		return
	}

	s.serveCompletion(w, r, identity, payload, dialectOpenAI)
}

// handleMessages implements POST /v1/messages (spec §6): Anthropic
// request body in, Anthropic response or named-event text/event-stream out.
func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := gateway.IdentityFromContext(ctx)

	body, err := decodeRequestBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("request body too large or unreadable"))
		return
	}

	payload, err := format.ParseAnthropicRequest(body, s.deps.Service.ConvIDs, s.deps.Service.Tools)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request: "+err.Error()))
		return
	}

	s.serveCompletion(w, r, identity, payload, dialectAnthropic)
}

type dialect int

const (
	dialectOpenAI dialect = iota
	dialectAnthropic
)

// serveCompletion is the shared acquire -> dispatch -> stream/accumulate ->
// settle pipeline both dialect handlers drive (spec §2.1). Model and
// credential allowlists from a managed key (auth mode 3) are enforced
// before acquiring a credential.
func (s *server) serveCompletion(w http.ResponseWriter, r *http.Request, identity *gateway.Identity, payload *gateway.CanonicalPayload, d dialect) {
	ctx := r.Context()
	model := format.NormalizeModel(payload.Inference.Model)
	payload.Inference.Model = model

	if !identity.AllowsModel(model) {
		writeJSON(w, http.StatusForbidden, errorResponse("model not allowed for this key"))
		return
	}

	attempt, err := s.acquireForIdentity(identity, model)
	if err != nil {
		s.writeCompletionError(w, ctx, err, d)
		return
	}

	if !identity.AllowsCredential(attempt.Credential.ID) {
		s.deps.Service.Pool.Release(attempt.Credential.ID)
		writeJSON(w, http.StatusForbidden, errorResponse("credential not allowed for this key"))
		return
	}

	if s.deps.RateLimiter != nil {
		if result := s.deps.RateLimiter.Allow(attempt.Credential.ID); !result.Allowed {
			s.deps.Service.Pool.Release(attempt.Credential.ID)
			if s.deps.Metrics != nil {
				s.deps.Metrics.RateLimitRejects.WithLabelValues(result.Reason).Inc()
			}
			writeRateLimitError(w, result)
			return
		}
	}

	var cacheStatsBefore compressor.Stats
	if comp := s.deps.Service.Compressor; comp != nil {
		cacheStatsBefore = comp.Stats()
	}

	result, err := s.deps.Service.Dispatch(ctx, attempt, payload)
	if err != nil {
		s.deps.Service.Settle(attempt, gateway.Usage{}, err)
		s.writeCompletionError(w, ctx, err, d)
		return
	}

	start := time.Now()
	var statusCode int
	var tokens int

	if payload.Inference.Stream {
		statusCode, tokens = s.streamCompletion(w, r, result, payload, d)
	} else {
		statusCode, tokens = s.bufferedCompletion(w, ctx, result, payload, d)
	}

	usage := result.Usage()
	s.deps.Service.Settle(attempt, usage, result.Err())
	s.recordRequestLog(r, d, model, attempt.Credential.ID, statusCode, tokens, time.Since(start), result.Err())
	s.recordCompletionMetrics(model, attempt.Credential.ID, usage, cacheStatsBefore)
}

// recordCompletionMetrics updates the Prometheus collectors this request's
// outcome affects: per-model token counters, the credential's circuit
// breaker gauge, and the compressor cache hit/miss delta observed across
// this single Dispatch call.
func (s *server) recordCompletionMetrics(model, credentialID string, usage gateway.Usage, before compressor.Stats) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	if usage.InputTokens > 0 {
		m.TokensProcessed.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.TokensProcessed.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
	}
	if b := s.deps.Breakers.Get(credentialID); b != nil {
		m.CircuitBreakerState.WithLabelValues(credentialID).Set(float64(b.State()))
		if b.State() == circuitbreaker.StateOpen {
			m.CircuitBreakerRejects.WithLabelValues(credentialID).Inc()
		}
	}
	if comp := s.deps.Service.Compressor; comp != nil {
		after := comp.Stats()
		if d := after.CacheHits - before.CacheHits; d > 0 {
			m.CacheHits.Add(float64(d))
		}
		if d := after.CacheMisses - before.CacheMisses; d > 0 {
			m.CacheMisses.Add(float64(d))
		}
	}
}

// acquireForIdentity routes to the pool's pinned or scheduled acquisition
// path depending on the caller's auth mode (spec §6 auth mode 2).
func (s *server) acquireForIdentity(identity *gateway.Identity, model string) (*app.Attempt, error) {
	if identity.Mode == gateway.AuthModeProxyKeyWithRefresh {
		return s.deps.Service.AcquirePinned(identity.ManagedKeyID, model)
	}
	return s.deps.Service.Acquire(model)
}

func (s *server) bufferedCompletion(w http.ResponseWriter, ctx context.Context, result *upstream.StreamResult, payload *gateway.CanonicalPayload, d dialect) (int, int) {
	acc := app.Accumulate(result.Events)
	if err := result.Err(); err != nil {
		s.writeCompletionError(w, ctx, err, d)
		return errorStatus(err), 0
	}
	acc.Finalize(result.Usage())

	id := "chatcmpl-" + payload.ConversationID
	var body []byte
	if d == dialectOpenAI {
		body = format.BuildOpenAIResponse(id, payload.Inference.Model, acc)
	} else {
		body = format.BuildAnthropicResponse(id, payload.Inference.Model, acc)
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return http.StatusOK, acc.Usage.TotalTokens()
}

func (s *server) streamCompletion(w http.ResponseWriter, r *http.Request, result *upstream.StreamResult, payload *gateway.CanonicalPayload, d dialect) (int, int) {
	sw := sse.NewWriter(w)
	id := "chatcmpl-" + payload.ConversationID

	var acc *format.Accumulator
	if d == dialectOpenAI {
		acc = sse.RunOpenAI(r.Context(), sw, id, payload.Inference.Model, result.Events)
	} else {
		acc = sse.RunAnthropic(r.Context(), sw, id, payload.Inference.Model, result.Events)
	}
	acc.Finalize(result.Usage())
	return http.StatusOK, acc.Usage.TotalTokens()
}

func (s *server) writeCompletionError(w http.ResponseWriter, ctx context.Context, err error, d dialect) {
	writeUpstreamError(w, ctx, err)
}

func (s *server) recordRequestLog(r *http.Request, d dialect, model, credID string, status, tokens int, dur time.Duration, err error) {
	entry := gateway.RequestLogEntry{
		Timestamp:    time.Now().UTC(),
		Method:       r.Method,
		Path:         r.URL.Path,
		StatusCode:   status,
		DurationMs:   dur.Milliseconds(),
		Model:        model,
		CredentialID: credID,
		TokenCount:   tokens,
	}
	if d == dialectAnthropic {
		entry.APIDialect = "anthropic"
	} else {
		entry.APIDialect = "openai"
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		entry.ErrorKind = err.Error()
	}
	if s.deps.Store != nil {
		if storeErr := s.deps.Store.AppendRequestLog(context.Background(), []gateway.RequestLogEntry{entry}); storeErr != nil {
			slog.Error("failed to append request log", "error", storeErr)
		}
	}
}
