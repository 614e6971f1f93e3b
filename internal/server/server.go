// Package server wires the HTTP surface described in spec §6: the
// OpenAI/Anthropic-dialect client endpoints, the public health/metrics
// endpoints, and the admin-bearer-guarded credential/key/proxy-config CRUD.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbuijibing/KiroGate/internal/app"
	"github.com/tbuijibing/KiroGate/internal/auth"
	"github.com/tbuijibing/KiroGate/internal/circuitbreaker"
	"github.com/tbuijibing/KiroGate/internal/credpool"
	"github.com/tbuijibing/KiroGate/internal/ratelimit"
	"github.com/tbuijibing/KiroGate/internal/storage"
	"github.com/tbuijibing/KiroGate/internal/telemetry"
)

// Deps collects every collaborator the HTTP surface needs. Built once at
// startup in cmd/kirogate and handed to New.
type Deps struct {
	Auth        *auth.Authenticator
	AdminAuth   *auth.AdminAuthenticator
	Service     *app.Service
	Pool        *credpool.Pool
	Breakers    *circuitbreaker.Registry
	Store       storage.Store
	RateLimiter *ratelimit.Limiter
	Metrics     *telemetry.Metrics
	MetricsHandler http.Handler
	Tracer      trace.Tracer
	CORSOrigins []string
	Version     string
}

type server struct {
	deps Deps
}

// New builds the gateway's root http.Handler (spec §6 HTTP surface table).
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.securityHeaders)
	r.Use(s.cors)
	r.Use(s.logging)
	r.Use(s.metricsMiddleware)
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/health", s.handleHealth)
	if deps.MetricsHandler != nil {
		r.Get("/api/metrics", deps.MetricsHandler.ServeHTTP)
	}
	r.Get("/api/proxy/status", s.handleProxyStatus)
	r.Get("/api/proxy/health", s.handleProxyHealth)

	// Client-facing dialect endpoints (spec §6).
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/messages", s.handleMessages)
		r.Get("/v1/models", s.handleListModels)
	})

	// Admin surface (spec §6: credential CRUD, key CRUD, private
	// stats/config, all behind the admin bearer password).
	r.Route("/api/accounts", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/", s.handleListCredentials)
		r.Post("/", s.handleCreateCredential)
		r.Get("/{id}", s.handleGetCredential)
		r.Put("/{id}", s.handleUpdateCredential)
		r.Delete("/{id}", s.handleDeleteCredential)
		r.Post("/{id}/refresh", s.handleRefreshCredential)
		r.Post("/{id}/verify", s.handleVerifyCredential)
		r.Get("/{id}/usage", s.handleCredentialUsage)
	})

	r.Route("/api/keys", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/", s.handleListKeys)
		r.Post("/", s.handleCreateKey)
		r.Get("/{id}", s.handleGetKey)
		r.Put("/{id}", s.handleUpdateKey)
		r.Delete("/{id}", s.handleDeleteKey)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/api/proxy/stats", s.handleProxyStats)
		r.Get("/api/proxy/logs", s.handleProxyLogs)
		r.Get("/api/proxy/config", s.handleProxyConfig)
		r.Put("/api/proxy/config", s.handleUpdateProxyConfig)
		r.Get("/api/settings", s.handleGetSettings)
		r.Put("/api/settings", s.handleUpdateSettings)
	})

	return r
}
