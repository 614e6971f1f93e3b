// Package kirogate defines domain types and interfaces shared across the
// gateway. This package has no project imports — it is the dependency root.
package kirogate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// --- Credential (spec §3) ---

// Credential is one upstream account's refreshable token set plus the
// bookkeeping the scheduler and fault layer need to make routing decisions.
type Credential struct {
	ID                string `json:"id"`
	AccessToken       string `json:"-"`
	RefreshToken      string `json:"-"`
	Region            string `json:"region,omitempty"`
	ProfileID         string `json:"profile_id,omitempty"`
	MachineFingerprint string `json:"machine_fingerprint,omitempty"`
	SubscriptionTier  string `json:"subscription_tier,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`

	Requests          int64 `json:"requests"`
	Errors            int64 `json:"errors"`
	ConsecutiveErrors int   `json:"consecutive_errors"`

	HealthScore int  `json:"health_score"` // 0-100
	Inflight    int  `json:"inflight"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	Available     bool `json:"available"`
	QuotaExhausted bool `json:"quota_exhausted"`
	Disabled       bool `json:"disabled"`

	CreatedAt time.Time `json:"created_at"`
}

// Tier returns the credential's subscription tier, defaulting to "free"
// when unset. The upstream may omit this field on refresh; spec mandates
// treating unknown as Free for safety rather than risking an entitlement
// leak.
func (c *Credential) Tier() string {
	if c.SubscriptionTier == "" {
		return "free"
	}
	return c.SubscriptionTier
}

// TokenFreshFor reports whether the access token has at least d remaining
// before expiry.
func (c *Credential) TokenFreshFor(d time.Duration) bool {
	return time.Now().Add(d).Before(c.ExpiresAt)
}

// --- Canonical conversation payload (spec §3, §4.2) ---

// Role identifies the speaker of a canonical message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlockKind distinguishes canonical content block types.
type ContentBlockKind string

const (
	BlockText     ContentBlockKind = "text"
	BlockImage    ContentBlockKind = "image"
	BlockToolUse  ContentBlockKind = "tool_use"
	BlockToolResult ContentBlockKind = "tool_result"
)

// ContentBlock is one piece of a canonical message's content.
type ContentBlock struct {
	Kind ContentBlockKind

	Text string // BlockText

	ImageFormat string // BlockImage: "jpeg", "png", ...
	ImageBytes  []byte // BlockImage: decoded bytes

	ToolUseID   string          // BlockToolUse / BlockToolResult
	ToolName    string          // BlockToolUse
	ToolInput   json.RawMessage // BlockToolUse
	ToolResult  string          // BlockToolResult
	ToolIsError bool            // BlockToolResult
}

// Message is one canonical conversation turn.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// ToolSpec is a canonical tool definition offered to the upstream.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ThinkingMode controls whether and how the upstream should surface
// reasoning content.
type ThinkingMode string

const (
	ThinkingDisabled ThinkingMode = ""
	ThinkingEnabled  ThinkingMode = "enabled"
	ThinkingAdaptive ThinkingMode = "adaptive"
)

// InferenceConfig carries per-request generation parameters, including
// the derived thinking configuration (spec §4.2).
type InferenceConfig struct {
	Model         string
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	Stream        bool
	Thinking      ThinkingMode
	ThinkingBudget int
}

// CanonicalPayload is the format-agnostic representation of a conversation
// turn accepted by the upstream client (spec §3).
type CanonicalPayload struct {
	ConversationID     string
	CurrentUserMessage Message
	History            []Message
	Tools              []ToolSpec
	Inference          InferenceConfig
	ProfileRef         string
}

// --- Usage (spec §3, §4.3) ---

// Usage tracks token and credit accounting for a single request.
type Usage struct {
	InputTokens          int
	OutputTokens         int
	CacheReadTokens      int
	CacheWriteTokens     int
	ReasoningTokens      int
	Credits              float64
	ContextWindowExceeded bool
}

// TotalTokens returns input+output tokens.
func (u Usage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// --- API keys & identity (spec §6) ---

// APIKeyPrefix is the prefix for gateway-issued proxy API keys.
const APIKeyPrefix = "kg-"

// APIKey is a proxy API key (auth mode 3, spec §6), stored hashed at rest.
type APIKey struct {
	ID              string     `json:"id"`
	KeyHash         string     `json:"-"`
	KeyPrefix       string     `json:"key_prefix"`
	Name            string     `json:"name,omitempty"`
	AllowedCredentials []string `json:"allowed_credentials,omitempty"`
	AllowedModels   []string   `json:"allowed_models,omitempty"`
	Enabled         bool       `json:"enabled"`
	Requests        int64      `json:"requests"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// AuthMode identifies which of the three auth schemes (spec §6) a request
// was authenticated with.
type AuthMode int

const (
	AuthModeProxyKey AuthMode = iota
	AuthModeProxyKeyWithRefresh
	AuthModeManagedKey
)

// Identity is the authenticated caller context attached to the request
// context by the auth middleware.
type Identity struct {
	Mode             AuthMode
	ManagedKeyID     string
	ManagedKey       *APIKey // set when Mode == AuthModeManagedKey, for allowlist checks
	SyntheticCredentialRefreshToken string
}

// AllowsModel reports whether identity's managed key restricts model
// access and, if so, whether model is on the allowlist. Modes 1 and 2
// (shared proxy key) are never restricted.
func (id *Identity) AllowsModel(model string) bool {
	if id == nil || id.ManagedKey == nil || len(id.ManagedKey.AllowedModels) == 0 {
		return true
	}
	for _, m := range id.ManagedKey.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// AllowsCredential reports whether identity's managed key restricts which
// credentials it may use and, if so, whether credentialID is allowed.
func (id *Identity) AllowsCredential(credentialID string) bool {
	if id == nil || id.ManagedKey == nil || len(id.ManagedKey.AllowedCredentials) == 0 {
		return true
	}
	for _, c := range id.ManagedKey.AllowedCredentials {
		if c == credentialID {
			return true
		}
	}
	return false
}

// --- Request log (spec §3) ---

// RequestLogEntry records one completed request for the admin log surface.
type RequestLogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	StatusCode   int       `json:"status_code"`
	DurationMs   int64     `json:"duration_ms"`
	Model        string    `json:"model,omitempty"`
	APIDialect   string    `json:"api_dialect,omitempty"`
	CredentialID string    `json:"credential_id,omitempty"`
	TokenCount   int       `json:"token_count,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
}

// --- Sentinel errors ---

// HTTPStatusError is implemented by errors that carry an HTTP status code,
// letting middleware render the right response without type-switching on
// concrete error types.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// --- Context keys ---

type contextKey int

const (
	ctxKeyRequestID contextKey = iota
	ctxKeyIdentity
	ctxKeyCredentialID
)

// ContextWithRequestID returns a context carrying the given request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request id from context, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithIdentity returns a context carrying the authenticated identity.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKeyIdentity).(*Identity)
	return id
}

// ContextWithCredentialID returns a context carrying the credential id
// acquired for this request, so deferred release/error-recording code can
// find it without threading it through every call.
func ContextWithCredentialID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCredentialID, id)
}

// CredentialIDFromContext extracts the acquired credential id from context.
func CredentialIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCredentialID).(string)
	return id
}
