package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

const maxAdminBody = 1 << 20 // 1 MiB

// decodeJSON reads and decodes an admin request body, rejecting unknown
// fields so typos in an admin payload fail loudly rather than being
// silently ignored.
func decodeJSON(r *http.Request, v any) error {
	lr := io.LimitReader(r.Body, maxAdminBody+1)
	dec := json.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeAdminError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), errorResponse(err.Error()))
}

type pagination struct {
	Offset int
	Limit  int
}

// parsePagination reads ?offset=&limit= query params, defaulting to a
// page of 50; a limit above 500 is ignored and the default applies, which
// bounds a single admin response.
func parsePagination(r *http.Request) pagination {
	p := pagination{Offset: 0, Limit: 50}
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			p.Limit = n
		}
	}
	return p
}

// --- Credential CRUD (/api/accounts, spec §6) ---

type credentialRequest struct {
	RefreshToken       string `json:"refresh_token"`
	Region             string `json:"region"`
	ProfileID          string `json:"profile_id"`
	MachineFingerprint string `json:"machine_fingerprint"`
	SubscriptionTier   string `json:"subscription_tier"`
	Disabled           *bool  `json:"disabled"`
}

func (s *server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.deps.Store.ListCredentials(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (s *server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("refresh_token is required"))
		return
	}

	cred := &gateway.Credential{
		ID:                 uuid.NewString(),
		RefreshToken:       req.RefreshToken,
		Region:             req.Region,
		ProfileID:          req.ProfileID,
		MachineFingerprint: req.MachineFingerprint,
		SubscriptionTier:   req.SubscriptionTier,
		HealthScore:        100,
		Available:          true,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.deps.Store.CreateCredential(r.Context(), cred); err != nil {
		writeAdminError(w, err)
		return
	}
	s.deps.Pool.Add(cred)
	s.deps.Pool.MarkNeedsRefresh(cred.ID)
	writeJSON(w, http.StatusCreated, cred)
}

func (s *server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred, err := s.deps.Store.GetCredential(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// handleUpdateCredential applies a partial update and, if the credential
// is live in the pool, reloads it in place (SPEC_FULL §4.8: graceful
// reload without a restart).
func (s *server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	cred, err := s.deps.Store.GetCredential(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if req.RefreshToken != "" {
		cred.RefreshToken = req.RefreshToken
	}
	if req.Region != "" {
		cred.Region = req.Region
	}
	if req.ProfileID != "" {
		cred.ProfileID = req.ProfileID
	}
	if req.MachineFingerprint != "" {
		cred.MachineFingerprint = req.MachineFingerprint
	}
	if req.SubscriptionTier != "" {
		cred.SubscriptionTier = req.SubscriptionTier
	}
	if req.Disabled != nil {
		cred.Disabled = *req.Disabled
		cred.Available = !*req.Disabled
	}

	if err := s.deps.Store.UpdateCredential(r.Context(), cred); err != nil {
		writeAdminError(w, err)
		return
	}
	s.deps.Pool.Update(id, func(c *gateway.Credential) { *c = *cred })
	if _, ok := s.deps.Pool.Get(id); !ok {
		s.deps.Pool.Add(cred)
	}
	writeJSON(w, http.StatusOK, cred)
}

func (s *server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteCredential(r.Context(), id); err != nil {
		writeAdminError(w, err)
		return
	}
	s.deps.Pool.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshCredential marks id for refresh on its next acquisition
// (spec §7: "token expiry within 5 minutes triggers refresh before use");
// an admin-triggered refresh piggybacks on the same mechanism rather than
// duplicating the refresh-on-acquire path.
func (s *server) handleRefreshCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Pool.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("credential not found"))
		return
	}
	s.deps.Pool.MarkNeedsRefresh(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

// handleVerifyCredential reports whether id is currently eligible to serve
// traffic (spec §6 `/api/accounts/:id/verify`).
func (s *server) handleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred, ok := s.deps.Pool.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("credential not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              cred.ID,
		"available":       cred.Available,
		"disabled":        cred.Disabled,
		"quota_exhausted": cred.QuotaExhausted,
		"health_score":    cred.HealthScore,
	})
}

// handleCredentialUsage reports one credential's running counters (spec §6
// `/api/accounts/:id/usage`).
func (s *server) handleCredentialUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred, ok := s.deps.Pool.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("credential not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 cred.ID,
		"requests":           cred.Requests,
		"errors":             cred.Errors,
		"consecutive_errors": cred.ConsecutiveErrors,
		"inflight":           cred.Inflight,
	})
}

// --- API key CRUD (/api/keys, spec §6) ---

type keyRequest struct {
	Name               string   `json:"name"`
	AllowedCredentials []string `json:"allowed_credentials"`
	AllowedModels      []string `json:"allowed_models"`
	Enabled            *bool    `json:"enabled"`
}

type keyResponse struct {
	*gateway.APIKey
	Key string `json:"key,omitempty"` // raw key, set only on create
}

func generateRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return gateway.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.Store.ListKeys(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleCreateKey returns the raw key exactly once (spec §6: "create
// returns the raw key exactly once; subsequent reads mask it").
func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	raw, err := generateRawKey()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to generate key"))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	key := &gateway.APIKey{
		ID:                 uuid.NewString(),
		KeyHash:            gateway.HashKey(raw),
		KeyPrefix:          raw[:len(gateway.APIKeyPrefix)+6],
		Name:               req.Name,
		AllowedCredentials: req.AllowedCredentials,
		AllowedModels:      req.AllowedModels,
		Enabled:            enabled,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.deps.Store.CreateKey(r.Context(), key); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, keyResponse{APIKey: key, Key: raw})
}

func (s *server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := s.deps.Store.GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req keyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	key, err := s.deps.Store.GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if req.Name != "" {
		key.Name = req.Name
	}
	if req.AllowedCredentials != nil {
		key.AllowedCredentials = req.AllowedCredentials
	}
	if req.AllowedModels != nil {
		key.AllowedModels = req.AllowedModels
	}
	if req.Enabled != nil {
		key.Enabled = *req.Enabled
	}

	if err := s.deps.Store.UpdateKey(r.Context(), key); err != nil {
		writeAdminError(w, err)
		return
	}
	s.deps.Auth.InvalidateKey(key.KeyHash)
	writeJSON(w, http.StatusOK, key)
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := s.deps.Store.GetKey(r.Context(), id)
	if err == nil {
		s.deps.Auth.InvalidateKey(key.KeyHash)
	}
	if err := s.deps.Store.DeleteKey(r.Context(), id); err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Proxy stats/logs/config, settings (spec §6) ---

func (s *server) handleProxyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pool.Diagnostics())
}

func (s *server) handleProxyLogs(w http.ResponseWriter, r *http.Request) {
	p := parsePagination(r)
	entries, err := s.deps.Store.ListRequestLog(r.Context(), p.Offset, p.Limit)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleProxyConfig(w http.ResponseWriter, r *http.Request) {
	v, ok, err := s.deps.Store.GetSetting(r.Context(), "config/proxy")
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, json.RawMessage("{}"))
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(v))
}

func (s *server) handleUpdateProxyConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody+1))
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid JSON body"))
		return
	}
	if err := s.deps.Store.PutSetting(r.Context(), "config/proxy", string(body)); err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	v, ok, err := s.deps.Store.GetSetting(r.Context(), "config/settings")
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, json.RawMessage("{}"))
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(v))
}

func (s *server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody+1))
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid JSON body"))
		return
	}
	if err := s.deps.Store.PutSetting(r.Context(), "config/settings", string(body)); err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
