package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/auth"
	"github.com/tbuijibing/KiroGate/internal/credpool"
)

// fakeStore is an in-memory storage.Store good enough to drive the admin
// handlers under test; every method a handler under test doesn't touch
// simply isn't exercised.
type fakeStore struct {
	creds map[string]*gateway.Credential
	keys  map[string]*gateway.APIKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{creds: map[string]*gateway.Credential{}, keys: map[string]*gateway.APIKey{}}
}

func (f *fakeStore) CreateCredential(ctx context.Context, c *gateway.Credential) error {
	f.creds[c.ID] = c
	return nil
}
func (f *fakeStore) GetCredential(ctx context.Context, id string) (*gateway.Credential, error) {
	c, ok := f.creds[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return c, nil
}
func (f *fakeStore) ListCredentials(ctx context.Context) ([]*gateway.Credential, error) {
	out := make([]*gateway.Credential, 0, len(f.creds))
	for _, c := range f.creds {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeStore) UpdateCredential(ctx context.Context, c *gateway.Credential) error {
	if _, ok := f.creds[c.ID]; !ok {
		return gateway.ErrNotFound
	}
	f.creds[c.ID] = c
	return nil
}
func (f *fakeStore) DeleteCredential(ctx context.Context, id string) error {
	delete(f.creds, id)
	return nil
}
func (f *fakeStore) SnapshotCredentials(ctx context.Context, creds []*gateway.Credential) error {
	return nil
}

func (f *fakeStore) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	f.keys[key.ID] = key
	return nil
}
func (f *fakeStore) GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	for _, k := range f.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return nil, gateway.ErrNotFound
}
func (f *fakeStore) GetKey(ctx context.Context, id string) (*gateway.APIKey, error) {
	k, ok := f.keys[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return k, nil
}
func (f *fakeStore) ListKeys(ctx context.Context) ([]*gateway.APIKey, error) {
	out := make([]*gateway.APIKey, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, k)
	}
	return out, nil
}
func (f *fakeStore) UpdateKey(ctx context.Context, key *gateway.APIKey) error {
	if _, ok := f.keys[key.ID]; !ok {
		return gateway.ErrNotFound
	}
	f.keys[key.ID] = key
	return nil
}
func (f *fakeStore) DeleteKey(ctx context.Context, id string) error {
	delete(f.keys, id)
	return nil
}
func (f *fakeStore) TouchKeyUsed(ctx context.Context, id string) error { return nil }

func (f *fakeStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeStore) PutSetting(ctx context.Context, key, value string) error { return nil }

func (f *fakeStore) AppendRequestLog(ctx context.Context, entries []gateway.RequestLogEntry) error {
	return nil
}
func (f *fakeStore) ListRequestLog(ctx context.Context, offset, limit int) ([]gateway.RequestLogEntry, error) {
	return nil, nil
}
func (f *fakeStore) PruneRequestLog(ctx context.Context, keep int) error { return nil }

func (f *fakeStore) GetSummary(ctx context.Context, key string) (string, time.Time, bool, error) {
	return "", time.Time{}, false, nil
}
func (f *fakeStore) SetSummary(ctx context.Context, key, summary string, ts time.Time) error {
	return nil
}
func (f *fakeStore) PruneSummaries(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	return 0, nil
}
func (f *fakeStore) Close() error { return nil }

func newAdminTestServer(t *testing.T) (*server, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	pool := credpool.NewPool()
	a, err := auth.New("", store, pool)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	return &server{deps: Deps{Store: store, Pool: pool, Auth: a}}, store
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}

func TestParsePaginationDefaultsAndCaps(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	p := parsePagination(r)
	if p.Offset != 0 || p.Limit != 50 {
		t.Errorf("defaults = %+v, want offset=0 limit=50", p)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/x?offset=10&limit=9999", nil)
	p2 := parsePagination(r2)
	if p2.Offset != 10 || p2.Limit != 50 {
		t.Errorf("parsePagination(limit=9999) = %+v, want offset=10 limit capped to default (out of range rejected)", p2)
	}

	r3 := httptest.NewRequest(http.MethodGet, "/x?limit=100", nil)
	p3 := parsePagination(r3)
	if p3.Limit != 100 {
		t.Errorf("parsePagination(limit=100) = %+v, want limit=100", p3)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"name":"a","bogus":1}`))
	var v struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &v); err == nil {
		t.Error("expected an error for an unknown field")
	}
}

func TestHandleCreateCredentialRequiresRefreshToken(t *testing.T) {
	t.Parallel()

	s, _ := newAdminTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/accounts", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	s.handleCreateCredential(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 when refresh_token is missing", rec.Code)
	}
}

func TestHandleCreateCredentialAddsToStoreAndPool(t *testing.T) {
	t.Parallel()

	s, store := newAdminTestServer(t)
	body := `{"refresh_token":"rt-123","region":"us-east-1"}`
	r := httptest.NewRequest(http.MethodPost, "/api/accounts", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.handleCreateCredential(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if len(store.creds) != 1 {
		t.Fatalf("store has %d credentials, want 1", len(store.creds))
	}
	var id string
	for k := range store.creds {
		id = k
	}
	if _, ok := s.deps.Pool.Get(id); !ok {
		t.Error("expected the new credential to be added to the live pool")
	}
}

func TestHandleGetCredentialNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newAdminTestServer(t)
	r := withChiParam(httptest.NewRequest(http.MethodGet, "/api/accounts/missing", nil), "id", "missing")
	rec := httptest.NewRecorder()
	s.handleGetCredential(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleUpdateCredentialDisablesInPool(t *testing.T) {
	t.Parallel()

	s, store := newAdminTestServer(t)
	cred := &gateway.Credential{ID: "c1", RefreshToken: "rt"}
	store.creds["c1"] = cred
	s.deps.Pool.Add(cred)

	body := `{"disabled":true}`
	r := withChiParam(httptest.NewRequest(http.MethodPut, "/api/accounts/c1", bytes.NewBufferString(body)), "id", "c1")
	rec := httptest.NewRecorder()
	s.handleUpdateCredential(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	got, _ := s.deps.Pool.Get("c1")
	if !got.Disabled || got.Available {
		t.Errorf("pool credential = %+v, want disabled=true available=false", got)
	}
}

func TestHandleDeleteCredentialRemovesFromPool(t *testing.T) {
	t.Parallel()

	s, store := newAdminTestServer(t)
	cred := &gateway.Credential{ID: "c1"}
	store.creds["c1"] = cred
	s.deps.Pool.Add(cred)

	r := withChiParam(httptest.NewRequest(http.MethodDelete, "/api/accounts/c1", nil), "id", "c1")
	rec := httptest.NewRecorder()
	s.handleDeleteCredential(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := s.deps.Pool.Get("c1"); ok {
		t.Error("expected the credential to be removed from the pool")
	}
}

func TestHandleVerifyCredentialNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newAdminTestServer(t)
	r := withChiParam(httptest.NewRequest(http.MethodGet, "/api/accounts/missing/verify", nil), "id", "missing")
	rec := httptest.NewRecorder()
	s.handleVerifyCredential(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleCreateKeyReturnsRawKeyOnce(t *testing.T) {
	t.Parallel()

	s, store := newAdminTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/keys", bytes.NewBufferString(`{"name":"test key"}`))
	rec := httptest.NewRecorder()
	s.handleCreateKey(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if len(store.keys) != 1 {
		t.Fatalf("store has %d keys, want 1", len(store.keys))
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"key":"`+gateway.APIKeyPrefix)) {
		t.Errorf("body = %s, want the raw key embedded on create", rec.Body.String())
	}
}

func TestHandleGetKeyNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newAdminTestServer(t)
	r := withChiParam(httptest.NewRequest(http.MethodGet, "/api/keys/missing", nil), "id", "missing")
	rec := httptest.NewRecorder()
	s.handleGetKey(rec, r)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDeleteKeyInvalidatesAuthCache(t *testing.T) {
	t.Parallel()

	s, store := newAdminTestServer(t)
	raw := gateway.APIKeyPrefix + "delete-me"
	key := &gateway.APIKey{ID: "k1", KeyHash: gateway.HashKey(raw), Enabled: true}
	store.keys["k1"] = key

	// Authenticate once so the key sits in the auth cache.
	authReq := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	authReq.Header.Set("x-api-key", raw)
	if _, err := s.deps.Auth.Authenticate(context.Background(), authReq); err != nil {
		t.Fatalf("Authenticate before delete: %v", err)
	}

	r := withChiParam(httptest.NewRequest(http.MethodDelete, "/api/keys/k1", nil), "id", "k1")
	rec := httptest.NewRecorder()
	s.handleDeleteKey(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := store.keys["k1"]; ok {
		t.Error("expected the key to be removed from the store")
	}
	if _, err := s.deps.Auth.Authenticate(context.Background(), authReq); err == nil {
		t.Error("expected the deleted key to be rejected, not served from the auth cache")
	}
}
