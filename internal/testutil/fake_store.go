package testutil

import (
	"context"
	"sync"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu          sync.RWMutex
	creds       map[string]*gateway.Credential
	keys        map[string]*gateway.APIKey
	settings    map[string]string
	logs        []gateway.RequestLogEntry
	summaries   map[string]cachedSummary
}

type cachedSummary struct {
	summary string
	ts      time.Time
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		creds:     make(map[string]*gateway.Credential),
		keys:      make(map[string]*gateway.APIKey),
		settings:  make(map[string]string),
		summaries: make(map[string]cachedSummary),
	}
}

// AddCredential inserts a credential into the fake store.
func (s *FakeStore) AddCredential(c *gateway.Credential) {
	s.mu.Lock()
	s.creds[c.ID] = c
	s.mu.Unlock()
}

// AddKey inserts an API key into the fake store.
func (s *FakeStore) AddKey(k *gateway.APIKey) {
	s.mu.Lock()
	s.keys[k.KeyHash] = k
	s.mu.Unlock()
}

// --- CredentialStore ---

func (s *FakeStore) CreateCredential(_ context.Context, c *gateway.Credential) error {
	s.AddCredential(c)
	return nil
}

func (s *FakeStore) GetCredential(_ context.Context, id string) (*gateway.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return c, nil
}

func (s *FakeStore) ListCredentials(context.Context) ([]*gateway.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*gateway.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, c)
	}
	return out, nil
}

func (s *FakeStore) UpdateCredential(_ context.Context, c *gateway.Credential) error {
	s.AddCredential(c)
	return nil
}

func (s *FakeStore) DeleteCredential(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.creds, id)
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) SnapshotCredentials(_ context.Context, creds []*gateway.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range creds {
		s.creds[c.ID] = c
	}
	return nil
}

// --- APIKeyStore ---

func (s *FakeStore) CreateKey(_ context.Context, key *gateway.APIKey) error {
	s.AddKey(key)
	return nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[hash]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return k, nil
}

func (s *FakeStore) GetKey(_ context.Context, id string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.ID == id {
			return k, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (s *FakeStore) ListKeys(context.Context) ([]*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*gateway.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out, nil
}

func (s *FakeStore) UpdateKey(_ context.Context, key *gateway.APIKey) error {
	s.AddKey(key)
	return nil
}

func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	for hash, k := range s.keys {
		if k.ID == id {
			delete(s.keys, hash)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == id {
			now := time.Now()
			k.LastUsedAt = &now
			break
		}
	}
	return nil
}

// --- SettingsStore ---

func (s *FakeStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *FakeStore) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	return nil
}

// --- RequestLogStore ---

func (s *FakeStore) AppendRequestLog(_ context.Context, entries []gateway.RequestLogEntry) error {
	s.mu.Lock()
	s.logs = append(s.logs, entries...)
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) ListRequestLog(_ context.Context, offset, limit int) ([]gateway.RequestLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset >= len(s.logs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.logs) {
		end = len(s.logs)
	}
	out := make([]gateway.RequestLogEntry, end-offset)
	copy(out, s.logs[offset:end])
	return out, nil
}

func (s *FakeStore) PruneRequestLog(_ context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logs) > keep {
		s.logs = s.logs[len(s.logs)-keep:]
	}
	return nil
}

// --- CompressorCacheStore ---

func (s *FakeStore) GetSummary(_ context.Context, key string) (string, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.summaries[key]
	if !ok {
		return "", time.Time{}, false, nil
	}
	return c.summary, c.ts, true, nil
}

func (s *FakeStore) SetSummary(_ context.Context, key, summary string, ts time.Time) error {
	s.mu.Lock()
	s.summaries[key] = cachedSummary{summary: summary, ts: ts}
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) PruneSummaries(_ context.Context, olderThan time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for key, c := range s.summaries {
		if pruned >= limit {
			break
		}
		if c.ts.Before(olderThan) {
			delete(s.summaries, key)
			pruned++
		}
	}
	return pruned, nil
}

// Close is a no-op for the fake store.
func (s *FakeStore) Close() error { return nil }
