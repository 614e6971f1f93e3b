// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// CredentialStore persists the credential pool's durable state (spec §3.1
// `credentials` table): loaded into the in-memory pool at startup,
// snapshotted back every 60s.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *gateway.Credential) error
	GetCredential(ctx context.Context, id string) (*gateway.Credential, error)
	ListCredentials(ctx context.Context) ([]*gateway.Credential, error)
	UpdateCredential(ctx context.Context, c *gateway.Credential) error
	DeleteCredential(ctx context.Context, id string) error
	// SnapshotCredentials replaces the stored state of every listed
	// credential in a single transaction (spec §5: periodic pool snapshot).
	SnapshotCredentials(ctx context.Context, creds []*gateway.Credential) error
}

// APIKeyStore persists `kg-`-prefixed proxy API keys (spec §3.1 `api_keys`
// table, §6 auth mode 3). Keys are stored hashed at rest.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *gateway.APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error)
	GetKey(ctx context.Context, id string) (*gateway.APIKey, error)
	ListKeys(ctx context.Context) ([]*gateway.APIKey, error)
	UpdateKey(ctx context.Context, key *gateway.APIKey) error
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// SettingsStore persists generic key/value blobs (spec §3.1 `kv_settings`
// table: `config/proxy`, `config/settings`, `stats/proxy`).
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// RequestLogStore persists request log entries (spec §3.1 `request_log`
// table).
type RequestLogStore interface {
	AppendRequestLog(ctx context.Context, entries []gateway.RequestLogEntry) error
	ListRequestLog(ctx context.Context, offset, limit int) ([]gateway.RequestLogEntry, error)
	// PruneRequestLog deletes all but the most recent keep entries.
	PruneRequestLog(ctx context.Context, keep int) error
}

// CompressorCacheStore is the L3 durable tier of the context compressor's
// three-tier cache (spec §3.1 `compressor_cache` table, §4.6). Its method
// set matches internal/compressor.CacheStore exactly so a *Store can be
// passed directly to compressor.New.
type CompressorCacheStore interface {
	GetSummary(ctx context.Context, key string) (summary string, ts time.Time, ok bool, err error)
	SetSummary(ctx context.Context, key, summary string, ts time.Time) error
	PruneSummaries(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// Store combines all storage interfaces backing the gateway.
type Store interface {
	CredentialStore
	APIKeyStore
	SettingsStore
	RequestLogStore
	CompressorCacheStore
	Close() error
}
