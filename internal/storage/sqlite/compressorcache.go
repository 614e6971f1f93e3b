package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetSummary retrieves the L3 durable compressor cache entry for key
// (satisfies internal/compressor.CacheStore, spec §4.6). ts is the time the
// entry was written; the caller (internal/compressor) compares it against
// its own TTL rather than having the store expire rows eagerly.
func (s *Store) GetSummary(ctx context.Context, key string) (string, time.Time, bool, error) {
	var summary, writtenAt string
	err := s.read.QueryRowContext(ctx,
		`SELECT summary, expires_at FROM compressor_cache WHERE cache_key = ?`, key,
	).Scan(&summary, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339, writtenAt)
	if err != nil {
		return "", time.Time{}, false, err
	}
	return summary, ts, true, nil
}

// SetSummary upserts a compressor cache entry, recording ts (the write
// time the caller passed) in the expires_at column for later pruning.
func (s *Store) SetSummary(ctx context.Context, key, summary string, ts time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO compressor_cache (cache_key, summary, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET summary = excluded.summary, expires_at = excluded.expires_at`,
		key, summary, ts.UTC().Format(time.RFC3339),
	)
	return err
}

// PruneSummaries deletes compressor cache entries written before olderThan,
// up to limit rows per call (spec §5: periodic cache cleanup worker).
func (s *Store) PruneSummaries(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM compressor_cache WHERE cache_key IN
		 (SELECT cache_key FROM compressor_cache WHERE expires_at < ? LIMIT ?)`,
		olderThan.UTC().Format(time.RFC3339), limit,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}
