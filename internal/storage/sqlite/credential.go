package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// CreateCredential inserts a new credential (spec §3: "created via admin
// API, persisted to KV").
func (s *Store) CreateCredential(ctx context.Context, c *gateway.Credential) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO credentials (id, access_token, refresh_token, region, profile_id,
		 machine_fingerprint, subscription_tier, expires_at, requests, errors,
		 consecutive_errors, health_score, cooldown_until, available, quota_exhausted,
		 disabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccessToken, nullStr(c.RefreshToken), nullStr(c.Region), nullStr(c.ProfileID),
		nullStr(c.MachineFingerprint), nullStr(c.SubscriptionTier), timeStr(c.ExpiresAt),
		c.Requests, c.Errors, c.ConsecutiveErrors, c.HealthScore, timeStr(c.CooldownUntil),
		boolToInt(c.Available), boolToInt(c.QuotaExhausted), boolToInt(c.Disabled),
		c.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetCredential retrieves a credential by ID.
func (s *Store) GetCredential(ctx context.Context, id string) (*gateway.Credential, error) {
	row := s.read.QueryRowContext(ctx, credentialSelect+` WHERE id = ?`, id)
	return scanCredential(row)
}

// ListCredentials returns every stored credential, used to seed the
// in-memory pool at startup (spec §3: "loaded at startup").
func (s *Store) ListCredentials(ctx context.Context) ([]*gateway.Credential, error) {
	rows, err := s.read.QueryContext(ctx, credentialSelect+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*gateway.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// UpdateCredential overwrites a credential's mutable fields (token, expiry,
// scheduler/fault-layer bookkeeping).
func (s *Store) UpdateCredential(ctx context.Context, c *gateway.Credential) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE credentials SET access_token=?, refresh_token=?, region=?, profile_id=?,
		 machine_fingerprint=?, subscription_tier=?, expires_at=?, requests=?, errors=?,
		 consecutive_errors=?, health_score=?, cooldown_until=?, available=?,
		 quota_exhausted=?, disabled=? WHERE id=?`,
		c.AccessToken, nullStr(c.RefreshToken), nullStr(c.Region), nullStr(c.ProfileID),
		nullStr(c.MachineFingerprint), nullStr(c.SubscriptionTier), timeStr(c.ExpiresAt),
		c.Requests, c.Errors, c.ConsecutiveErrors, c.HealthScore, timeStr(c.CooldownUntil),
		boolToInt(c.Available), boolToInt(c.QuotaExhausted), boolToInt(c.Disabled), c.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// DeleteCredential removes a credential (spec §3: "destroyed only by admin
// delete").
func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// SnapshotCredentials replaces every listed credential's persisted state in
// a single transaction (spec §5: the pool's 60s snapshot tick).
func (s *Store) SnapshotCredentials(ctx context.Context, creds []*gateway.Credential) error {
	if len(creds) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE credentials SET access_token=?, refresh_token=?, expires_at=?, requests=?,
		 errors=?, consecutive_errors=?, health_score=?, cooldown_until=?, available=?,
		 quota_exhausted=?, disabled=? WHERE id=?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range creds {
		if _, err := stmt.ExecContext(ctx,
			c.AccessToken, nullStr(c.RefreshToken), timeStr(c.ExpiresAt), c.Requests, c.Errors,
			c.ConsecutiveErrors, c.HealthScore, timeStr(c.CooldownUntil), boolToInt(c.Available),
			boolToInt(c.QuotaExhausted), boolToInt(c.Disabled), c.ID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const credentialSelect = `SELECT id, access_token, refresh_token, region, profile_id,
	machine_fingerprint, subscription_tier, expires_at, requests, errors,
	consecutive_errors, health_score, cooldown_until, available, quota_exhausted,
	disabled, created_at
	FROM credentials`

func scanCredential(s scanner) (*gateway.Credential, error) {
	var c gateway.Credential
	var refreshToken, region, profileID, fingerprint, tier sql.NullString
	var expiresAt, cooldownUntil, createdAt sql.NullString
	var available, quotaExhausted, disabled int

	err := s.Scan(
		&c.ID, &c.AccessToken, &refreshToken, &region, &profileID, &fingerprint, &tier,
		&expiresAt, &c.Requests, &c.Errors, &c.ConsecutiveErrors, &c.HealthScore,
		&cooldownUntil, &available, &quotaExhausted, &disabled, &createdAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	c.RefreshToken = refreshToken.String
	c.Region = region.String
	c.ProfileID = profileID.String
	c.MachineFingerprint = fingerprint.String
	c.SubscriptionTier = tier.String
	if t := parseTime(expiresAt); t != nil {
		c.ExpiresAt = *t
	}
	if t := parseTime(cooldownUntil); t != nil {
		c.CooldownUntil = *t
	}
	if t := parseTime(createdAt); t != nil {
		c.CreatedAt = *t
	}
	c.Available = available != 0
	c.QuotaExhausted = quotaExhausted != 0
	c.Disabled = disabled != 0
	return &c, nil
}

func timeStr(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
