package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// CreateKey inserts a new proxy API key.
func (s *Store) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	creds, err := marshalJSON(key.AllowedCredentials)
	if err != nil {
		return err
	}
	models, err := marshalJSON(key.AllowedModels)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, name, allowed_credentials,
		 allowed_models, enabled, requests, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, nullStr(key.Name),
		creds, models, boolToInt(key.Enabled), key.Requests,
		key.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetKeyByHash retrieves an API key by its SHA-256 hash.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, name, allowed_credentials, allowed_models,
		 enabled, requests, created_at, last_used_at
		 FROM api_keys WHERE key_hash = ?`, hash,
	)
	return scanKey(row)
}

// GetKey retrieves an API key by its ID.
func (s *Store) GetKey(ctx context.Context, id string) (*gateway.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, name, allowed_credentials, allowed_models,
		 enabled, requests, created_at, last_used_at
		 FROM api_keys WHERE id = ?`, id,
	)
	return scanKey(row)
}

// ListKeys returns every proxy API key.
func (s *Store) ListKeys(ctx context.Context) ([]*gateway.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, name, allowed_credentials, allowed_models,
		 enabled, requests, created_at, last_used_at
		 FROM api_keys ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKey updates an existing API key's mutable fields.
func (s *Store) UpdateKey(ctx context.Context, key *gateway.APIKey) error {
	creds, err := marshalJSON(key.AllowedCredentials)
	if err != nil {
		return err
	}
	models, err := marshalJSON(key.AllowedModels)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET name=?, allowed_credentials=?, allowed_models=?, enabled=?
		 WHERE id=?`,
		nullStr(key.Name), creds, models, boolToInt(key.Enabled), key.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// DeleteKey removes an API key.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// TouchKeyUsed bumps the request counter and last_used_at timestamp.
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET requests = requests + 1, last_used_at=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

func scanKey(s scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var name sql.NullString
	var credsJSON, modelsJSON sql.NullString
	var createdAt, lastUsedAt sql.NullString
	var enabled int

	err := s.Scan(
		&k.ID, &k.KeyHash, &k.KeyPrefix, &name, &credsJSON, &modelsJSON,
		&enabled, &k.Requests, &createdAt, &lastUsedAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	k.Name = name.String
	k.Enabled = enabled != 0

	creds, err := unmarshalStringSlice(credsJSON)
	if err != nil {
		return nil, err
	}
	k.AllowedCredentials = creds

	models, err := unmarshalStringSlice(modelsJSON)
	if err != nil {
		return nil, err
	}
	k.AllowedModels = models

	if t := parseTime(createdAt); t != nil {
		k.CreatedAt = *t
	}
	k.LastUsedAt = parseTime(lastUsedAt)
	return &k, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// notFoundErr translates sql.ErrNoRows to gateway.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}

// helpers

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	if s, ok := v.([]string); ok && len(s) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalStringSlice(ns sql.NullString) ([]string, error) {
	if !ns.Valid {
		return nil, nil
	}
	var s []string
	if err := json.Unmarshal([]byte(ns.String), &s); err != nil {
		return nil, fmt.Errorf("unmarshal string slice: %w", err)
	}
	return s, nil
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, gateway.ErrNotFound)
	}
	return nil
}
