package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// AppendRequestLog batch-inserts request log entries (spec §3 Request log
// entry). The server appends one entry per finished request; the table is
// not capped, and nothing in the gateway calls PruneRequestLog.
func (s *Store) AppendRequestLog(ctx context.Context, entries []gateway.RequestLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const cols = 10
	placeholders := make([]string, len(entries))
	args := make([]any, 0, len(entries)*cols)
	for i, e := range entries {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.Timestamp.UTC().Format(time.RFC3339Nano), e.Method, e.Path, e.StatusCode,
			e.DurationMs, nullStr(e.Model), nullStr(e.APIDialect), nullStr(e.CredentialID),
			nullInt(e.TokenCount), nullStr(e.ErrorKind),
		)
	}

	query := `INSERT INTO request_log
		(timestamp, method, path, status_code, duration_ms, model, api_dialect,
		 credential_id, token_count, error_kind)
		VALUES ` + strings.Join(placeholders, ", ")
	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// ListRequestLog returns a page of request log entries, most recent first.
func (s *Store) ListRequestLog(ctx context.Context, offset, limit int) ([]gateway.RequestLogEntry, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT timestamp, method, path, status_code, duration_ms, model, api_dialect,
		 credential_id, token_count, error_kind
		 FROM request_log ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.RequestLogEntry
	for rows.Next() {
		var e gateway.RequestLogEntry
		var model, dialect, credID, errKind sql.NullString
		var tokenCount sql.NullInt64
		var ts string
		if err := rows.Scan(&ts, &e.Method, &e.Path, &e.StatusCode, &e.DurationMs,
			&model, &dialect, &credID, &tokenCount, &errKind); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			e.Timestamp = t
		}
		e.Model = model.String
		e.APIDialect = dialect.String
		e.CredentialID = credID.String
		e.TokenCount = int(tokenCount.Int64)
		e.ErrorKind = errKind.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneRequestLog deletes all but the most recent keep entries.
func (s *Store) PruneRequestLog(ctx context.Context, keep int) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM request_log WHERE id NOT IN
		 (SELECT id FROM request_log ORDER BY id DESC LIMIT ?)`, keep,
	)
	return err
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}
