package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Schema is the persisted layout for the reference Postgres audit backend.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id            UUID PRIMARY KEY,
    request_id    TEXT NOT NULL UNIQUE,
    timestamp     TIMESTAMPTZ NOT NULL,
    hash          TEXT NOT NULL,
    previous_hash TEXT NOT NULL,
    tenant_id     TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    method        TEXT NOT NULL,
    path          TEXT NOT NULL,
    protocol      TEXT NOT NULL,
    action        TEXT NOT NULL,
    category      TEXT NOT NULL,
    risk_level    TEXT NOT NULL,
    status        TEXT NOT NULL,
    status_code   INT,
    duration_ms   BIGINT,
    metadata      JSONB,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS audit_entries_tenant_idx ON audit_entries (tenant_id);
CREATE INDEX IF NOT EXISTS audit_entries_ts_idx ON audit_entries (timestamp DESC);
CREATE INDEX IF NOT EXISTS audit_entries_tenant_ts_idx ON audit_entries (tenant_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS audit_entries_hash_idx ON audit_entries (hash);
CREATE INDEX IF NOT EXISTS audit_entries_category_idx ON audit_entries (category);
CREATE INDEX IF NOT EXISTS audit_entries_risk_idx ON audit_entries (risk_level);
CREATE INDEX IF NOT EXISTS audit_entries_status_idx ON audit_entries (status);
`

// PostgresStore persists the chain in the audit_entries table. The
// read-tail/compute/append trio runs inside a serializable transaction;
// serialization conflicts (two appends racing for the same tail) retry
// with exponential backoff.
type PostgresStore struct {
	pool   *pgxpool.Pool
	secret string
}

// NewPostgresStore wraps an existing pool. The caller owns the pool.
func NewPostgresStore(pool *pgxpool.Pool, secret string) *PostgresStore {
	return &PostgresStore{pool: pool, secret: secret}
}

// EnsureSchema creates the audit_entries table and indexes if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	op := func() error {
		err := s.appendOnce(ctx, entry)
		if err != nil && !isSerializationFailure(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	policy := backoff.WithContext(bo, ctx)

	if err := backoff.Retry(op, policy); err != nil {
		log.Error().Err(err).Str("requestId", entry.RequestID).Msg("audit append failed")
		return err
	}
	return nil
}

func (s *PostgresStore) appendOnce(ctx context.Context, entry *Entry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tail, err := lastHashTx(ctx, tx)
	if err != nil {
		return err
	}

	entry.PreviousHash = tail
	hash, err := ComputeHash(*entry, s.secret)
	if err != nil {
		return err
	}
	entry.Hash = hash

	var meta []byte
	if entry.Metadata != nil {
		if meta, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("audit: marshal metadata: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entries
			(id, request_id, timestamp, hash, previous_hash, tenant_id, user_id,
			 method, path, protocol, action, category, risk_level, status,
			 status_code, duration_ms, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		entry.ID, entry.RequestID, entry.Timestamp, entry.Hash, entry.PreviousHash,
		entry.TenantID, entry.UserID, entry.Method, entry.Path, entry.Protocol,
		entry.Action, entry.Category, entry.RiskLevel, entry.Status,
		nullableInt(entry.StatusCode), nullableInt64(entry.DurationMs), meta)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func lastHashTx(ctx context.Context, tx pgx.Tx) (string, error) {
	var hash string
	err := tx.QueryRow(ctx,
		`SELECT hash FROM audit_entries ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Genesis, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *PostgresStore) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT hash FROM audit_entries ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Genesis, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID string) (*Entry, error) {
	var e Entry
	var statusCode *int
	var durationMs *int64
	var meta []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, request_id, timestamp, hash, previous_hash, tenant_id, user_id,
		       method, path, protocol, action, category, risk_level, status,
		       status_code, duration_ms, metadata
		FROM audit_entries WHERE request_id = $1`, requestID).Scan(
		&e.ID, &e.RequestID, &e.Timestamp, &e.Hash, &e.PreviousHash, &e.TenantID,
		&e.UserID, &e.Method, &e.Path, &e.Protocol, &e.Action, &e.Category,
		&e.RiskLevel, &e.Status, &statusCode, &durationMs, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if statusCode != nil {
		e.StatusCode = *statusCode
	}
	if durationMs != nil {
		e.DurationMs = *durationMs
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("audit: unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func (s *PostgresStore) Verify(ctx context.Context, entries []Entry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return VerifyChain(entries, s.secret)
}
