package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the generations table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS generations (
    seq         BIGSERIAL PRIMARY KEY,
    asset_id    TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    success     BOOLEAN NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0,
    tokens_used INTEGER NOT NULL DEFAULT 0,
    cache_hit   BOOLEAN NOT NULL DEFAULT false,
    data        JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_generations_kind ON generations(kind, created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore on db. The caller is responsible
// for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var data []byte
	if len(e.Data) > 0 {
		if !json.Valid(e.Data) {
			return fmt.Errorf("history: record: data is not valid JSON")
		}
		data = e.Data
	}

	const query = `
		INSERT INTO generations (
			asset_id, kind, title, success, error,
			duration_ms, tokens_used, cache_hit, data, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := s.db.Exec(ctx, query,
		e.AssetID, e.Kind, e.Title, e.Success, e.Error,
		e.Duration.Milliseconds(), e.TokensUsed, e.CacheHit, data, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		args = append(args, q.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if q.SuccessOnly {
		where = append(where, "success")
	}
	args = append(args, q.limit())

	var b strings.Builder
	b.WriteString(`
		SELECT asset_id, kind, title, success, error,
		       duration_ms, tokens_used, cache_hit, data, created_at
		FROM generations`)
	if len(where) > 0 {
		b.WriteString("\n\t\tWHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, "\n\t\tORDER BY created_at DESC, seq DESC\n\t\tLIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMS int64
			data       []byte
		)
		if err := rows.Scan(
			&e.AssetID, &e.Kind, &e.Title, &e.Success, &e.Error,
			&durationMS, &e.TokensUsed, &e.CacheHit, &data, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if len(data) > 0 {
			e.Data = json.RawMessage(data)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return out, nil
}

// Stats implements [Store].
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT kind,
		       count(*),
		       count(*) FILTER (WHERE success),
		       count(*) FILTER (WHERE cache_hit),
		       coalesce(avg(duration_ms), 0)::float8
		FROM generations
		GROUP BY kind
		ORDER BY kind`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return Stats{}, fmt.Errorf("history: stats: %w", err)
	}
	defer rows.Close()

	var byKind []KindStats
	for rows.Next() {
		var k KindStats
		if err := rows.Scan(&k.Kind, &k.Total, &k.Succeeded, &k.CacheHits, &k.AvgDurationMS); err != nil {
			return Stats{}, fmt.Errorf("history: stats scan: %w", err)
		}
		k.Failed = k.Total - k.Succeeded
		k.AvgDurationMS = round1(k.AvgDurationMS)
		byKind = append(byKind, k)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("history: stats: %w", err)
	}
	return summarize(byKind), nil
}
