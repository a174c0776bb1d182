package dataset

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chenzhangda16/riskpipe/internal/feature"
)

const examplesDDL = `
CREATE TABLE IF NOT EXISTS risk_examples (
	id BIGSERIAL PRIMARY KEY,
	ts BIGINT NOT NULL,
	x  REAL[] NOT NULL,
	y  SMALLINT NOT NULL
);
CREATE INDEX IF NOT EXISTS risk_examples_ts_idx ON risk_examples (ts);
`

// PostgresStore persists examples in postgres for deployments that want the
// training set to survive restarts and be queryable.
type PostgresStore struct {
	pool *pgxpool.Pool
	cap  int
}

func NewPostgresStore(ctx context.Context, dsn string, capacity int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("dataset: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, examplesDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dataset: ensure schema: %w", err)
	}
	if capacity <= 0 {
		capacity = 50000
	}
	return &PostgresStore{pool: pool, cap: capacity}, nil
}

func (s *PostgresStore) Append(ctx context.Context, batch []Example) error {
	if len(batch) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, ex := range batch {
		b.Queue("INSERT INTO risk_examples (ts, x, y) VALUES ($1, $2, $3)", ex.Ts, ex.X[:], ex.Y)
	}
	b.Queue(`DELETE FROM risk_examples WHERE id <= COALESCE(
		(SELECT id FROM risk_examples ORDER BY id DESC OFFSET $1 LIMIT 1), 0)`, s.cap)
	br := s.pool.SendBatch(ctx, b)
	defer br.Close()
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("dataset: append: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Example, error) {
	if limit <= 0 {
		limit = s.cap
	}
	rows, err := s.pool.Query(ctx,
		"SELECT ts, x, y FROM risk_examples ORDER BY id DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("dataset: recent: %w", err)
	}
	defer rows.Close()

	var out []Example
	for rows.Next() {
		var ex Example
		var x []float32
		if err := rows.Scan(&ex.Ts, &x, &ex.Y); err != nil {
			return nil, fmt.Errorf("dataset: scan: %w", err)
		}
		if len(x) != feature.VectorLen {
			continue
		}
		copy(ex.X[:], x)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows came newest-first; callers expect oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
