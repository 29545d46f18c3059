package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultTableName = "embedtune_hit_rates"

// PostgresStore implements Store using a PostgreSQL table.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// NewPostgresStore creates a store on db (driver "postgres"). The table is created
// if it doesn't exist.
func NewPostgresStore(ctx context.Context, db *sql.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = defaultTableName
	}
	s := &PostgresStore{db: db, tableName: tableName}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("results: migrate %s: %w", tableName, err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
		id BIGSERIAL PRIMARY KEY,
		run_name TEXT NOT NULL,
		variant TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		top_k INT NOT NULL,
		queries INT NOT NULL DEFAULT 0,
		hits INT NOT NULL DEFAULT 0,
		hit_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_run_variant ON ` + s.tableName + ` (run_name, variant);
	CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_at ON ` + s.tableName + ` (at);`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, r Summary) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.tableName+` (run_name, variant, model, top_k, queries, hits, hit_rate, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.RunName, r.Variant, r.Model, r.TopK, r.Queries, r.Hits, r.HitRate, r.At)
	if err != nil {
		return fmt.Errorf("results: record: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Summary, error) {
	args := []interface{}{}
	where := "1=1"
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}
	if q.RunName != "" {
		add("run_name = $%d", q.RunName)
	}
	if q.Variant != "" {
		add("variant = $%d", q.Variant)
	}
	if q.Model != "" {
		add("model = $%d", q.Model)
	}
	if !q.From.IsZero() {
		add("at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("at <= $%d", q.To)
	}
	args = append(args, q.limit())
	query := `SELECT run_name, variant, model, top_k, queries, hits, hit_rate, at
		FROM ` + s.tableName + `
		WHERE ` + where + `
		ORDER BY at DESC
		LIMIT ` + fmt.Sprintf("$%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("results: query: %w", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var r Summary
		if err := rows.Scan(&r.RunName, &r.Variant, &r.Model, &r.TopK, &r.Queries, &r.Hits, &r.HitRate, &r.At); err != nil {
			return nil, fmt.Errorf("results: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
