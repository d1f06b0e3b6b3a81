package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// pgIndex keeps vectors in a Postgres table next to the document store.
type pgIndex struct {
	db    *sql.DB
	table string
	dim   int
}

func init() {
	Register("pgvector", createPGIndex)
}

func createPGIndex(ctx context.Context, args Args) (Index, error) {
	if args.DB == nil {
		return nil, fmt.Errorf("pgvector index needs a database")
	}
	return OpenPG(ctx, args.DB, args.Name, args.Dimension)
}

// OpenPG creates the vector table named table if needed.
func OpenPG(ctx context.Context, db *sql.DB, table string, dim int) (Index, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid vector table name: %q", table)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			mtime BIGINT NOT NULL
		)`, table, dim),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("prepare vector table: %w", err)
		}
	}
	return &pgIndex{db: db, table: table, dim: dim}, nil
}

func (p *pgIndex) Upsert(ctx context.Context, records []model.VectorRecord) error {
	if err := checkRecords(records, p.dim); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata_json, mtime)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata_json = EXCLUDED.metadata_json,
			mtime = EXCLUDED.mtime
	`, p.table)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := timeutil.NowUnix()
	for _, rec := range records {
		meta, err := encodeMeta(rec.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, rec.ID, pgvector.NewVector(rec.Values), meta, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *pgIndex) Query(ctx context.Context, vector []float32, topK int, filter model.Metadata) ([]model.VectorMatch, error) {
	if err := checkQuery(vector, topK, p.dim); err != nil {
		return nil, err
	}
	where := ""
	args := []interface{}{pgvector.NewVector(vector), topK}
	if len(filter) > 0 {
		raw, err := encodeMeta(filter)
		if err != nil {
			return nil, err
		}
		where = "WHERE metadata_json::jsonb @> $3::jsonb"
		args = append(args, raw)
	}
	query := fmt.Sprintf(`
		SELECT id, metadata_json, 1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1, id
		LIMIT $2
	`, p.table, where)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.VectorMatch
	for rows.Next() {
		var (
			m     model.VectorMatch
			meta  string
			score float64
		)
		if err := rows.Scan(&m.ID, &meta, &score); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		if m.Metadata, err = decodeMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *pgIndex) Fetch(ctx context.Context, ids []string) ([]model.VectorRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id, embedding, metadata_json FROM %s WHERE id = ANY($1)`, p.table)
	rows, err := p.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.VectorRecord
	for rows.Next() {
		var (
			rec  model.VectorRecord
			vec  pgvector.Vector
			meta string
		)
		if err := rows.Scan(&rec.ID, &vec, &meta); err != nil {
			return nil, err
		}
		rec.Values = vec.Slice()
		if rec.Metadata, err = decodeMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *pgIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.table), pq.Array(ids))
	return err
}

func (p *pgIndex) DeleteAll(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, p.table))
	return err
}

func (p *pgIndex) Stats(ctx context.Context) (model.IndexStats, error) {
	var count int64
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(1) FROM %s`, p.table)).Scan(&count); err != nil {
		return model.IndexStats{}, err
	}
	return model.IndexStats{Count: count, Dimension: p.dim}, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (p *pgIndex) Close() error {
	return nil
}

func encodeMeta(m model.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMeta(raw string) (model.Metadata, error) {
	if raw == "" || raw == "{}" {
		return model.Metadata{}, nil
	}
	var m model.Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", err)
	}
	return m, nil
}
