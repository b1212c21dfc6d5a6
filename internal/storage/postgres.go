// internal/storage/postgres.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores every collection in one jsonb table.
type Postgres struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgres connects to dsn and initializes the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Postgres{db: pool, now: time.Now}, nil
}

func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
		    collection TEXT NOT NULL,
		    id TEXT NOT NULL,
		    data JSONB NOT NULL,
		    seq BIGSERIAL,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    PRIMARY KEY (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_documents_collection_seq ON documents(collection, seq);
		CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops);
	`
	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *Postgres) Close() {
	p.db.Close()
}

func (p *Postgres) PutDocument(ctx context.Context, collection, id string, doc any) (string, error) {
	data, err := p.encode(doc)
	if err != nil {
		return "", err
	}
	id = newID(id)

	query := `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
	          ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`
	if _, err := p.db.Exec(ctx, query, collection, id, data); err != nil {
		return "", fmt.Errorf("failed to put document %s/%s: %w", collection, id, err)
	}
	return id, nil
}

func (p *Postgres) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := p.db.QueryRow(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}
	return decodeRow(id, raw)
}

func (p *Postgres) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	data, err := p.encode(fields)
	if err != nil {
		return err
	}
	result, err := p.db.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`,
		collection, id, data)
	if err != nil {
		return fmt.Errorf("failed to update document %s/%s: %w", collection, id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementCounter runs as a single UPDATE so concurrent increments never
// lose a write.
func (p *Postgres) IncrementCounter(ctx context.Context, collection, id, field string, delta int64) error {
	query := `UPDATE documents
	          SET data = jsonb_set(data, ARRAY[$3::text], to_jsonb(COALESCE((data->>$3)::numeric, 0) + $4)),
	              updated_at = NOW()
	          WHERE collection = $1 AND id = $2`
	result, err := p.db.Exec(ctx, query, collection, id, field, delta)
	if err != nil {
		var pgErr *pgconn.PgError
		// invalid_text_representation: the field holds something that is not a number
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return fmt.Errorf("%w: field %s is not a number", ErrConflict, field)
		}
		return fmt.Errorf("failed to increment %s on %s/%s: %w", field, collection, id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListDocuments(ctx context.Context, collection string, filter map[string]any) ([]Document, error) {
	data, err := p.encode(filter)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx,
		`SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY seq`,
		collection, data)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *Postgres) encode(v any) (string, error) {
	fields, err := normalize(v, p.now())
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	return string(raw), nil
}

func decodeRow(id string, raw []byte) (Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("failed to unmarshal document %s: %w", id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}
