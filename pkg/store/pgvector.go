package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/deskhq/ragline/internal/models"
)

const metaTable = "ragline_index_meta"

type PgIndexConfig struct {
	ConnString string
	BaseTable  string // alias for the active versioned table
	VectorDim  int
	Lists      int // ivfflat lists parameter
}

// PgIndex stores index entries in PostgreSQL with pgvector. Every rebuild
// writes into a fresh versioned table and flips a meta-table pointer in one
// transaction, so concurrent readers observe either the fully-old or the
// fully-new index, never a mix.
type PgIndex struct {
	config PgIndexConfig
	pool   *pgxpool.Pool
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func NewPgIndex(ctx context.Context, config PgIndexConfig) (*PgIndex, error) {
	if config.BaseTable == "" {
		config.BaseTable = "ragline_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.Lists == 0 {
		config.Lists = 100
	}
	if !identRe.MatchString(config.BaseTable) {
		return nil, fmt.Errorf("invalid table name %q", config.BaseTable)
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	idx := &PgIndex{config: config, pool: pool}
	if err := idx.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (ix *PgIndex) initialize(ctx context.Context) error {
	if _, err := ix.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createMeta := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			alias TEXT PRIMARY KEY,
			active_table TEXT NOT NULL,
			model_id TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, metaTable)
	if _, err := ix.pool.Exec(ctx, createMeta); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	return nil
}

// Rebuild stages all entries into a new versioned table, then atomically
// repoints the alias. The previous version stays queryable until the swap
// commits and is dropped afterwards. Any failure before the swap leaves the
// active version untouched.
func (ix *PgIndex) Rebuild(ctx context.Context, modelID string, entries []models.IndexEntry) (string, error) {
	version := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	staging := fmt.Sprintf("%s_v%s", ix.config.BaseTable, version)

	if err := ix.stage(ctx, staging, entries); err != nil {
		ix.dropTable(ctx, staging)
		return "", &models.IndexWriteError{Err: err}
	}

	previous, err := ix.swap(ctx, staging, modelID)
	if err != nil {
		ix.dropTable(ctx, staging)
		return "", &models.IndexWriteError{Err: err}
	}

	if previous != "" && previous != staging {
		ix.dropTable(ctx, previous)
	}
	return version, nil
}

func (ix *PgIndex) stage(ctx context.Context, staging string, entries []models.IndexEntry) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE %s (
			chunk_id TEXT PRIMARY KEY,
			chunk_text TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB
		)`, staging, ix.config.VectorDim)
	if _, err := ix.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(
		"INSERT INTO %s (chunk_id, chunk_text, embedding, metadata) VALUES ($1, $2, $3, $4)",
		staging)
	for _, entry := range entries {
		_, err := tx.Exec(ctx, stmt,
			entry.ChunkID,
			entry.ChunkText,
			pgvector.NewVector(entry.Vector),
			entry.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", entry.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit staging writes: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`, staging, staging, ix.config.Lists)
	if _, err := ix.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

// swap repoints the alias row at the staging table and returns the previously
// active table name.
func (ix *PgIndex) swap(ctx context.Context, staging, modelID string) (string, error) {
	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin swap transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var previous string
	err = tx.QueryRow(ctx,
		fmt.Sprintf("SELECT active_table FROM %s WHERE alias = $1 FOR UPDATE", metaTable),
		ix.config.BaseTable,
	).Scan(&previous)
	if err != nil && err != pgx.ErrNoRows {
		return "", fmt.Errorf("failed to read active version: %w", err)
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (alias, active_table, model_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (alias) DO UPDATE SET
			active_table = EXCLUDED.active_table,
			model_id = EXCLUDED.model_id,
			updated_at = now()`, metaTable),
		ix.config.BaseTable, staging, modelID)
	if err != nil {
		return "", fmt.Errorf("failed to update alias: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit swap: %w", err)
	}
	return previous, nil
}

// DeleteAll removes the active version. Calling it on an already-empty index
// succeeds silently.
func (ix *PgIndex) DeleteAll(ctx context.Context) error {
	active, _, err := ix.activeVersion(ctx)
	if err != nil {
		return &models.IndexWriteError{Err: err}
	}
	if active == "" {
		return nil
	}

	_, err = ix.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE alias = $1", metaTable), ix.config.BaseTable)
	if err != nil {
		return &models.IndexWriteError{Err: fmt.Errorf("failed to clear alias: %w", err)}
	}
	ix.dropTable(ctx, active)
	return nil
}

// Search returns the k entries nearest to the query vector, scored by cosine
// similarity, ties broken by ascending chunk id.
func (ix *PgIndex) Search(ctx context.Context, vector []float32, k int) ([]models.RetrievalResult, error) {
	active, _, err := ix.activeVersion(ctx)
	if err != nil {
		return nil, err
	}
	if active == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT chunk_id, chunk_text, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1 ASC, chunk_id ASC
		LIMIT $2`, active)

	rows, err := ix.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievalResult
	for rows.Next() {
		var r models.RetrievalResult
		if err := rows.Scan(&r.ChunkID, &r.ChunkText, &r.Metadata, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (ix *PgIndex) Count(ctx context.Context) (int, error) {
	active, _, err := ix.activeVersion(ctx)
	if err != nil {
		return 0, err
	}
	if active == "" {
		return 0, nil
	}

	var n int
	err = ix.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", active)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// ActiveModel reports the embedding model the active version was built with,
// or "" when no version is active.
func (ix *PgIndex) ActiveModel(ctx context.Context) (string, error) {
	_, modelID, err := ix.activeVersion(ctx)
	return modelID, err
}

func (ix *PgIndex) activeVersion(ctx context.Context) (table, modelID string, err error) {
	err = ix.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT active_table, model_id FROM %s WHERE alias = $1", metaTable),
		ix.config.BaseTable,
	).Scan(&table, &modelID)
	if err == pgx.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read index meta: %w", err)
	}
	return table, modelID, nil
}

func (ix *PgIndex) dropTable(ctx context.Context, name string) {
	_, _ = ix.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name))
}

func (ix *PgIndex) Close() {
	if ix.pool != nil {
		ix.pool.Close()
	}
}
