package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/ragerr"
)

// uniqueViolation is the SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// Postgres implements Store over a pgx connection pool.
type Postgres struct {
	pool           *pgxpool.Pool
	dim            int
	acquireTimeout time.Duration
	logger         *slog.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects a pool per the database config. dim is the embedding
// dimension used for the vector column; it must already be verified against
// the embedding model.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, dim int, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, ragerr.Configuration(fmt.Sprintf("invalid DATABASE_URL: %v", err))
	}
	poolCfg.MinConns = int32(cfg.PoolMinConns)
	poolCfg.MaxConns = int32(cfg.PoolMaxConns)
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Registers the vector type so embeddings travel in binary form.
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, ragerr.DatabaseConnection(err, "pool creation")
	}

	return &Postgres{
		pool:           pool,
		dim:            dim,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger,
	}, nil
}

// acquire takes a pooled connection, waiting at most the configured acquire
// timeout. Exhaustion surfaces as DatabaseConnectionError.
func (p *Postgres) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ragerr.DatabaseConnection(err, "connection acquisition").
				WithDetail("timeout", p.acquireTimeout.String())
		}
		return nil, ragerr.DatabaseConnection(err, "connection acquisition")
	}
	return conn, nil
}

// Initialize ensures the extension, tables, and indexes exist. Calling it
// repeatedly leaves the schema unchanged. An existing embedding column with
// a different dimension is a fatal configuration error.
func (p *Postgres) Initialize(ctx context.Context) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT UNIQUE NOT NULL,
			file_size BIGINT NOT NULL DEFAULT 0,
			preview TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id BIGSERIAL PRIMARY KEY,
			document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			UNIQUE (document_id, chunk_index)
		)`, p.dim),
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id
			ON document_chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
			ON document_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}

	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return ragerr.DatabaseConnection(err, "schema initialization")
		}
	}

	if err := p.verifyDimension(ctx, conn); err != nil {
		return err
	}

	p.logger.Info("store initialized", slog.Int("embedding_dim", p.dim))
	return nil
}

var vectorTypeRe = regexp.MustCompile(`^vector\((\d+)\)$`)

// verifyDimension compares the live embedding column against the configured
// dimension. A mismatch means the store was built with a different model.
func (p *Postgres) verifyDimension(ctx context.Context, conn *pgxpool.Conn) error {
	var typ string
	err := conn.QueryRow(ctx, `
		SELECT format_type(atttypid, atttypmod)
		FROM pg_attribute
		WHERE attrelid = 'document_chunks'::regclass AND attname = 'embedding'
	`).Scan(&typ)
	if err != nil {
		return ragerr.DatabaseConnection(err, "dimension check")
	}

	m := vectorTypeRe.FindStringSubmatch(typ)
	if m == nil {
		return ragerr.Configuration(fmt.Sprintf("embedding column has unexpected type %q", typ))
	}
	existing, _ := strconv.Atoi(m[1])
	if existing != p.dim {
		return ragerr.Configuration(fmt.Sprintf(
			"existing store uses %d-dimensional embeddings but the embedding model produces %d; clear documents or switch models",
			existing, p.dim))
	}
	return nil
}

// Ping reports whether the database answers.
func (p *Postgres) Ping(ctx context.Context) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if err := conn.Ping(ctx); err != nil {
		return ragerr.DatabaseConnection(err, "ping")
	}
	return nil
}

// DocumentExists reports whether a document with this filename is stored.
func (p *Postgres) DocumentExists(ctx context.Context, filename string) (bool, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE filename = $1)`, filename).Scan(&exists)
	if err != nil {
		return false, ragerr.DatabaseConnection(err, "existence check")
	}
	return exists, nil
}

// InsertDocument inserts the document row and returns its ID.
func (p *Postgres) InsertDocument(ctx context.Context, filename string, size int64, preview string) (int64, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	return insertDocumentRow(ctx, conn, filename, size, preview)
}

// rowQuerier covers pool connections and transactions.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertDocumentRow(ctx context.Context, q rowQuerier, filename string, size int64, preview string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO documents (filename, file_size, preview) VALUES ($1, $2, NULLIF($3, ''))
		 RETURNING id`,
		filename, size, preview).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ragerr.Duplicate(filename)
		}
		return 0, ragerr.DatabaseConnection(err, "document insert")
	}
	return id, nil
}

// InsertChunksBatch inserts chunks for an existing document in one
// transaction, preserving chunk_index order.
func (p *Postgres) InsertChunksBatch(ctx context.Context, documentID int64, chunks []Chunk) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return ragerr.DatabaseConnection(err, "transaction begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := insertChunks(ctx, tx, documentID, chunks); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return ragerr.DatabaseConnection(err, "transaction commit")
	}
	return nil
}

func insertChunks(ctx context.Context, tx pgx.Tx, documentID int64, chunks []Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		// pgvector.NewVector hands the engine a native vector parameter;
		// a stringified array would be stored as text and break <=>.
		batch.Queue(
			`INSERT INTO document_chunks (document_id, chunk_index, chunk_text, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5)`,
			documentID, c.ChunkIndex, c.Text, pgvector.NewVector(c.Embedding), meta)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ragerr.DatabaseConnection(err, "chunk insert").
					WithDetail("reason", "chunk_index collision")
			}
			return ragerr.DatabaseConnection(err, "chunk insert")
		}
	}
	return nil
}

// IngestDocument inserts the document and all its chunks atomically.
func (p *Postgres) IngestDocument(ctx context.Context, filename string, size int64, preview string, chunks []Chunk) (int64, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, ragerr.DatabaseConnection(err, "transaction begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	id, err := insertDocumentRow(ctx, tx, filename, size, preview)
	if err != nil {
		return 0, err
	}
	if err := insertChunks(ctx, tx, id, chunks); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, ragerr.DatabaseConnection(err, "transaction commit")
	}
	return id, nil
}

// GetAllDocuments lists documents with chunk counts, newest first.
func (p *Postgres) GetAllDocuments(ctx context.Context) ([]Document, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT d.id, d.filename, d.file_size, COALESCE(d.preview, ''), d.created_at, COUNT(c.id)
		FROM documents d
		LEFT JOIN document_chunks c ON c.document_id = d.id
		GROUP BY d.id
		ORDER BY d.created_at DESC, d.id DESC
	`)
	if err != nil {
		return nil, ragerr.DatabaseConnection(err, "document list")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.FileSize, &d.Preview, &d.CreatedAt, &d.ChunkCount); err != nil {
			return nil, ragerr.DatabaseConnection(err, "document scan")
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.DatabaseConnection(err, "document list")
	}
	return docs, nil
}

// GetDocumentCount returns the number of stored documents.
func (p *Postgres) GetDocumentCount(ctx context.Context) (int, error) {
	return p.scalarCount(ctx, `SELECT COUNT(*) FROM documents`)
}

// GetChunkCount returns the number of stored chunks.
func (p *Postgres) GetChunkCount(ctx context.Context) (int, error) {
	return p.scalarCount(ctx, `SELECT COUNT(*) FROM document_chunks`)
}

func (p *Postgres) scalarCount(ctx context.Context, query string) (int, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	var n int
	if err := conn.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, ragerr.DatabaseConnection(err, "count")
	}
	return n, nil
}

// SearchSimilarChunks runs cosine k-NN over chunk embeddings.
func (p *Postgres) SearchSimilarChunks(ctx context.Context, embedding []float32, topK int, fileTypeFilter string) ([]SearchResult, error) {
	if len(embedding) != p.dim {
		return nil, ragerr.Newf(ragerr.KindSearch, "query embedding has dimension %d, store expects %d", len(embedding), p.dim)
	}

	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	query := `
		SELECT c.chunk_text, d.filename, c.chunk_index,
		       1 - (c.embedding <=> $1) AS similarity,
		       c.metadata
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id`
	args := []any{pgvector.NewVector(embedding), topK}
	if fileTypeFilter != "" {
		query += `
		WHERE d.filename ILIKE '%' || $3`
		args = append(args, fileTypeFilter)
	}
	query += `
		ORDER BY c.embedding <=> $1
		LIMIT $2`

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, ragerr.DatabaseConnection(err, "similarity search")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			meta []byte
		)
		if err := rows.Scan(&r.ChunkText, &r.Filename, &r.ChunkIndex, &r.Similarity, &meta); err != nil {
			return nil, ragerr.DatabaseConnection(err, "result scan")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				p.logger.Warn("skipping malformed chunk metadata",
					slog.String("filename", r.Filename),
					slog.Int("chunk_index", r.ChunkIndex))
			}
		}
		r.Similarity = clampUnit(r.Similarity)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.DatabaseConnection(err, "similarity search")
	}
	return results, nil
}

// clampUnit clips cosine similarity into [0,1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DeleteDocument removes a document; its chunks cascade.
func (p *Postgres) DeleteDocument(ctx context.Context, id int64) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return ragerr.DatabaseConnection(err, "document delete")
	}
	if tag.RowsAffected() == 0 {
		return ragerr.NotFound(fmt.Sprintf("document %d", id))
	}
	return nil
}

// DeleteAllDocuments clears the store.
func (p *Postgres) DeleteAllDocuments(ctx context.Context) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `DELETE FROM documents`); err != nil {
		return ragerr.DatabaseConnection(err, "clear")
	}
	return nil
}

// Close drains the pool, waiting no longer than the context allows.
func (p *Postgres) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pool.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool close timed out: %w", ctx.Err())
	}
}
