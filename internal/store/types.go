// Package store is the persistence layer: documents and their chunk
// embeddings in Postgres with the pgvector extension. The Postgres
// implementation exclusively owns the connection pool; nothing else in the
// process talks to the database.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Document is a persisted source file.
type Document struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	FileSize  int64     `json:"file_size"`
	Preview   string    `json:"preview,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// ChunkCount is populated by GetAllDocuments.
	ChunkCount int `json:"chunk_count"`
}

// Chunk is one retrievable unit of a document. ID and DocumentID are
// store-assigned and zero before insertion.
type Chunk struct {
	ID         int64
	DocumentID int64
	ChunkIndex int
	Text       string
	Embedding  []float32
	Metadata   ChunkMetadata
}

// ChunkMetadata is the open metadata record attached to each chunk.
// Known fields are typed; unknown keys survive round-trips in Extra.
type ChunkMetadata struct {
	PageNumber   *int
	SectionTitle *string
	HasTable     bool
	Extra        map[string]any
}

// MarshalJSON flattens known fields and Extra into one object.
func (m ChunkMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.PageNumber != nil {
		out["page_number"] = *m.PageNumber
	}
	if m.SectionTitle != nil {
		out["section_title"] = *m.SectionTitle
	}
	if m.HasTable {
		out["has_table"] = true
	}
	return json.Marshal(out)
}

// UnmarshalJSON pulls known fields out and keeps the rest in Extra.
func (m *ChunkMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = ChunkMetadata{}
	for key, val := range raw {
		switch key {
		case "page_number":
			var p int
			if err := json.Unmarshal(val, &p); err == nil {
				m.PageNumber = &p
				continue
			}
		case "section_title":
			var s string
			if err := json.Unmarshal(val, &s); err == nil {
				m.SectionTitle = &s
				continue
			}
		case "has_table":
			var b bool
			if err := json.Unmarshal(val, &b); err == nil {
				m.HasTable = b
				continue
			}
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[key] = v
	}
	return nil
}

// SearchResult is one k-NN hit. Similarity is cosine similarity in [0,1].
type SearchResult struct {
	ChunkText  string
	Filename   string
	ChunkIndex int
	Similarity float64
	Metadata   ChunkMetadata
}

// Store is the persistence contract. The production implementation is
// Postgres; tests substitute fakes.
type Store interface {
	// Initialize ensures the extension, tables, and indexes exist.
	// Idempotent; safe to call on every startup.
	Initialize(ctx context.Context) error

	// Ping reports whether the database answers.
	Ping(ctx context.Context) error

	DocumentExists(ctx context.Context, filename string) (bool, error)

	// InsertDocument inserts the document row alone. Filename collisions
	// fail with a duplicate FileUploadError.
	InsertDocument(ctx context.Context, filename string, size int64, preview string) (int64, error)

	// InsertChunksBatch inserts chunks for an existing document atomically,
	// in chunk_index order, within a single transaction.
	InsertChunksBatch(ctx context.Context, documentID int64, chunks []Chunk) error

	// IngestDocument inserts the document and all its chunks in one
	// transaction. On any failure nothing is persisted.
	IngestDocument(ctx context.Context, filename string, size int64, preview string, chunks []Chunk) (int64, error)

	GetAllDocuments(ctx context.Context) ([]Document, error)
	GetDocumentCount(ctx context.Context) (int, error)
	GetChunkCount(ctx context.Context) (int, error)

	// SearchSimilarChunks returns the topK nearest chunks by cosine
	// distance, most similar first. fileTypeFilter, when non-empty,
	// restricts results to filenames with that suffix (".pdf").
	// An empty store yields an empty slice, not an error.
	SearchSimilarChunks(ctx context.Context, embedding []float32, topK int, fileTypeFilter string) ([]SearchResult, error)

	DeleteDocument(ctx context.Context, id int64) error
	DeleteAllDocuments(ctx context.Context) error

	// Close drains and closes the pool, waiting no longer than the context.
	Close(ctx context.Context) error
}
