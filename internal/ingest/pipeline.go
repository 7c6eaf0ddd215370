// Package ingest turns uploaded files into stored, embedded chunks. The
// pipeline is sequential except for embedding, which fans out over a
// bounded worker pool; the store write is one transaction, so a failed
// ingest leaves nothing behind.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/doclens/doclens/internal/chunk"
	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/loader"
	"github.com/doclens/doclens/internal/ragerr"
	"github.com/doclens/doclens/internal/store"
	"github.com/doclens/doclens/internal/telemetry"
)

// previewChars is how much of the first page is stored as the document
// preview.
const previewChars = 200

// batchTimeout bounds a single embedding batch.
const batchTimeout = 2 * time.Minute

// BatchEmbedder is the slice of the LLM client the pipeline needs.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// DocumentStore is the slice of the store the pipeline needs.
type DocumentStore interface {
	DocumentExists(ctx context.Context, filename string) (bool, error)
	IngestDocument(ctx context.Context, filename string, size int64, preview string, chunks []store.Chunk) (int64, error)
}

// Event is one progress record for a running ingest, shaped for the SSE
// upload stream.
type Event struct {
	JobID   string  `json:"job_id"`
	Type    string  `json:"type"` // message, result, or done
	Message string  `json:"message,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// Event types.
const (
	EventMessage = "message"
	EventResult  = "result"
	EventDone    = "done"
)

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(Event)

// Result summarizes one completed ingest.
type Result struct {
	JobID        string `json:"job_id"`
	DocumentID   int64  `json:"document_id"`
	Filename     string `json:"filename"`
	Pages        int    `json:"pages"`
	Chunks       int    `json:"chunks"`
	FailedChunks int    `json:"failed_chunks,omitempty"`
}

// Pipeline ingests documents end to end.
type Pipeline struct {
	store          DocumentStore
	embedder       BatchEmbedder
	chunker        *chunk.Chunker
	cfg            config.IngestConfig
	embeddingModel string
	metrics        *telemetry.Metrics
	logger         *slog.Logger
}

// New builds a Pipeline. metrics may be nil.
func New(st DocumentStore, embedder BatchEmbedder, chunker *chunk.Chunker, cfg config.IngestConfig, embeddingModel string, metrics *telemetry.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:          st,
		embedder:       embedder,
		chunker:        chunker,
		cfg:            cfg,
		embeddingModel: embeddingModel,
		metrics:        metrics,
		logger:         logger,
	}
}

// Ingest processes one document: duplicate check, load, chunk, embed,
// store. The store write happens in a single transaction after the
// embedding pool is fully joined. progress may be nil.
func (p *Pipeline) Ingest(ctx context.Context, filename string, content []byte, progress ProgressFunc) (*Result, error) {
	jobID := uuid.NewString()
	emit := func(typ, message string, result *Result) {
		if progress != nil {
			progress(Event{JobID: jobID, Type: typ, Message: message, Result: result})
		}
	}

	res, err := p.ingest(ctx, jobID, filename, content, emit)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IngestFailed()
		}
		p.logger.Error("ingest failed",
			slog.String("job_id", jobID),
			slog.String("filename", filename),
			slog.Any("error", err))
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.IngestCompleted()
	}
	p.logger.Info("document ingested",
		slog.String("job_id", jobID),
		slog.String("filename", filename),
		slog.Int("pages", res.Pages),
		slog.Int("chunks", res.Chunks))

	emit(EventResult, "", res)
	emit(EventDone, fmt.Sprintf("%s ingested", filename), nil)
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, jobID, filename string, content []byte, emit func(string, string, *Result)) (*Result, error) {
	emit(EventMessage, fmt.Sprintf("processing %s", filename), nil)

	exists, err := p.store.DocumentExists(ctx, filename)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ragerr.Duplicate(filename)
	}

	pages, err := loader.Load(filename, content)
	if err != nil {
		return nil, err
	}
	emit(EventMessage, fmt.Sprintf("extracted %d pages", len(pages)), nil)

	pieces, err := p.chunker.ChunkPages(pages)
	if err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, ragerr.DocumentProcessing(filename, "no text content after chunking")
	}
	emit(EventMessage, fmt.Sprintf("split into %d chunks", len(pieces)), nil)

	embeddings, failed, err := p.embedAll(ctx, pieces)
	if err != nil {
		return nil, err
	}
	if failed > 0 {
		rate := float64(len(pieces)-failed) / float64(len(pieces))
		if rate < p.cfg.EmbedSuccessRate {
			return nil, ragerr.Embedding(
				fmt.Sprintf("embedding success rate %.0f%% below threshold", rate*100),
				failed, len(pieces))
		}
		p.logger.Warn("partial embedding failure, continuing",
			slog.String("filename", filename),
			slog.Int("failed", failed),
			slog.Int("total", len(pieces)))
	}
	emit(EventMessage, fmt.Sprintf("embedded %d chunks", len(pieces)-failed), nil)

	chunks := assembleChunks(pieces, embeddings)
	docID, err := p.store.IngestDocument(ctx, filename, int64(len(content)), preview(pages), chunks)
	if err != nil {
		return nil, err
	}

	return &Result{
		JobID:        jobID,
		DocumentID:   docID,
		Filename:     filename,
		Pages:        len(pages),
		Chunks:       len(chunks),
		FailedChunks: failed,
	}, nil
}

// embedAll embeds every piece text in batches over a bounded pool. The
// returned slice is aligned with pieces; a nil entry marks a failed batch.
// Only a batch-level error counts as failure: the pool is joined before
// the caller proceeds.
func (p *Pipeline) embedAll(ctx context.Context, pieces []chunk.Piece) ([][]float32, int, error) {
	embeddings := make([][]float32, len(pieces))

	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.MaxWorkers > 0 {
		g.SetLimit(p.cfg.MaxWorkers)
	}

	type batchFailure struct{ start, end int }
	failedCh := make(chan batchFailure, (len(pieces)+batchSize-1)/batchSize)

	for start := 0; start < len(pieces); start += batchSize {
		end := start + batchSize
		if end > len(pieces) {
			end = len(pieces)
		}

		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = pieces[i].Text
			}

			bctx, cancel := context.WithTimeout(gctx, batchTimeout)
			defer cancel()

			vecs, err := p.embedder.EmbedBatch(bctx, p.embeddingModel, texts)
			if err != nil {
				// Connection-level failures abort the whole ingest; anything
				// else is a per-batch failure counted against the threshold.
				if ragerr.KindOf(err) == ragerr.KindOllamaConnection {
					return err
				}
				failedCh <- batchFailure{start, end}
				return nil
			}
			if len(vecs) != end-start {
				failedCh <- batchFailure{start, end}
				return nil
			}
			for i, v := range vecs {
				embeddings[start+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	close(failedCh)

	failed := 0
	for f := range failedCh {
		failed += f.end - f.start
	}
	return embeddings, failed, nil
}

// assembleChunks pairs successfully embedded pieces with store chunks,
// assigning contiguous 0-based indexes in reading order.
func assembleChunks(pieces []chunk.Piece, embeddings [][]float32) []store.Chunk {
	chunks := make([]store.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		if embeddings[i] == nil {
			continue
		}
		meta := store.ChunkMetadata{HasTable: piece.HasTable}
		if piece.PageNumber > 0 {
			page := piece.PageNumber
			meta.PageNumber = &page
		}
		if piece.SectionTitle != "" {
			title := piece.SectionTitle
			meta.SectionTitle = &title
		}
		chunks = append(chunks, store.Chunk{
			ChunkIndex: len(chunks),
			Text:       piece.Text,
			Embedding:  embeddings[i],
			Metadata:   meta,
		})
	}
	return chunks
}

// preview returns the leading text of the first page, trimmed to a fixed
// budget on a rune boundary.
func preview(pages []loader.Page) string {
	if len(pages) == 0 {
		return ""
	}
	text := strings.TrimSpace(pages[0].Text)
	runes := []rune(text)
	if len(runes) > previewChars {
		return string(runes[:previewChars])
	}
	return text
}
