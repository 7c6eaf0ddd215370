package server

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/doclens/doclens/internal/ingest"
	"github.com/doclens/doclens/internal/ragerr"
	"github.com/doclens/doclens/internal/retrieval"
	"github.com/doclens/doclens/internal/store"
)

// resultPreviewChars bounds the chunk preview in search test responses.
const resultPreviewChars = 200

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.deps.Store.GetAllDocuments(c.Request().Context())
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

// handleUpload ingests the multipart files one by one, streaming progress
// as SSE. Per-file failures are reported as events; the stream itself
// always ends with a done event.
func (s *Server) handleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return ragerr.Validation("multipart form required")
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		return ragerr.Validation("no files in upload")
	}

	// Validate everything up front so a bad file fails the request before
	// the stream starts.
	for _, fh := range files {
		if err := validateUploadFile(fh.Filename, fh.Size); err != nil {
			return err
		}
	}

	sseStart(c)
	ctx := c.Request().Context()

	completed := 0
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			sseSendError(c, ragerr.UploadRejected(fh.Filename, "cannot read file"))
			continue
		}
		content, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
		src.Close()
		if err != nil {
			sseSendError(c, ragerr.UploadRejected(fh.Filename, "cannot read file"))
			continue
		}
		if int64(len(content)) > maxUploadBytes {
			sseSendError(c, ragerr.UploadRejected(fh.Filename, "file exceeds 16 MiB"))
			continue
		}

		_, err = s.deps.Ingestor.Ingest(ctx, fh.Filename, content, func(ev ingest.Event) {
			if ev.Type == ingest.EventDone {
				// The stream-level done event closes the whole upload.
				return
			}
			_ = sseSend(c, ev)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			sseSendError(c, err)
			continue
		}
		completed++
	}

	s.refreshDocumentCount(ctx)
	return sseSend(c, map[string]any{"done": true, "ingested": completed, "total": len(files)})
}

// handleDocumentsTest runs a retrieval without the LLM so operators can
// inspect what the chat endpoint would see.
func (s *Server) handleDocumentsTest(c echo.Context) error {
	var req documentsTestRequest
	if err := c.Bind(&req); err != nil {
		return ragerr.Validation("invalid JSON body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	results, err := s.deps.Retriever.Retrieve(c.Request().Context(), req.Query, retrieval.Options{
		TopK:           req.TopK,
		FileTypeFilter: req.FileType,
	})
	if err != nil {
		return err
	}

	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		entry := map[string]any{
			"filename":    r.Filename,
			"chunk_index": r.ChunkIndex,
			"similarity":  r.Similarity,
			"score":       r.Score,
			"preview":     truncateRunes(r.ChunkText, resultPreviewChars),
			"length":      len(r.ChunkText),
		}
		if r.Metadata.PageNumber != nil {
			entry["page_number"] = *r.Metadata.PageNumber
		}
		if r.Metadata.SectionTitle != nil {
			entry["section_title"] = *r.Metadata.SectionTitle
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleClearDocuments(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.deps.Store.DeleteAllDocuments(ctx); err != nil {
		return err
	}
	s.refreshDocumentCount(ctx)
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// refreshDocumentCount re-reads the count from the store into the
// persisted state. Failures are logged, not surfaced: the count is
// advisory.
func (s *Server) refreshDocumentCount(ctx context.Context) {
	n, err := s.deps.Store.GetDocumentCount(ctx)
	if err != nil {
		s.logger.Warn("cannot refresh document count", "error", err)
		return
	}
	if err := s.deps.State.SetDocumentCount(n); err != nil {
		s.logger.Warn("cannot persist document count", "error", err)
	}
}

// truncateRunes trims s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
