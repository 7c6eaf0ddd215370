package server

import (
	"github.com/labstack/echo/v4"

	"github.com/doclens/doclens/internal/chat"
	"github.com/doclens/doclens/internal/ragerr"
	"github.com/doclens/doclens/internal/retrieval"
)

// handleChat streams the completion as SSE: one {"content": ...} event
// per fragment, then {"done": true}. A mid-stream failure becomes a
// terminal error event because the headers are already on the wire.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return ragerr.Validation("invalid JSON body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	model := req.Model
	if model == "" {
		model = s.deps.State.ActiveModel()
	}

	sseStart(c)
	ctx := c.Request().Context()

	events := s.deps.Chat.Stream(ctx, chat.Request{
		Message: req.Message,
		History: req.messages(),
		UseRAG:  req.UseRAG,
		TopK:    req.TopK,
		Model:   model,
	})

	for ev := range events {
		switch {
		case ev.Err != nil:
			if ctx.Err() != nil {
				return nil
			}
			sseSendError(c, ev.Err)
			return nil
		case ev.Done:
			payload := map[string]any{"done": true}
			if len(ev.Sources) > 0 {
				payload["sources"] = sourceList(ev.Sources)
			}
			return sseSend(c, payload)
		default:
			if err := sseSend(c, map[string]string{"content": ev.Content}); err != nil {
				// Client went away; the context cancellation tears down the
				// upstream stream.
				return nil
			}
		}
	}
	return nil
}

type sourceRef struct {
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
}

func sourceList(results []retrieval.Result) []sourceRef {
	out := make([]sourceRef, len(results))
	for i, r := range results {
		out[i] = sourceRef{Filename: r.Filename, ChunkIndex: r.ChunkIndex, Similarity: r.Similarity}
	}
	return out
}
