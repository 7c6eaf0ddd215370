package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/doclens/doclens/internal/llm"
	"github.com/doclens/doclens/internal/ragerr"
)

func (s *Server) handleListModels(c echo.Context) error {
	models, err := s.deps.LLM.ListModels(c.Request().Context())
	if err != nil {
		return err
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	return c.JSON(http.StatusOK, map[string]any{"models": models})
}

// handleSetActiveModel records the chat model used by default. The model
// must already be present on the LLM server.
func (s *Server) handleSetActiveModel(c echo.Context) error {
	var req modelRequest
	if err := c.Bind(&req); err != nil {
		return ragerr.Validation("invalid JSON body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	models, err := s.deps.LLM.ListModels(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, m := range models {
		if m.Name == req.Model {
			found = true
			break
		}
	}
	if !found {
		return ragerr.NotFound("model " + req.Model)
	}

	if err := s.deps.State.SetActiveModel(req.Model); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"active_model": req.Model})
}

// handlePullModel streams pull progress as SSE. The stream runs until the
// pull completes or the client disconnects.
func (s *Server) handlePullModel(c echo.Context) error {
	var req modelRequest
	if err := c.Bind(&req); err != nil {
		return ragerr.Validation("invalid JSON body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	sseStart(c)
	ctx := c.Request().Context()

	err := s.deps.LLM.PullModel(ctx, req.Model, func(p llm.PullProgress) error {
		return sseSend(c, p)
	})
	if err != nil {
		sseSendError(c, err)
		return nil
	}
	return sseSend(c, map[string]any{"done": true})
}

func (s *Server) handleDeleteModel(c echo.Context) error {
	var req modelRequest
	if err := c.Bind(&req); err != nil {
		return ragerr.Validation("invalid JSON body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	if err := s.deps.LLM.DeleteModel(c.Request().Context(), req.Model); err != nil {
		return err
	}

	// Deleting the active model clears the pointer.
	if s.deps.State.ActiveModel() == req.Model {
		if err := s.deps.State.SetActiveModel(""); err != nil {
			s.logger.Warn("cannot clear active model", "error", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// handleTestModel runs a one-shot prompt against the model and returns
// the sample completion.
func (s *Server) handleTestModel(c echo.Context) error {
	var req modelRequest
	if err := c.Bind(&req); err != nil {
		return ragerr.Validation("invalid JSON body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	sample, err := s.deps.LLM.TestModel(c.Request().Context(), req.Model)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "sample": sample})
}
