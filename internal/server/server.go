// Package server is the HTTP surface: REST endpoints for documents,
// models, retrieval, and status, plus the SSE streams for chat, upload,
// and model pulls. Handlers validate at the boundary, call into the
// domain packages, and translate typed errors into the JSON envelope.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/doclens/doclens/internal/chat"
	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/ingest"
	"github.com/doclens/doclens/internal/llm"
	"github.com/doclens/doclens/internal/retrieval"
	"github.com/doclens/doclens/internal/state"
	"github.com/doclens/doclens/internal/store"
	"github.com/doclens/doclens/internal/telemetry"
	"github.com/doclens/doclens/pkg/version"
)

// LLMManager is the slice of the LLM client the handlers need.
type LLMManager interface {
	CheckConnection(ctx context.Context) (bool, string)
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
	PullModel(ctx context.Context, name string, fn func(llm.PullProgress) error) error
	DeleteModel(ctx context.Context, name string) error
	TestModel(ctx context.Context, model string) (string, error)
}

// Retriever serves the document test endpoint.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Result, error)
}

// Chatter streams chat completions.
type Chatter interface {
	Stream(ctx context.Context, req chat.Request) <-chan chat.StreamEvent
}

// Ingestor runs document ingests.
type Ingestor interface {
	Ingest(ctx context.Context, filename string, content []byte, progress ingest.ProgressFunc) (*ingest.Result, error)
}

// Dependencies carries everything the handlers call into.
type Dependencies struct {
	Store     store.Store
	LLM       LLMManager
	Retriever Retriever
	Chat      Chatter
	Ingestor  Ingestor
	State     *state.AppState
	Metrics   *telemetry.Metrics
}

// Server is the HTTP server.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	deps   Dependencies
	logger *slog.Logger
}

// New wires routes and middleware. The server is not listening yet; call
// Start.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, cfg: cfg, deps: deps, logger: logger}

	e.HTTPErrorHandler = s.handleError
	s.applyMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", s.handleHealth)

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)

	api.GET("/models", s.handleListModels)
	api.POST("/models/active", s.handleSetActiveModel)
	api.POST("/models/pull", s.handlePullModel)
	api.DELETE("/models/delete", s.handleDeleteModel)
	api.POST("/models/test", s.handleTestModel)

	api.GET("/documents/list", s.handleListDocuments)
	api.POST("/documents/upload", s.handleUpload)
	api.POST("/documents/test", s.handleDocumentsTest)
	api.DELETE("/documents/clear", s.requireAdmin(s.handleClearDocuments))

	api.POST("/chat", s.handleChat)
}

// Start listens until ctx is cancelled, then drains within the configured
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	s.logger.Info("http server listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server draining")
	return s.echo.Shutdown(shutdownCtx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()

	ollamaOK, _ := s.deps.LLM.CheckConnection(ctx)
	dbOK := s.deps.Store.Ping(ctx) == nil

	resp := map[string]any{
		"ollama_ok":      ollamaOK,
		"db_ok":          dbOK,
		"active_model":   s.deps.State.ActiveModel(),
		"document_count": s.deps.State.DocumentCount(),
	}
	if s.deps.Metrics != nil {
		resp["metrics"] = s.deps.Metrics.Snapshot()
	}
	return c.JSON(http.StatusOK, resp)
}
