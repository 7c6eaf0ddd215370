package cmd

import (
	"context"
	"log/slog"

	"github.com/doclens/doclens/internal/chunk"
	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/ingest"
	"github.com/doclens/doclens/internal/llm"
	"github.com/doclens/doclens/internal/logging"
	"github.com/doclens/doclens/internal/store"
	"github.com/doclens/doclens/internal/telemetry"
)

// stack is the wired core shared by the commands: config, logging, the
// LLM client, and the Postgres store.
type stack struct {
	cfg            *config.Config
	logger         *slog.Logger
	llm            *llm.Client
	store          *store.Postgres
	metrics        *telemetry.Metrics
	embeddingModel string

	cleanups []func()
}

// openStack loads config and connects the LLM client and store. mcpMode
// routes logs to file only, keeping stdout clean for JSON-RPC.
func openStack(ctx context.Context, mcpMode bool) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	s := &stack{cfg: cfg, metrics: telemetry.New()}

	logCfg := logging.DefaultConfig(cfg.Logging.DataDir, cfg.Logging.Level)
	if mcpMode {
		logCfg.WriteToStderr = false
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	s.logger = logger
	s.cleanups = append(s.cleanups, logCleanup)

	s.llm = llm.NewClient(cfg.LLM.BaseURL,
		llm.WithTimeout(cfg.LLM.RequestTimeout),
		llm.WithLogger(logger))
	s.cleanups = append(s.cleanups, s.llm.Close)

	s.embeddingModel, err = s.resolveEmbeddingModel(ctx)
	if err != nil {
		s.close()
		return nil, err
	}

	dim := cfg.LLM.EmbeddingDim
	if probed, err := s.llm.DetectDimension(ctx, s.embeddingModel); err == nil {
		if probed != dim {
			logger.Info("embedding dimension probed",
				slog.Int("configured", dim), slog.Int("probed", probed))
		}
		dim = probed
	} else {
		logger.Warn("cannot probe embedding dimension, using configured value",
			slog.Int("dim", dim), slog.Any("error", err))
	}

	pg, err := store.NewPostgres(ctx, cfg.Database, dim, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	if err := pg.Initialize(ctx); err != nil {
		_ = pg.Close(ctx)
		s.close()
		return nil, err
	}
	s.store = pg
	s.cleanups = append(s.cleanups, func() {
		_ = pg.Close(context.Background())
	})

	return s, nil
}

// resolveEmbeddingModel uses the configured model, falling back to the
// best available embedding model on the server.
func (s *stack) resolveEmbeddingModel(ctx context.Context) (string, error) {
	preferred := []string{s.cfg.LLM.EmbeddingModel}
	return s.llm.PickEmbeddingModel(ctx, preferred)
}

func (s *stack) pipeline() *ingest.Pipeline {
	chunker := chunk.New(s.cfg.Chunking)
	return ingest.New(s.store, s.llm, chunker, s.cfg.Ingest, s.embeddingModel, s.metrics, s.logger)
}

func (s *stack) close() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}
