package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/doclens/doclens/internal/cache"
	"github.com/doclens/doclens/internal/chat"
	"github.com/doclens/doclens/internal/ingest"
	"github.com/doclens/doclens/internal/mcp"
	"github.com/doclens/doclens/internal/retrieval"
	"github.com/doclens/doclens/internal/server"
	"github.com/doclens/doclens/internal/state"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the doclens HTTP server: document upload and management, model
management, retrieval testing, and streaming chat. Connects to Postgres
and the LLM server at startup and shuts down gracefully on SIGINT or
SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			st, err := state.Open(s.cfg.Logging.DataDir)
			if err != nil {
				return err
			}
			if n, err := s.store.GetDocumentCount(ctx); err == nil {
				if err := st.SetDocumentCount(n); err != nil {
					s.logger.Warn("cannot persist document count", slog.Any("error", err))
				}
			}

			backend := cache.NewBackend(ctx, s.cfg.Cache, s.logger)
			queryCache := cache.NewQueryCache(backend, s.cfg.Cache.EmbeddingTTL, s.cfg.Cache.ResultTTL)

			retriever := retrieval.New(s.store, s.llm, queryCache, s.metrics,
				s.cfg.Retrieval, s.embeddingModel, s.logger)
			orchestrator := chat.New(s.llm, retriever, s.cfg.LLM,
				s.cfg.Retrieval.MaxContextChars, s.logger)
			pipeline := s.pipeline()

			if dir := s.cfg.Ingest.WatchDir; dir != "" {
				watcher := ingest.NewWatcher(pipeline, dir, s.logger)
				go func() {
					if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
						s.logger.Error("watcher stopped", slog.Any("error", err))
					}
				}()
			}

			srv := server.New(s.cfg, server.Dependencies{
				Store:     s.store,
				LLM:       s.llm,
				Retriever: retriever,
				Chat:      orchestrator,
				Ingestor:  pipeline,
				State:     st,
				Metrics:   s.metrics,
			}, s.logger)
			return srv.Start(ctx)
		},
	}
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the document corpus over MCP on stdio",
		Long: `Run a Model Context Protocol server on stdio, exposing
search_documents, list_documents, and status tools to MCP-capable
clients. Stdout carries JSON-RPC; logs go to the data directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStack(ctx, true)
			if err != nil {
				return err
			}
			defer s.close()

			st, err := state.Open(s.cfg.Logging.DataDir)
			if err != nil {
				return err
			}

			backend := cache.NewBackend(ctx, s.cfg.Cache, s.logger)
			queryCache := cache.NewQueryCache(backend, s.cfg.Cache.EmbeddingTTL, s.cfg.Cache.ResultTTL)
			retriever := retrieval.New(s.store, s.llm, queryCache, s.metrics,
				s.cfg.Retrieval, s.embeddingModel, s.logger)

			mcpServer, err := mcp.NewServer(retriever, s.store, st, s.logger)
			if err != nil {
				return err
			}
			return mcpServer.Run(ctx)
		},
	}
}
