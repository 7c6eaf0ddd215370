// Package mcp exposes the document corpus over the Model Context
// Protocol. The server speaks JSON-RPC on stdio, so MCP-capable clients
// can search and inspect the local corpus without the HTTP API. Stdout
// is reserved for the protocol; logs must go elsewhere.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/doclens/doclens/internal/retrieval"
	"github.com/doclens/doclens/internal/state"
	"github.com/doclens/doclens/internal/store"
	"github.com/doclens/doclens/pkg/version"
)

// Retriever runs document searches for the search tool.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Result, error)
}

// DocumentLister backs the list and status tools.
type DocumentLister interface {
	GetAllDocuments(ctx context.Context) ([]store.Document, error)
	GetChunkCount(ctx context.Context) (int, error)
}

// Server is the stdio MCP server.
type Server struct {
	mcp       *mcp.Server
	retriever Retriever
	docs      DocumentLister
	state     *state.AppState
	logger    *slog.Logger
}

// NewServer wires the tools. state may be nil; the status tool then
// omits the active model.
func NewServer(retriever Retriever, docs DocumentLister, st *state.AppState, logger *slog.Logger) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if docs == nil {
		return nil, errors.New("document store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		retriever: retriever,
		docs:      docs,
		state:     st,
		logger:    logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "doclens",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Search the local document corpus semantically. Returns the most relevant chunks with filename, page, and relevance score. Use for questions about the ingested documents.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_documents",
		Description: "List every ingested document with its size and chunk count.",
	}, s.listHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Report corpus status: document and chunk counts and the active chat model.",
	}, s.statusHandler)

	s.logger.Debug("mcp tools registered", slog.Int("count", 3))
}

// Run serves JSON-RPC on stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting on stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp server stopped", slog.Any("error", err))
		return err
	}
	s.logger.Info("mcp server stopped")
	return nil
}

// SearchInput are the search_documents parameters.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum results to return (default 5)"`
}

// SearchResultOutput is one hit in SearchOutput.
type SearchResultOutput struct {
	Filename     string  `json:"filename"`
	ChunkIndex   int     `json:"chunk_index"`
	Relevance    float64 `json:"relevance"`
	Text         string  `json:"text"`
	PageNumber   int     `json:"page_number,omitempty"`
	SectionTitle string  `json:"section_title,omitempty"`
}

// SearchOutput is the search_documents result.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, errors.New("query parameter is required")
	}
	if input.TopK < 0 || input.TopK > 100 {
		return nil, SearchOutput{}, errors.New("top_k must be 1..100")
	}

	results, err := s.retriever.Retrieve(ctx, input.Query, retrieval.Options{TopK: input.TopK})
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		entry := SearchResultOutput{
			Filename:   r.Filename,
			ChunkIndex: r.ChunkIndex,
			Relevance:  r.Similarity,
			Text:       r.ChunkText,
		}
		if r.Metadata.PageNumber != nil {
			entry.PageNumber = *r.Metadata.PageNumber
		}
		if r.Metadata.SectionTitle != nil {
			entry.SectionTitle = *r.Metadata.SectionTitle
		}
		out.Results = append(out.Results, entry)
	}
	return nil, out, nil
}

// ListInput is empty; list_documents takes no parameters.
type ListInput struct{}

// DocumentOutput is one document in ListOutput.
type DocumentOutput struct {
	Filename   string `json:"filename"`
	FileSize   int64  `json:"file_size"`
	ChunkCount int    `json:"chunk_count"`
	CreatedAt  string `json:"created_at"`
}

// ListOutput is the list_documents result.
type ListOutput struct {
	Documents []DocumentOutput `json:"documents"`
}

func (s *Server) listHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, ListOutput, error) {
	docs, err := s.docs.GetAllDocuments(ctx)
	if err != nil {
		return nil, ListOutput{}, err
	}

	out := ListOutput{Documents: make([]DocumentOutput, 0, len(docs))}
	for _, d := range docs {
		out.Documents = append(out.Documents, DocumentOutput{
			Filename:   d.Filename,
			FileSize:   d.FileSize,
			ChunkCount: d.ChunkCount,
			CreatedAt:  d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return nil, out, nil
}

// StatusInput is empty; status takes no parameters.
type StatusInput struct{}

// StatusOutput is the status result.
type StatusOutput struct {
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
	ActiveModel   string `json:"active_model,omitempty"`
}

func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	docs, err := s.docs.GetAllDocuments(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	chunks, err := s.docs.GetChunkCount(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}

	out := StatusOutput{DocumentCount: len(docs), ChunkCount: chunks}
	if s.state != nil {
		out.ActiveModel = s.state.ActiveModel()
	}
	return nil, out, nil
}
