package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclens/doclens/internal/retrieval"
	"github.com/doclens/doclens/internal/state"
	"github.com/doclens/doclens/internal/store"
)

type fakeRetriever struct {
	results  []retrieval.Result
	err      error
	gotQuery string
	gotOpts  retrieval.Options
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Result, error) {
	f.gotQuery = query
	f.gotOpts = opts
	return f.results, f.err
}

type fakeDocs struct {
	docs   []store.Document
	chunks int
}

func (f *fakeDocs) GetAllDocuments(ctx context.Context) ([]store.Document, error) {
	return f.docs, nil
}
func (f *fakeDocs) GetChunkCount(ctx context.Context) (int, error) { return f.chunks, nil }

func newTestMCP(t *testing.T, retr *fakeRetriever, docs *fakeDocs) *Server {
	t.Helper()
	st, err := state.Open(t.TempDir())
	require.NoError(t, err)
	s, err := NewServer(retr, docs, st, nil)
	require.NoError(t, err)
	return s
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, &fakeDocs{}, nil, nil)
	assert.Error(t, err)

	_, err = NewServer(&fakeRetriever{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestSearchHandler(t *testing.T) {
	page := 3
	section := "Fees"
	retr := &fakeRetriever{results: []retrieval.Result{{
		ChunkText:  "The fee is 2%.",
		Filename:   "terms.pdf",
		ChunkIndex: 4,
		Similarity: 0.83,
		Metadata:   store.ChunkMetadata{PageNumber: &page, SectionTitle: &section},
	}}}
	s := newTestMCP(t, retr, &fakeDocs{})

	_, out, err := s.searchHandler(context.Background(), nil, SearchInput{Query: "fees", TopK: 3})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)

	r := out.Results[0]
	assert.Equal(t, "terms.pdf", r.Filename)
	assert.Equal(t, 4, r.ChunkIndex)
	assert.Equal(t, 0.83, r.Relevance)
	assert.Equal(t, 3, r.PageNumber)
	assert.Equal(t, "Fees", r.SectionTitle)

	assert.Equal(t, "fees", retr.gotQuery)
	assert.Equal(t, 3, retr.gotOpts.TopK)
}

func TestSearchHandlerValidation(t *testing.T) {
	s := newTestMCP(t, &fakeRetriever{}, &fakeDocs{})

	_, _, err := s.searchHandler(context.Background(), nil, SearchInput{})
	assert.Error(t, err)

	_, _, err = s.searchHandler(context.Background(), nil, SearchInput{Query: "q", TopK: 101})
	assert.Error(t, err)
}

func TestSearchHandlerPropagatesError(t *testing.T) {
	s := newTestMCP(t, &fakeRetriever{err: errors.New("store down")}, &fakeDocs{})

	_, _, err := s.searchHandler(context.Background(), nil, SearchInput{Query: "q"})
	assert.ErrorContains(t, err, "store down")
}

func TestListHandler(t *testing.T) {
	docs := &fakeDocs{docs: []store.Document{{
		Filename:   "guide.docx",
		FileSize:   2048,
		ChunkCount: 9,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	s := newTestMCP(t, &fakeRetriever{}, docs)

	_, out, err := s.listHandler(context.Background(), nil, ListInput{})
	require.NoError(t, err)
	require.Len(t, out.Documents, 1)
	assert.Equal(t, "guide.docx", out.Documents[0].Filename)
	assert.Equal(t, 9, out.Documents[0].ChunkCount)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Documents[0].CreatedAt)
}

func TestStatusHandler(t *testing.T) {
	docs := &fakeDocs{docs: make([]store.Document, 3), chunks: 27}
	st, err := state.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.SetActiveModel("llama3"))

	s, err := NewServer(&fakeRetriever{}, docs, st, nil)
	require.NoError(t, err)

	_, out, err := s.statusHandler(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.DocumentCount)
	assert.Equal(t, 27, out.ChunkCount)
	assert.Equal(t, "llama3", out.ActiveModel)
}
