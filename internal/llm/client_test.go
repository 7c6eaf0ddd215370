package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclens/doclens/internal/ragerr"
)

func newTagsServer(t *testing.T, models ...ModelInfo) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_ = json.NewEncoder(w).Encode(tagsResponse{Models: models})
	}))
}

func TestListModels(t *testing.T) {
	srv := newTagsServer(t,
		ModelInfo{Name: "llama3:8b", Size: 4_661_224_676},
		ModelInfo{Name: "nomic-embed-text:latest", Size: 274_302_450},
	)
	defer srv.Close()

	c := NewClient(srv.URL)
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:8b", models[0].Name)
	assert.Equal(t, int64(274_302_450), models[1].Size)
}

func TestCheckConnection(t *testing.T) {
	srv := newTagsServer(t, ModelInfo{Name: "llama3:8b"})
	c := NewClient(srv.URL)

	ok, msg := c.CheckConnection(context.Background())
	assert.True(t, ok)
	assert.Contains(t, msg, "1 models")

	srv.Close()
	ok, msg = c.CheckConnection(context.Background())
	assert.False(t, ok)
	assert.Contains(t, msg, "unreachable")
}

func TestPickEmbeddingModel(t *testing.T) {
	tests := []struct {
		name      string
		available []ModelInfo
		preferred []string
		want      string
	}{
		{
			name:      "exact match wins",
			available: []ModelInfo{{Name: "mxbai-embed-large"}, {Name: "nomic-embed-text"}},
			preferred: []string{"nomic-embed-text"},
			want:      "nomic-embed-text",
		},
		{
			name:      "base name match when server has a tag",
			available: []ModelInfo{{Name: "nomic-embed-text:latest"}},
			preferred: []string{"nomic-embed-text"},
			want:      "nomic-embed-text:latest",
		},
		{
			name:      "falls back to any embed model",
			available: []ModelInfo{{Name: "llama3:8b"}, {Name: "mxbai-embed-large:335m"}},
			preferred: []string{"nomic-embed-text"},
			want:      "mxbai-embed-large:335m",
		},
		{
			name:      "nothing suitable",
			available: []ModelInfo{{Name: "llama3:8b"}},
			preferred: []string{"nomic-embed-text"},
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTagsServer(t, tt.available...)
			defer srv.Close()

			got, err := NewClient(srv.URL).PickEmbeddingModel(context.Background(), tt.preferred)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	vec, err := NewClient(srv.URL).Embed(context.Background(), "nomic-embed-text", "backup window")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedEmptyTextNeverCallsServer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Embed(context.Background(), "m", "   ")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindValidation, ragerr.KindOf(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestEmbedBatchKeepsIndexAlignment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		input, ok := req.Input.([]any)
		require.True(t, ok)
		require.Len(t, input, 2, "empty text must be filtered before the request")

		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{{1, 1}, {2, 2}}})
	}))
	defer srv.Close()

	vecs, err := NewClient(srv.URL).EmbedBatch(context.Background(), "m", []string{"first", "", "third"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 1}, vecs[0])
	assert.Equal(t, []float32{0, 0}, vecs[1], "empty text becomes a zero vector")
	assert.Equal(t, []float32{2, 2}, vecs[2])
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{{0.5}}})
	}))
	defer srv.Close()

	vec, err := NewClient(srv.URL, WithMaxRetries(3)).Embed(context.Background(), "m", "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithMaxRetries(3)).Embed(context.Background(), "m", "text")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindEmbedding, ragerr.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func writeNDJSON(t *testing.T, w http.ResponseWriter, records ...any) {
	t.Helper()
	enc := json.NewEncoder(w)
	for _, rec := range records {
		require.NoError(t, enc.Encode(rec))
	}
}

func TestChatStreamDeliversFragmentsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		writeNDJSON(t, w,
			chatResponse{Message: Message{Role: RoleAssistant, Content: "The "}},
			chatResponse{Message: Message{Role: RoleAssistant, Content: "backup "}},
			chatResponse{Message: Message{Role: RoleAssistant, Content: "window."}},
			chatResponse{Done: true, DoneReason: "stop"},
		)
	}))
	defer srv.Close()

	var got []string
	err := NewClient(srv.URL).ChatStream(context.Background(), "llama3",
		[]Message{{Role: RoleUser, Content: "hi"}}, nil,
		func(fragment string) error {
			got = append(got, fragment)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"The ", "backup ", "window."}, got)
}

func TestChatStreamUpstreamErrorStopsDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNDJSON(t, w,
			chatResponse{Message: Message{Role: RoleAssistant, Content: "partial"}},
			chatResponse{Error: "model crashed"},
		)
	}))
	defer srv.Close()

	var got []string
	err := NewClient(srv.URL).ChatStream(context.Background(), "llama3", nil, nil,
		func(fragment string) error {
			got = append(got, fragment)
			return nil
		})
	require.Error(t, err)
	assert.Equal(t, ragerr.KindOllamaConnection, ragerr.KindOf(err))
	assert.Equal(t, []string{"partial"}, got, "fragments before the error are delivered")
}

func TestChatStreamCallbackErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNDJSON(t, w,
			chatResponse{Message: Message{Content: "a"}},
			chatResponse{Message: Message{Content: "b"}},
			chatResponse{Done: true},
		)
	}))
	defer srv.Close()

	stop := errors.New("client went away")
	err := NewClient(srv.URL).ChatStream(context.Background(), "m", nil, nil,
		func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		require.NotNil(t, req.Options)
		assert.Equal(t, 0.0, req.Options.Temperature)

		_ = json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: RoleAssistant, Content: "Hello."}, Done: true})
	}))
	defer srv.Close()

	sample, err := NewClient(srv.URL).TestModel(context.Background(), "llama3")
	require.NoError(t, err)
	assert.Equal(t, "Hello.", sample)
}

func TestPullModelStreamsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pull", r.URL.Path)
		writeNDJSON(t, w,
			PullProgress{Status: "pulling manifest"},
			PullProgress{Status: "downloading", Digest: "sha256:abc", Total: 100, Completed: 40},
			PullProgress{Status: "downloading", Digest: "sha256:abc", Total: 100, Completed: 100},
			PullProgress{Status: "success"},
		)
	}))
	defer srv.Close()

	var statuses []string
	err := NewClient(srv.URL).PullModel(context.Background(), "llama3", func(p PullProgress) error {
		statuses = append(statuses, p.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pulling manifest", "downloading", "downloading", "success"}, statuses)
}

func TestPullModelUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNDJSON(t, w, PullProgress{Error: "manifest unknown"})
	}))
	defer srv.Close()

	err := NewClient(srv.URL).PullModel(context.Background(), "ghost", func(PullProgress) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest unknown")
}

func TestDeleteModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		var req deleteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "ghost" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.DeleteModel(context.Background(), "llama3"))

	err := c.DeleteModel(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindNotFound, ragerr.KindOf(err))
}

func TestDetectDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{make([]float64, 768)}})
	}))
	defer srv.Close()

	dim, err := NewClient(srv.URL).DetectDimension(context.Background(), "nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, 768, dim)
}

func TestConnectionRefusedMapsToOllamaError(t *testing.T) {
	// Grab a port that is closed by binding and immediately shutting down.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).ListModels(context.Background())
	require.Error(t, err)
	assert.Equal(t, ragerr.KindOllamaConnection, ragerr.KindOf(err), fmt.Sprintf("got %v", err))
}
