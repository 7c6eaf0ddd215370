// Package llm is the typed adapter to the local Ollama-compatible LLM and
// embedding server. It lists and manages models, generates embeddings with
// bounded retries, and streams chat completions and model pulls as they
// arrive. Nothing here retries chat or pull calls; callers own that policy.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/doclens/doclens/internal/ragerr"
)

// Client talks to one LLM server. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout for non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetries sets the retry budget for embedding calls.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the server at baseURL.
//
// The client deliberately has no http.Client.Timeout: chat and pull streams
// are long-lived and bounded only by their contexts. Non-streaming calls get
// a per-request timeout instead.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:    60 * time.Second,
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckConnection reports whether the server answers the model listing
// endpoint, with a human-readable message either way.
func (c *Client) CheckConnection(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	models, err := c.ListModels(ctx)
	if err != nil {
		return false, fmt.Sprintf("LLM server unreachable at %s: %v", c.baseURL, err)
	}
	return true, fmt.Sprintf("connected to %s (%d models)", c.baseURL, len(models))
}

// ListModels returns the models available on the server.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ragerr.OllamaConnection(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ragerr.Newf(ragerr.KindOllamaConnection, "list models: server returned %s", resp.Status)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, ragerr.Wrap(err, ragerr.KindOllamaConnection, "list models: invalid response")
	}
	return tags.Models, nil
}

// PickEmbeddingModel selects an embedding model from what the server has:
// exact match on a preferred name first, then prefix match (tags stripped),
// then any model whose name contains "embed". Empty string when nothing fits.
func (c *Client) PickEmbeddingModel(ctx context.Context, preferred []string) (string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return "", err
	}

	for _, want := range preferred {
		for _, m := range models {
			if m.Name == want {
				return m.Name, nil
			}
		}
	}
	for _, want := range preferred {
		base := baseName(want)
		for _, m := range models {
			if baseName(m.Name) == base {
				return m.Name, nil
			}
		}
	}
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.Name), "embed") {
			return m.Name, nil
		}
	}
	return "", nil
}

// baseName strips the ":tag" suffix from a model name.
func baseName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

// Embed generates one embedding. Empty or whitespace-only text never reaches
// the server and fails with a validation error.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ragerr.Validation("cannot embed empty text")
	}

	vecs, err := c.embedWithRetry(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, ragerr.Newf(ragerr.KindEmbedding, "expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, preserving order. Empty texts
// are skipped upstream and come back as zero vectors of the batch dimension
// so indices stay aligned.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
			positions = append(positions, i)
		}
	}

	out := make([][]float32, len(texts))
	if len(nonEmpty) == 0 {
		return out, nil
	}

	vecs, err := c.embedWithRetry(ctx, model, nonEmpty)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(nonEmpty) {
		return nil, ragerr.Newf(ragerr.KindEmbedding, "expected %d embeddings, got %d", len(nonEmpty), len(vecs))
	}

	dim := len(vecs[0])
	for i, pos := range positions {
		out[pos] = vecs[i]
	}
	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dim)
		}
	}
	return out, nil
}

// DetectDimension probes the embedding model once and returns its dimension.
func (c *Client) DetectDimension(ctx context.Context, model string) (int, error) {
	vec, err := c.Embed(ctx, model, "dimension probe")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}

// embedWithRetry retries transient embedding failures with exponential
// backoff. Validation-grade failures (HTTP 4xx) are not retried.
func (c *Client) embedWithRetry(ctx context.Context, model string, input []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<uint(attempt-1)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			c.logger.Debug("retrying embedding call",
				slog.Int("attempt", attempt+1),
				slog.String("model", model))
		}

		vecs, retryable, err := c.doEmbed(ctx, model, input)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) doEmbed(ctx context.Context, model string, input []string) (vecs [][]float32, retryable bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: model, Input: input})
	if err != nil {
		return nil, false, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, ragerr.OllamaConnection(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		e := ragerr.Newf(ragerr.KindEmbedding, "embed: server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		return nil, resp.StatusCode >= 500, e
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, true, ragerr.Wrap(err, ragerr.KindEmbedding, "embed: invalid response")
	}
	if er.Error != "" {
		return nil, false, ragerr.Newf(ragerr.KindEmbedding, "embed: %s", er.Error)
	}
	if len(er.Embeddings) == 0 {
		return nil, false, ragerr.New(ragerr.KindEmbedding, "embed: server returned no embeddings")
	}

	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		out[i] = v
	}
	return out, false, nil
}

// ChatStream streams a chat completion, invoking fn for every content
// fragment in arrival order. It returns when the server reports done, the
// context is cancelled, fn returns an error, or the upstream fails. No
// fragments are delivered after the first error.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, opts *ChatOptions, fn func(fragment string) error) error {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: true, Options: opts})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ragerr.OllamaConnection(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ragerr.Newf(ragerr.KindOllamaConnection, "chat: server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var cr chatResponse
		if err := dec.Decode(&cr); err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ragerr.Wrap(err, ragerr.KindOllamaConnection, "chat: stream decode failed")
		}
		if cr.Error != "" {
			return ragerr.Newf(ragerr.KindOllamaConnection, "chat: %s", cr.Error)
		}
		if cr.Message.Content != "" {
			if err := fn(cr.Message.Content); err != nil {
				return err
			}
		}
		if cr.Done {
			return nil
		}
	}
}

// Chat runs a non-streaming chat completion and returns the full response.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts *ChatOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: false, Options: opts})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ragerr.OllamaConnection(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", ragerr.Newf(ragerr.KindOllamaConnection, "chat: server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", ragerr.Wrap(err, ragerr.KindOllamaConnection, "chat: invalid response")
	}
	if cr.Error != "" {
		return "", ragerr.Newf(ragerr.KindOllamaConnection, "chat: %s", cr.Error)
	}
	return cr.Message.Content, nil
}

// PullModel streams model download progress, invoking fn per progress record.
// The connection has no deadline; cancel the context to abort the pull.
func (c *Client) PullModel(ctx context.Context, name string, fn func(PullProgress) error) error {
	body, err := json.Marshal(pullRequest{Model: name})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ragerr.OllamaConnection(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ragerr.Newf(ragerr.KindOllamaConnection, "pull %s: server returned %s: %s", name, resp.Status, strings.TrimSpace(string(msg)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ragerr.Wrap(err, ragerr.KindOllamaConnection, "pull: stream decode failed")
		}
		if p.Error != "" {
			return ragerr.Newf(ragerr.KindOllamaConnection, "pull %s: %s", name, p.Error)
		}
		if err := fn(p); err != nil {
			return err
		}
		if p.Status == "success" {
			return nil
		}
	}
}

// DeleteModel removes a model from the server.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(deleteRequest{Model: name})
	if err != nil {
		return fmt.Errorf("marshal delete request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ragerr.OllamaConnection(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ragerr.NotFound(fmt.Sprintf("model %q", name))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ragerr.Newf(ragerr.KindOllamaConnection, "delete %s: server returned %s: %s", name, resp.Status, strings.TrimSpace(string(msg)))
	}
}

// TestModel runs a tiny one-shot completion against the model and returns
// the sample text.
func (c *Client) TestModel(ctx context.Context, model string) (string, error) {
	messages := []Message{{Role: RoleUser, Content: "Reply with a short greeting."}}
	return c.Chat(ctx, model, messages, &ChatOptions{Temperature: 0})
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
