// Package chat assembles prompts and streams completions. The orchestrator
// sits between the HTTP layer and the LLM client: it runs retrieval,
// packs context, and turns the token stream into channel events the SSE
// writer consumes.
package chat

import (
	"context"
	"log/slog"

	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/llm"
	"github.com/doclens/doclens/internal/retrieval"
)

// Streamer is the slice of the LLM client the orchestrator needs.
type Streamer interface {
	ChatStream(ctx context.Context, model string, messages []llm.Message, opts *llm.ChatOptions, fn func(fragment string) error) error
}

// Retriever produces ranked context chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]retrieval.Result, error)
}

// Request is one chat turn from a client.
type Request struct {
	Message string
	History []llm.Message
	// UseRAG selects retrieval-augmented mode. Off, the message and history
	// go to the model untouched.
	UseRAG         bool
	TopK           int
	FileTypeFilter string
	// Model overrides the configured chat model when non-empty.
	Model string
}

// StreamEvent is one event on the stream channel. Exactly one terminal
// event is sent: Done or Err.
type StreamEvent struct {
	Content string
	Done    bool
	Err     error
	// Sources accompanies the Done event in RAG mode.
	Sources []retrieval.Result
}

// Orchestrator builds prompts and streams completions.
type Orchestrator struct {
	streamer  Streamer
	retriever Retriever
	cfg       config.LLMConfig
	maxChars  int
	logger    *slog.Logger
}

// New builds an Orchestrator. maxContextChars bounds the packed context.
func New(streamer Streamer, retriever Retriever, cfg config.LLMConfig, maxContextChars int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		streamer:  streamer,
		retriever: retriever,
		cfg:       cfg,
		maxChars:  maxContextChars,
		logger:    logger,
	}
}

// Stream answers one request, emitting fragments on the returned channel
// followed by exactly one terminal event. The channel closes after the
// terminal event. Cancelling ctx aborts the upstream stream.
//
// Every handle the goroutine needs is captured here, before the caller's
// request scope can be torn down.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	streamer := o.streamer
	retriever := o.retriever
	cfg := o.cfg
	maxChars := o.maxChars
	logger := o.logger

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)

		model := req.Model
		if model == "" {
			model = cfg.ChatModel
		}

		messages, sources, opts, err := o.buildMessages(ctx, retriever, req, maxChars)
		if err != nil {
			emit(ctx, events, StreamEvent{Err: err})
			return
		}

		logger.Debug("chat stream starting",
			slog.String("model", model),
			slog.Bool("rag", req.UseRAG),
			slog.Int("sources", len(sources)),
			slog.Int("history", len(req.History)))

		err = streamer.ChatStream(ctx, model, messages, opts, func(fragment string) error {
			return emit(ctx, events, StreamEvent{Content: fragment})
		})
		if err != nil {
			emit(ctx, events, StreamEvent{Err: err})
			return
		}
		emit(ctx, events, StreamEvent{Done: true, Sources: sources})
	}()
	return events
}

// buildMessages assembles the message list for one request. RAG mode pins
// temperature to zero so answers stay anchored to the context.
func (o *Orchestrator) buildMessages(ctx context.Context, retriever Retriever, req Request, maxChars int) ([]llm.Message, []retrieval.Result, *llm.ChatOptions, error) {
	if !req.UseRAG || retriever == nil {
		messages := append(historyCopy(req.History), llm.Message{Role: llm.RoleUser, Content: req.Message})
		return messages, nil, &llm.ChatOptions{Temperature: o.cfg.Temperature}, nil
	}

	results, err := retriever.Retrieve(ctx, req.Message, retrieval.Options{
		TopK:           req.TopK,
		FileTypeFilter: req.FileTypeFilter,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	opts := &llm.ChatOptions{Temperature: 0.0}

	if len(results) == 0 {
		messages := append([]llm.Message{{Role: llm.RoleSystem, Content: noContextPrompt}}, historyCopy(req.History)...)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})
		return messages, nil, opts, nil
	}

	contextBlock := retrieval.FormatContext(results, maxChars)
	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: ragSystemPrompt}}, historyCopy(req.History)...)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "Context:\n" + contextBlock + "\n\nQuestion: " + req.Message,
	})
	return messages, results, opts, nil
}

// historyCopy returns a fresh slice so appends never alias the caller's
// history.
func historyCopy(history []llm.Message) []llm.Message {
	out := make([]llm.Message, len(history))
	copy(out, history)
	return out
}

// emit sends an event unless the consumer is gone. Returns ctx.Err() when
// the context is done so ChatStream stops pulling fragments.
func emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
