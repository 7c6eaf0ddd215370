package llm

// ModelInfo describes a model reported by the LLM server.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions tunes a chat completion request.
type ChatOptions struct {
	Temperature float64 `json:"temperature"`
}

// PullProgress is one progress record from a model pull stream.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Wire shapes of the Ollama HTTP API.

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  *ChatOptions `json:"options,omitempty"`
}

type chatResponse struct {
	Message    Message `json:"message"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type pullRequest struct {
	Model string `json:"model"`
}

type deleteRequest struct {
	Model string `json:"model"`
}
