package server

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/doclens/doclens/internal/llm"
	"github.com/doclens/doclens/internal/loader"
	"github.com/doclens/doclens/internal/ragerr"
)

// Boundary limits. Everything past this file trusts its input.
const (
	maxMessageChars = 5000
	maxHistoryTurns = 50
	maxHistoryChars = 10000
	maxTopK         = 100
	maxUploadBytes  = 16 << 20
)

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Message string       `json:"message"`
	UseRAG  bool         `json:"use_rag"`
	History []historyMsg `json:"history"`
	TopK    int          `json:"top_k"`
	Model   string       `json:"model"`
}

type historyMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (r *chatRequest) validate() error {
	n := utf8.RuneCountInString(strings.TrimSpace(r.Message))
	if n == 0 {
		return ragerr.Validation("message is required")
	}
	if n > maxMessageChars {
		return ragerr.Validationf("message exceeds %d characters", maxMessageChars)
	}

	if len(r.History) > maxHistoryTurns {
		return ragerr.Validationf("history exceeds %d turns", maxHistoryTurns)
	}
	for i, m := range r.History {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return ragerr.Validationf("history[%d]: role must be user or assistant", i)
		}
		cn := utf8.RuneCountInString(m.Content)
		if cn == 0 || cn > maxHistoryChars {
			return ragerr.Validationf("history[%d]: content must be 1..%d characters", i, maxHistoryChars)
		}
	}

	if r.TopK < 0 || r.TopK > maxTopK {
		return ragerr.Validationf("top_k must be 1..%d", maxTopK)
	}
	return nil
}

func (r *chatRequest) messages() []llm.Message {
	out := make([]llm.Message, len(r.History))
	for i, m := range r.History {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// documentsTestRequest is the POST /api/documents/test body.
type documentsTestRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
	FileType string `json:"file_type"`
}

func (r *documentsTestRequest) validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ragerr.Validation("query is required")
	}
	if r.TopK < 0 || r.TopK > maxTopK {
		return ragerr.Validationf("top_k must be 1..%d", maxTopK)
	}
	if r.FileType != "" && !loader.IsSupported("x"+r.FileType) {
		return ragerr.Validationf("file_type must be one of %s", strings.Join(loader.SupportedExtensions(), ", "))
	}
	return nil
}

// modelRequest is the body of the model management endpoints.
type modelRequest struct {
	Model string `json:"model"`
}

func (r *modelRequest) validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return ragerr.Validation("model is required")
	}
	return nil
}

// validateUploadFile checks extension and size before any bytes are read.
func validateUploadFile(filename string, size int64) error {
	if !loader.IsSupported(filename) {
		return ragerr.UploadRejected(filename,
			fmt.Sprintf("unsupported extension %q, allowed: %s",
				filepath.Ext(filename), strings.Join(loader.SupportedExtensions(), ", ")))
	}
	if size > maxUploadBytes {
		return ragerr.UploadRejected(filename, "file exceeds 16 MiB")
	}
	return nil
}
