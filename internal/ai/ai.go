// Package ai defines the chat collaborator used by the WebSocket dispatcher
// and the REST API, together with a placeholder implementation that echoes
// the prompt after a simulated processing delay.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyMessage is returned when the prompt is blank.
var ErrEmptyMessage = errors.New("ai: message must not be empty")

// ErrUnknownModel is returned for a model identifier not in Models.
var ErrUnknownModel = errors.New("ai: unknown model")

// Reply is the result of one chat exchange.
type Reply struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// Responder answers chat prompts.
type Responder interface {
	Chat(ctx context.Context, message, model string) (Reply, error)
}

// Model describes a model the responder accepts.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxTokens   int    `json:"max_tokens"`
}

// Models lists the model identifiers accepted by the placeholder.
func Models() []Model {
	return []Model{
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Description: "Fast and efficient model for most tasks", MaxTokens: 4096},
		{ID: "gpt-4", Name: "GPT-4", Description: "Most capable model for complex tasks", MaxTokens: 8192},
		{ID: "text-embedding-ada-002", Name: "Text Embedding Ada 002", Description: "Embedding model for semantic search", MaxTokens: 8191},
	}
}

const placeholderNote = "This is a placeholder response. Configure an AI provider to enable AI features."

// Placeholder is a Responder that waits Delay and echoes the prompt.
type Placeholder struct {
	DefaultModel string
	Delay        time.Duration

	now func() time.Time
}

// NewPlaceholder returns a Placeholder using defaultModel when a request
// names none.
func NewPlaceholder(defaultModel string, delay time.Duration) *Placeholder {
	return &Placeholder{DefaultModel: defaultModel, Delay: delay, now: time.Now}
}

// Chat waits for the configured delay, honoring ctx, then returns the echo.
func (p *Placeholder) Chat(ctx context.Context, message, model string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	if model == "" {
		model = p.DefaultModel
	}
	if !knownModel(model) {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Reply{}, fmt.Errorf("ai: chat: %w", ctx.Err())
		case <-t.C:
		}
	}

	now := p.now().UTC()
	return Reply{
		ID:        fmt.Sprintf("chat-%d", now.Unix()),
		Message:   "AI Response from Go backend: " + message,
		Model:     model,
		Timestamp: now,
		Note:      placeholderNote,
	}, nil
}

func knownModel(id string) bool {
	for _, m := range Models() {
		if m.ID == id {
			return true
		}
	}
	return false
}
