// Package llm defines the language model capabilities used for extraction, chat and transcription,
// and implements them with Gemini on Vertex AI.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Roles of a chat Message.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Model answers prompts.
type Model interface {
	// Complete answers a single self-contained prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	// Chat answers message given a system instruction and the prior turns.
	Chat(ctx context.Context, system string, history []Message, message string) (string, error)
}

// Transcriber reads the text out of an image or a scanned PDF.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, data []byte) (string, error)
}
