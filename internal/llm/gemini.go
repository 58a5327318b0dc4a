package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hyperjump/tagihan/internal/config"
	"github.com/hyperjump/tagihan/pkg/utils"
)

// Gemini implements Model and Transcriber with a Gemini model on Vertex AI.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGemini creates a Vertex AI client for cfg.ProjectID in cfg.Region. Credentials come from
// cfg.CredentialsFile when set and from application default credentials otherwise.
func NewGemini(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*Gemini, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, errors.New("llm: project_id and region cannot be empty")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      utils.OrNop(logger),
	}, nil
}

// generativeModel returns a fresh model handle; handles carry per-call state such as the system
// instruction, so they are not shared between requests.
func (g *Gemini) generativeModel(system string) *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	return m
}

func (g *Gemini) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Complete sends prompt as a single user turn.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	resp, err := g.generativeModel("").GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	g.logger.Debug("gemini completion", zap.String("model", g.model), zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return responseText(resp)
}

// Chat replays history into a chat session and sends message.
func (g *Gemini) Chat(ctx context.Context, system string, history []Message, message string) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	cs := g.generativeModel(system).StartChat()
	cs.History = toContents(history)
	resp, err := cs.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", fmt.Errorf("gemini chat: %w", err)
	}
	return responseText(resp)
}

// Transcribe sends the raw document inline and asks for its text.
func (g *Gemini) Transcribe(ctx context.Context, mimeType string, data []byte) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	resp, err := g.generativeModel("").GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(TranscriptionPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return responseText(resp)
}

// Close releases the Vertex AI client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func toContents(history []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := RoleUser
		if m.Role == RoleModel {
			role = RoleModel
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}
