// Package llm implements the model-backed extraction ranks against an
// OpenAI-compatible chat completion API. Each Extractor is one rank: it
// gets exactly one attempt per window under its own timeout budget, and
// its reply is parsed and validated before it counts as a success.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/cascade"
)

// defaultSystemPrompt is used when no externally supplied prompt is
// configured. The schema contract is appended at construction time.
const defaultSystemPrompt = `You are a knowledge graph extraction engine. Extract the entities and the relations between them from the user's text.

Rules:
- Extract entities exactly as named in the text, with a type tag.
- Extract relations only between extracted entities.
- Rate each relation's strength from 1 (weak) to 10 (certain).
- Quote the shortest evidence span that supports each relation.
- Return ONLY a JSON object matching this schema, no prose:

%s`

// Config configures one extraction rank.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	Temperature     float32
	MaxTokens       int
	MaxPromptTokens int
	Encoding        string
	SystemPrompt    string
}

// Extractor implements cascade.ModelExtractor for one model.
type Extractor struct {
	client       *openai.Client
	model        string
	timeout      time.Duration
	temperature  float32
	maxTokens    int
	promptBudget int
	encoder      *tiktoken.Tiktoken
	systemPrompt string
	log          *zap.Logger
}

func NewExtractor(cfg Config, log *zap.Logger) *Extractor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "cl100k_base"
	}
	encoder, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn("token encoding unavailable, prompt truncation disabled",
			zap.String("encoding", encoding),
			zap.Error(err))
		encoder = nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf(defaultSystemPrompt, extractionSchemaJSON())
	}

	log.Info("extraction rank initialized",
		zap.String("model", cfg.Model),
		zap.Duration("timeout", timeout))

	return &Extractor{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		timeout:      timeout,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		promptBudget: cfg.MaxPromptTokens,
		encoder:      encoder,
		systemPrompt: systemPrompt,
		log:          log,
	}
}

func (e *Extractor) Name() string {
	return e.model
}

// Extract runs one attempt against the model. A timeout surfaces as
// context.DeadlineExceeded, transport failures as plain errors and
// unparseable replies as *cascade.MalformedOutputError; the cascade maps
// each onto its outcome taxonomy.
func (e *Extractor) Extract(ctx context.Context, windowText string) (*cascade.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: e.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: e.truncate(windowText)},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extraction attempt: %w", ctx.Err())
		}
		return nil, fmt.Errorf("extraction attempt: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, malformed("response carried no choices", "", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	candidates, err := parseExtraction(
		resp.Choices[0].Message.Content,
		resp.Usage.PromptTokens,
		resp.Usage.CompletionTokens,
	)
	if err != nil {
		return nil, err
	}

	e.log.Debug("extraction attempt parsed",
		zap.String("model", e.model),
		zap.Int("entities", len(candidates.Entities)),
		zap.Int("relations", len(candidates.Relations)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return &cascade.Extraction{
		Candidates:       *candidates,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// truncate caps the window text to the prompt token budget. Windows are a
// few sentences so this rarely triggers, but pathological documents with
// kilometer-long sentences must not blow the context limit.
func (e *Extractor) truncate(text string) string {
	if e.encoder == nil || e.promptBudget <= 0 {
		return text
	}
	tokens := e.encoder.Encode(text, nil, nil)
	if len(tokens) <= e.promptBudget {
		return text
	}
	truncated := e.encoder.Decode(tokens[:e.promptBudget])
	e.log.Warn("window text truncated to prompt budget",
		zap.Int("tokens", len(tokens)),
		zap.Int("budget", e.promptBudget))
	return strings.TrimSpace(truncated)
}
