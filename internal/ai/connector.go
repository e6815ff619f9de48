package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/coderbot/coderbot/internal/retry"
)

// Provider identifies a model backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderOllama Provider = "ollama"
)

// Options configures the connector.
type Options struct {
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ChatMessage is one turn of conversation history handed to the model.
type ChatMessage struct {
	Role    string
	Content string
}

// Connector wraps a langchaingo model behind a single Generate call.
type Connector struct {
	provider Provider
	llm      llms.Model
	opts     Options
}

// NewConnector builds a model client for the configured provider.
func NewConnector(ctx context.Context, opts Options) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(opts.Provider)).
		Str("model", opts.Model).
		Msg("creating model connector")

	switch opts.Provider {
	case ProviderOpenAI, "":
		model, err = newOpenAIModel(opts)
	case ProviderGemini:
		model, err = newGeminiModel(ctx, opts)
	case ProviderClaude:
		model, err = newAnthropicModel(opts)
	case ProviderOllama:
		model, err = newOllamaModel(opts)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", opts.Provider, err)
	}

	return &Connector{provider: opts.Provider, llm: model, opts: opts}, nil
}

func newOpenAIModel(opts Options) (llms.Model, error) {
	o := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithToken(opts.APIKey),
	}
	if opts.BaseURL != "" {
		o = append(o, openai.WithBaseURL(opts.BaseURL))
	}
	return openai.New(o...)
}

func newGeminiModel(ctx context.Context, opts Options) (llms.Model, error) {
	return googleai.New(ctx,
		googleai.WithAPIKey(opts.APIKey),
		googleai.WithDefaultModel(opts.Model),
	)
}

func newAnthropicModel(opts Options) (llms.Model, error) {
	return anthropic.New(
		anthropic.WithToken(opts.APIKey),
		anthropic.WithModel(opts.Model),
	)
}

func newOllamaModel(opts Options) (llms.Model, error) {
	serverURL := opts.BaseURL
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(opts.Model),
	)
}

// Provider returns the configured backend name.
func (c *Connector) Provider() Provider {
	return c.provider
}

// Generate sends the conversation to the model and returns the raw reply
// text. Transient API failures are retried with backoff; the configured
// timeout bounds each attempt. An empty reply is returned as "".
func (c *Connector) Generate(ctx context.Context, messages []ChatMessage) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(chatRole(msg.Role), msg.Content))
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(c.opts.Temperature),
	}
	if c.opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.opts.MaxTokens))
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var reply string
	err := retry.Do(ctx, retry.LLMConfig(), func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := c.llm.GenerateContent(callCtx, content, callOpts...)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			reply = ""
			return nil
		}
		reply = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("model generation failed: %w", err)
	}
	return reply, nil
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
