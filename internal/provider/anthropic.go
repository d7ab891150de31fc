package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicAdapter talks to the Anthropic Messages API. Anthropic does
// not offer an embeddings endpoint, so embedding calls are delegated to
// a secondary OpenAI-compatible service configured via
// EmbeddingEndpoint; without one, embedding methods fail with a
// config-missing error while generation keeps working.
type AnthropicAdapter struct {
	client   anthropic.Client
	cfg      config.ProviderConfig
	model    anthropic.Model
	embedder Embedder
}

// NewAnthropic builds an adapter for the Anthropic API.
func NewAnthropic(cfg config.ProviderConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, newConfigMissing(Anthropic, "new", "api_key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.Endpoint) != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = defaultAnthropicModel
	}

	a := &AnthropicAdapter{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		model:  model,
	}

	if cfg.EmbeddingEndpoint != "" {
		emb, err := NewCustom(config.ProviderConfig{
			Endpoint:          cfg.EmbeddingEndpoint,
			EmbeddingEndpoint: cfg.EmbeddingEndpoint,
			APIKey:            cfg.EmbeddingAPIKey,
			EmbeddingModel:    cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, err
		}
		a.embedder = emb
	}
	return a, nil
}

func (a *AnthropicAdapter) Kind() Kind                      { return Anthropic }
func (a *AnthropicAdapter) MaxEmbedBatch() int              { return 0 }
func (a *AnthropicAdapter) EmbedMinInterval() time.Duration { return a.cfg.EmbeddingMinInterval() }

func (a *AnthropicAdapter) GenerateText(ctx context.Context, prompt string) (string, error) {
	return a.GenerateChat(ctx, []types.Message{{Role: types.RoleUser, Content: prompt}})
}

func (a *AnthropicAdapter) GenerateChat(ctx context.Context, messages []types.Message) (string, error) {
	maxTokens := a.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(maxTokens),
		Messages:  convertAnthropicMessages(messages),
	}
	if a.cfg.SystemMessage != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.cfg.SystemMessage}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", a.wrap("messages", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Text != "" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", newParse(Anthropic, "messages", errors.New("response has no text blocks"))
	}
	return b.String(), nil
}

func convertAnthropicMessages(messages []types.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == types.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			// System turns are carried in params.System; anything else
			// maps to the user side.
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func (a *AnthropicAdapter) EmbedOne(ctx context.Context, text string) (types.Vector, error) {
	if a.embedder == nil {
		return nil, newConfigMissing(Anthropic, "embeddings",
			"embedding_endpoint is required: Anthropic has no embeddings API")
	}
	return a.embedder.EmbedOne(ctx, text)
}

func (a *AnthropicAdapter) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	if a.embedder == nil {
		return nil, newConfigMissing(Anthropic, "embeddings",
			"embedding_endpoint is required: Anthropic has no embeddings API")
	}
	return a.embedder.EmbedBatch(ctx, texts)
}

func (a *AnthropicAdapter) wrap(op string, err error) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return httpError(Anthropic, op, apiErr.StatusCode, []byte(apiErr.Error()))
	}
	return classify(Anthropic, op, err)
}
