package provider

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const (
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// OpenAIAdapter talks to the OpenAI API. It also backs the Azure and
// Custom adapters, which only differ in client configuration and
// endpoint handling.
type OpenAIAdapter struct {
	kind   Kind
	client *openai.Client
	cfg    config.ProviderConfig

	model       string
	embedModel  string
	minInterval time.Duration
}

// NewOpenAI builds an adapter for the public OpenAI API.
func NewOpenAI(cfg config.ProviderConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, newConfigMissing(OpenAI, "new", "api_key is required")
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		cc.BaseURL = cfg.Endpoint
	}
	return newOpenAICompatible(OpenAI, openai.NewClientWithConfig(cc), cfg), nil
}

// NewAzureOpenAI builds an adapter for an Azure OpenAI resource. Model
// and EmbeddingModel name the deployments; APIVersion selects the REST
// surface. Low-rate embedding deployments should also set
// EmbeddingMinIntervalMs so the caller paces requests.
func NewAzureOpenAI(cfg config.ProviderConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, newConfigMissing(AzureOpenAI, "new", "api_key is required")
	}
	if cfg.Endpoint == "" {
		return nil, newConfigMissing(AzureOpenAI, "new", "endpoint is required")
	}
	cc := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		cc.APIVersion = cfg.APIVersion
	}
	// Azure routes by deployment name, which we already carry in the
	// model fields. The identity mapper keeps them as-is.
	cc.AzureModelMapperFunc = func(model string) string { return model }
	return newOpenAICompatible(AzureOpenAI, openai.NewClientWithConfig(cc), cfg), nil
}

func newOpenAICompatible(kind Kind, client *openai.Client, cfg config.ProviderConfig) *OpenAIAdapter {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	embedModel := cfg.EmbeddingModel
	if embedModel == "" {
		embedModel = defaultOpenAIEmbeddingModel
	}
	return &OpenAIAdapter{
		kind:        kind,
		client:      client,
		cfg:         cfg,
		model:       model,
		embedModel:  embedModel,
		minInterval: cfg.EmbeddingMinInterval(),
	}
}

func (a *OpenAIAdapter) Kind() Kind                      { return a.kind }
func (a *OpenAIAdapter) MaxEmbedBatch() int              { return 0 }
func (a *OpenAIAdapter) EmbedMinInterval() time.Duration { return a.minInterval }

func (a *OpenAIAdapter) GenerateText(ctx context.Context, prompt string) (string, error) {
	return a.GenerateChat(ctx, []types.Message{{Role: types.RoleUser, Content: prompt}})
}

func (a *OpenAIAdapter) GenerateChat(ctx context.Context, messages []types.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: a.convertMessages(messages),
	}
	if a.cfg.MaxTokens > 0 {
		req.MaxTokens = a.cfg.MaxTokens
	}
	if a.cfg.Temperature > 0 {
		req.Temperature = a.cfg.Temperature
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", a.wrap("chat_completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", newParse(a.kind, "chat_completion", errors.New("response has no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *OpenAIAdapter) convertMessages(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if a.cfg.SystemMessage != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.cfg.SystemMessage,
		})
	}
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (a *OpenAIAdapter) EmbedOne(ctx context.Context, text string) (types.Vector, error) {
	vecs, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (a *OpenAIAdapter) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	clean, pos := splitEmbedBatch(texts)
	vecs := make([]types.Vector, len(texts))
	if len(clean) == 0 {
		return vecs, nil
	}
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: clean,
		Model: openai.EmbeddingModel(a.embedModel),
	})
	if err != nil {
		return nil, a.wrap("embeddings", err)
	}
	if len(resp.Data) != len(clean) {
		return nil, newParse(a.kind, "embeddings",
			errors.New("embedding count does not match input count"))
	}

	// The API may return entries out of order; Index restores the
	// positional mapping.
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(clean) {
			return nil, newParse(a.kind, "embeddings", errors.New("embedding index out of range"))
		}
		vecs[pos[d.Index]] = types.Vector(d.Embedding)
	}
	return vecs, nil
}

// wrap converts go-openai errors to the package error type, keeping the
// HTTP status when the SDK surfaced one.
func (a *OpenAIAdapter) wrap(op string, err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return httpError(a.kind, op, apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return httpError(a.kind, op, reqErr.HTTPStatusCode, []byte(reqErr.Error()))
	}
	return classify(a.kind, op, err)
}
