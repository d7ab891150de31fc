package provider

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const (
	defaultGeminiModel          = "gemini-2.0-flash"
	defaultGeminiEmbeddingModel = "text-embedding-004"

	// The Gemini embedding endpoint caps batch size and throttles
	// closely-spaced batch requests.
	geminiMaxEmbedBatch    = 50
	geminiEmbedMinInterval = 600 * time.Millisecond
)

// GeminiAdapter talks to the Gemini API through the Google Gen AI SDK.
type GeminiAdapter struct {
	client     *genai.Client
	cfg        config.ProviderConfig
	model      string
	embedModel string
}

// NewGemini builds an adapter for the Gemini API.
func NewGemini(ctx context.Context, cfg config.ProviderConfig) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, newConfigMissing(Gemini, "new", "api_key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, classify(Gemini, "new", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	embedModel := cfg.EmbeddingModel
	if embedModel == "" {
		embedModel = defaultGeminiEmbeddingModel
	}
	return &GeminiAdapter{client: client, cfg: cfg, model: model, embedModel: embedModel}, nil
}

func (a *GeminiAdapter) Kind() Kind         { return Gemini }
func (a *GeminiAdapter) MaxEmbedBatch() int { return geminiMaxEmbedBatch }

func (a *GeminiAdapter) EmbedMinInterval() time.Duration {
	if iv := a.cfg.EmbeddingMinInterval(); iv > geminiEmbedMinInterval {
		return iv
	}
	return geminiEmbedMinInterval
}

func (a *GeminiAdapter) GenerateText(ctx context.Context, prompt string) (string, error) {
	return a.GenerateChat(ctx, []types.Message{{Role: types.RoleUser, Content: prompt}})
}

func (a *GeminiAdapter) GenerateChat(ctx context.Context, messages []types.Message) (string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if a.cfg.SystemMessage != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: a.cfg.SystemMessage}},
		}
	}
	if a.cfg.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(a.cfg.MaxTokens)
	}
	if a.cfg.Temperature > 0 {
		t := a.cfg.Temperature
		cfg.Temperature = &t
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, cfg)
	if err != nil {
		return "", classify(Gemini, "generate_content", err)
	}
	text := resp.Text()
	if text == "" {
		return "", newParse(Gemini, "generate_content", errors.New("response has no text parts"))
	}
	return text, nil
}

func (a *GeminiAdapter) EmbedOne(ctx context.Context, text string) (types.Vector, error) {
	vecs, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits oversized inputs into sub-batches of at most 50 and
// spaces consecutive sub-batch requests by the endpoint's minimum
// interval.
func (a *GeminiAdapter) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	clean, pos := splitEmbedBatch(texts)
	out := make([]types.Vector, len(texts))
	if len(clean) == 0 {
		return out, nil
	}

	for start := 0; start < len(clean); start += geminiMaxEmbedBatch {
		if start > 0 {
			timer := time.NewTimer(geminiEmbedMinInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, classify(Gemini, "embed_content", ctx.Err())
			}
		}
		end := start + geminiMaxEmbedBatch
		if end > len(clean) {
			end = len(clean)
		}

		contents := make([]*genai.Content, 0, end-start)
		for _, t := range clean[start:end] {
			contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: t}}})
		}
		resp, err := a.client.Models.EmbedContent(ctx, a.embedModel, contents, nil)
		if err != nil {
			return nil, classify(Gemini, "embed_content", err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, newParse(Gemini, "embed_content",
				errors.New("embedding count does not match input count"))
		}
		for j, e := range resp.Embeddings {
			out[pos[start+j]] = types.Vector(e.Values)
		}
	}
	return out, nil
}
