package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

// CustomAdapter targets OpenAI-compatible self-hosted endpoints
// (Ollama, llama.cpp, LM Studio, vLLM and similar). Chat goes through
// the regular OpenAI client pointed at the configured base URL;
// embeddings use a raw HTTP path because compatible servers disagree on
// the response shape.
type CustomAdapter struct {
	chat *OpenAIAdapter

	httpClient *http.Client
	embedURL   string
	embedKey   string
	embedModel string
	cfg        config.ProviderConfig
}

// NewCustom builds an adapter for an OpenAI-compatible endpoint. An API
// key is optional: local servers usually run without one.
func NewCustom(cfg config.ProviderConfig) (*CustomAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, newConfigMissing(Custom, "new", "endpoint is required")
	}
	key := cfg.APIKey
	if key == "" {
		key = "unused" // the OpenAI client requires a non-empty token
	}
	cc := openai.DefaultConfig(key)
	cc.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	chat := newOpenAICompatible(Custom, openai.NewClientWithConfig(cc), cfg)

	embedURL := cfg.EmbeddingEndpoint
	if embedURL == "" {
		var err error
		embedURL, err = deriveEmbeddingURL(cfg.Endpoint)
		if err != nil {
			return nil, newParse(Custom, "new", err)
		}
	}
	embedKey := cfg.EmbeddingAPIKey
	if embedKey == "" {
		embedKey = cfg.APIKey
	}

	return &CustomAdapter{
		chat:       chat,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		embedURL:   embedURL,
		embedKey:   embedKey,
		embedModel: cfg.EmbeddingModel,
		cfg:        cfg,
	}, nil
}

// deriveEmbeddingURL maps a chat endpoint to its embedding sibling.
// ".../chat/completions" becomes ".../embeddings"; loopback hosts get
// the conventional "/v1/embeddings" path; anything else appends
// "/embeddings" to the base.
func deriveEmbeddingURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	path := strings.TrimSuffix(u.Path, "/")
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		u.Path = strings.TrimSuffix(path, "/chat/completions") + "/embeddings"
	case strings.HasSuffix(path, "/embeddings"):
		// Already an embedding endpoint.
	case u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1" || u.Hostname() == "::1":
		u.Path = "/v1/embeddings"
	default:
		u.Path = path + "/embeddings"
	}
	return u.String(), nil
}

func (a *CustomAdapter) Kind() Kind                      { return Custom }
func (a *CustomAdapter) MaxEmbedBatch() int              { return 0 }
func (a *CustomAdapter) EmbedMinInterval() time.Duration { return a.cfg.EmbeddingMinInterval() }

func (a *CustomAdapter) GenerateText(ctx context.Context, prompt string) (string, error) {
	return a.chat.GenerateText(ctx, prompt)
}

func (a *CustomAdapter) GenerateChat(ctx context.Context, messages []types.Message) (string, error) {
	return a.chat.GenerateChat(ctx, messages)
}

func (a *CustomAdapter) EmbedOne(ctx context.Context, text string) (types.Vector, error) {
	vecs, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (a *CustomAdapter) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	clean, pos := splitEmbedBatch(texts)
	out := make([]types.Vector, len(texts))
	if len(clean) == 0 {
		return out, nil
	}
	reqBody := map[string]any{"input": clean}
	if a.embedModel != "" {
		reqBody["model"] = a.embedModel
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newParse(Custom, "embeddings", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.embedURL, bytes.NewReader(payload))
	if err != nil {
		return nil, classify(Custom, "embeddings", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.embedKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.embedKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classify(Custom, "embeddings", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, classify(Custom, "embeddings", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(Custom, "embeddings", resp.StatusCode, body)
	}

	vecs, err := parseEmbeddingResponse(body)
	if err != nil {
		return nil, newParse(Custom, "embeddings", err)
	}
	if len(vecs) != len(clean) {
		return nil, newParse(Custom, "embeddings",
			errors.New("embedding count does not match input count"))
	}
	for j, v := range vecs {
		out[pos[j]] = v
	}
	return out, nil
}

// parseEmbeddingResponse accepts the three response shapes seen across
// OpenAI-compatible servers:
//
//	{"embedding": [...]}                       single vector (Ollama-style)
//	{"embeddings": [[...], ...]}               vector list
//	{"data": [{"index": 0, "embedding": [...]}, ...]}  OpenAI shape
func parseEmbeddingResponse(body []byte) ([]types.Vector, error) {
	var shape struct {
		Embedding  []float32   `json:"embedding"`
		Embeddings [][]float32 `json:"embeddings"`
		Data       []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, err
	}

	switch {
	case len(shape.Data) > 0:
		vecs := make([]types.Vector, len(shape.Data))
		for i, d := range shape.Data {
			idx := d.Index
			if idx < 0 || idx >= len(vecs) {
				idx = i
			}
			vecs[idx] = types.Vector(d.Embedding)
		}
		return vecs, nil
	case len(shape.Embeddings) > 0:
		vecs := make([]types.Vector, len(shape.Embeddings))
		for i, e := range shape.Embeddings {
			vecs[i] = types.Vector(e)
		}
		return vecs, nil
	case len(shape.Embedding) > 0:
		return []types.Vector{types.Vector(shape.Embedding)}, nil
	}
	return nil, errors.New("response contains no embeddings")
}
