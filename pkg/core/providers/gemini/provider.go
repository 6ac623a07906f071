// Package gemini implements the Google Gemini clients used by attune: a
// REST generateContent client for the analysis agents and a bidirectional
// Live API channel for voice sessions.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/attune-ai/attune/pkg/core"
)

const (
	// DefaultBaseURL is the default Gemini REST endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultLiveURL is the default Gemini Live WebSocket endpoint.
	DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Provider holds credentials and endpoints for the Gemini APIs.
type Provider struct {
	apiKey     string
	baseURL    string
	liveURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Gemini provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		liveURL:    DefaultLiveURL,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// GenerateContent sends a non-streaming request to the given model.
func (p *Provider) GenerateContent(ctx context.Context, model string, req *GenerateRequest) (*GenerateResponse, error) {
	body, err := p.doRequest(ctx, model, req)
	if err != nil {
		return nil, err
	}

	var resp GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.NewProviderError("gemini", fmt.Errorf("decoding response: %w", err))
	}
	return &resp, nil
}

// doRequest posts the request to models/{model}:generateContent and returns
// the raw response body.
func (p *Provider) doRequest(ctx context.Context, model string, req *GenerateRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, core.NewProviderError("gemini", fmt.Errorf("encoding request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewProviderError("gemini", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError("gemini", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseError(resp)
	}

	return io.ReadAll(resp.Body)
}
