package gemini

import (
	"log/slog"
	"net/http"
)

// Option configures the Provider.
type Option func(*Provider)

// WithBaseURL sets the base URL for REST requests.
// Default: https://generativelanguage.googleapis.com/v1beta
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithLiveURL sets the WebSocket URL for live sessions.
func WithLiveURL(url string) Option {
	return func(p *Provider) {
		p.liveURL = url
	}
}

// WithHTTPClient sets the HTTP client for REST requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}
