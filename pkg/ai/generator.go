package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from ai provider")

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	defaultHTTPTimeout = 120 * time.Second
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	// BaseURL overrides the provider default endpoint.
	BaseURL string
	// JSONOutput asks providers that support it to emit a bare JSON document.
	JSONOutput  bool
	HTTPTimeout time.Duration
}

// NewGenerator builds the TextGenerator named by cfg.Provider.
func NewGenerator(cfg Config) (TextGenerator, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		return NewGeminiGenerator(cfg.APIKey, cfg.Model,
			WithGeminiBaseURL(cfg.BaseURL),
			WithGeminiHTTPClient(httpClient),
			WithGeminiJSONOutput(cfg.JSONOutput),
		)
	case ProviderOpenAI:
		g := NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model)
		g.httpClient = httpClient
		g.jsonOutput = cfg.JSONOutput
		return g, nil
	case ProviderOllama:
		g := NewOllamaGenerator(cfg.BaseURL, cfg.Model)
		g.httpClient = httpClient
		g.jsonOutput = cfg.JSONOutput
		return g, nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
