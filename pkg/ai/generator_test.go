package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiGenerateText(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.5-flash:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "secret" {
			t.Errorf("api key not sent as query param")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"matches\":"},{"text":"[]}"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator("secret", "models/gemini-2.5-flash", WithGeminiBaseURL(srv.URL), WithGeminiJSONOutput(true))
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := g.GenerateText(context.Background(), "be precise", "match me")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"matches":[]}` {
		t.Fatalf("unexpected text %q", text)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be precise" {
		t.Fatalf("system instruction not forwarded: %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 1 || got.Contents[0].Parts[0].Text != "match me" {
		t.Fatalf("user prompt not forwarded: %+v", got.Contents)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("expected json response mime type")
	}
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	if _, err := NewGeminiGenerator("  ", ""); err == nil {
		t.Fatal("expected error for blank api key")
	}
}

func TestGeminiAPIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	g, _ := NewGeminiGenerator("secret", "", WithGeminiBaseURL(srv.URL))
	_, err := g.GenerateText(context.Background(), "", "hi")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected api error message, got %v", err)
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	g, _ := NewGeminiGenerator("secret", "", WithGeminiBaseURL(srv.URL))
	if _, err := g.GenerateText(context.Background(), "", "hi"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestRedactKey(t *testing.T) {
	err := redactKey(errors.New(`Post "https://x/models/m?key=abc123": dial tcp`), "abc123")
	if strings.Contains(err.Error(), "abc123") {
		t.Fatalf("key leaked: %v", err)
	}
}

func TestOpenAICompatGenerateText(t *testing.T) {
	var got oaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" {\"matches\":[]} "}}]}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(Config{Provider: "openai", BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o-mini", JSONOutput: true})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"matches":[]}` {
		t.Fatalf("unexpected text %q", text)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "user" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format")
	}
}

func TestOllamaGenerateText(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"matches\":[]}"}}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(Config{Provider: "Ollama", BaseURL: srv.URL, Model: "llama3", JSONOutput: true})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.GenerateText(context.Background(), "", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"matches":[]}` {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Stream || got.Format != "json" || len(got.Messages) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestOllamaAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found"}`))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL, "nope")
	_, err := g.GenerateText(context.Background(), "", "user")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected model not found error, got %v", err)
	}
}

func TestNewGeneratorUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(Config{Provider: "bard"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewGeneratorDefaultsToGemini(t *testing.T) {
	gen, err := NewGenerator(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	g, ok := gen.(*GeminiGenerator)
	if !ok {
		t.Fatalf("expected *GeminiGenerator, got %T", gen)
	}
	if g.model != defaultGeminiModel {
		t.Fatalf("unexpected default model %q", g.model)
	}
}
