package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var envKeys = []string{
	"CONFIG_PATH", "PORT", "LOG_LEVEL", "DATABASE_URL",
	"MINIO_ENDPOINT", "MINIO_PORT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_USE_SSL", "MINIO_BUCKET", "MINIO_REGION",
	"AI_PROVIDER", "GEMINI_API_KEY", "AI_MODEL", "AI_BASE_URL", "AI_API_KEY",
	"MATCH_CONCURRENCY", "AI_REQUESTS_PER_MINUTE", "AI_TIMEOUT_SECONDS",
	"REDIS_ADDR", "REDIS_PASSWORD", "MATCH_RATE_LIMIT_PER_MINUTE", "TRUSTED_PROXIES",
	"MAX_UPLOAD_BYTES", "PDFTOTEXT_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "5555" || cfg.DatabaseURL != "data/jobs.db" {
		t.Fatalf("unexpected defaults: port=%q db=%q", cfg.Port, cfg.DatabaseURL)
	}
	if cfg.MinioEndpoint != "minio" || cfg.MinioPort != 9000 || cfg.MinioBucket != "cv-uploads" || cfg.MinioRegion != "us-east-1" {
		t.Fatalf("unexpected minio defaults: %+v", cfg)
	}
	if cfg.MinioAccessKey != "minioadmin" || cfg.MinioSecretKey != "minioadmin" || cfg.MinioUseSSL {
		t.Fatalf("unexpected minio credentials defaults: %+v", cfg)
	}
	if cfg.AIProvider != "gemini" || cfg.AIModel != "gemini-2.5-flash" || cfg.MatchConcurrency != 1 {
		t.Fatalf("unexpected ai defaults: %+v", cfg)
	}
	if cfg.MaxUploadBytes != 10<<20 || !cfg.PdftotextEnabled() {
		t.Fatalf("unexpected upload defaults: %+v", cfg)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
port: "8080"
databaseURL: postgres://jobs:jobs@db:5432/jobs
minioEndpoint: storage.internal
minioPort: 9443
minioUseSSL: true
aiProvider: openai
aiModel: gpt-4o-mini
aiBaseURL: http://llm:8000/v1
matchConcurrency: 4
pdftotext: false
trustedProxies: ["10.0.0.0/8"]
`)
	t.Setenv("PORT", "9090")
	t.Setenv("MINIO_PORT", "9000")
	t.Setenv("MATCH_CONCURRENCY", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.MinioPort != 9000 || cfg.MatchConcurrency != 2 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.DatabaseURL != "postgres://jobs:jobs@db:5432/jobs" || cfg.MinioEndpoint != "storage.internal" || !cfg.MinioUseSSL {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.AIProvider != "openai" || cfg.AIModel != "gpt-4o-mini" {
		t.Fatalf("unexpected ai config: %+v", cfg)
	}
	if cfg.PdftotextEnabled() {
		t.Fatal("expected pdftotext disabled by file")
	}
	if len(cfg.TrustedProxies) != 1 {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxies)
	}
}

func TestLoadConfigPathEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "port: \"7000\"\ngeminiAPIKey: file-key\n")
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7000" || cfg.GeminiAPIKey != "file-key" {
		t.Fatalf("CONFIG_PATH not honoured: %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing gemini key", env: map[string]string{}, want: "geminiAPIKey"},
		{name: "unknown provider", env: map[string]string{"AI_PROVIDER": "bard"}, want: "unknown aiProvider"},
		{name: "openai without model", env: map[string]string{"AI_PROVIDER": "openai"}, want: "aiModel"},
		{name: "bad port", env: map[string]string{"GEMINI_API_KEY": "k", "PORT": "http"}, want: "valid TCP port"},
		{name: "non numeric int", env: map[string]string{"GEMINI_API_KEY": "k", "MATCH_CONCURRENCY": "many"}, want: "MATCH_CONCURRENCY"},
		{name: "negative concurrency", env: map[string]string{"GEMINI_API_KEY": "k", "MATCH_CONCURRENCY": "-1"}, want: "matchConcurrency"},
		{name: "rate limit without redis", env: map[string]string{"GEMINI_API_KEY": "k", "MATCH_RATE_LIMIT_PER_MINUTE": "5"}, want: "redisAddr"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "port: [unterminated")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
