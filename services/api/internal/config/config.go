package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file; a missing file falls back to env and defaults.
var ConfigPath = "config.yaml"

const (
	defaultPort           = "5555"
	defaultDatabaseURL    = "data/jobs.db"
	defaultMinioEndpoint  = "minio"
	defaultMinioPort      = 9000
	defaultMinioCreds     = "minioadmin"
	defaultMinioBucket    = "cv-uploads"
	defaultMinioRegion    = "us-east-1"
	defaultAIProvider     = "gemini"
	defaultAIModel        = "gemini-2.5-flash"
	defaultMaxUploadBytes = 10 << 20
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioPort      int    `yaml:"minioPort"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioRegion    string `yaml:"minioRegion"`

	AIProvider          string `yaml:"aiProvider"`
	GeminiAPIKey        string `yaml:"geminiAPIKey"`
	AIModel             string `yaml:"aiModel"`
	AIBaseURL           string `yaml:"aiBaseURL"`
	AIAPIKey            string `yaml:"aiAPIKey"`
	MatchConcurrency    int    `yaml:"matchConcurrency"`
	AIRequestsPerMinute int    `yaml:"aiRequestsPerMinute"`
	AITimeoutSeconds    int    `yaml:"aiTimeoutSeconds"`

	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	MatchRateLimitPerMinute int      `yaml:"matchRateLimitPerMinute"`
	TrustedProxies          []string `yaml:"trustedProxies"`

	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
	Pdftotext      *bool `yaml:"pdftotext"`
}

// PdftotextEnabled reports whether the pdftotext binary should be tried first.
func (c FileConfig) PdftotextEnabled() bool {
	return c.Pdftotext == nil || *c.Pdftotext
}

// Load reads config from path (defaults to ConfigPath, or CONFIG_PATH when set).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be an integer: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setString("MINIO_REGION", &cfg.MinioRegion)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.MinioUseSSL = v == "true"
	}
	setString("AI_PROVIDER", &cfg.AIProvider)
	setString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	setString("AI_MODEL", &cfg.AIModel)
	setString("AI_BASE_URL", &cfg.AIBaseURL)
	setString("AI_API_KEY", &cfg.AIAPIKey)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("PDFTOTEXT_ENABLED"); v != "" {
		enabled := v != "false" && v != "0"
		cfg.Pdftotext = &enabled
	}
	if v := strings.TrimSpace(os.Getenv("MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MAX_UPLOAD_BYTES must be an integer: %w", err)
		}
		cfg.MaxUploadBytes = n
	}
	for key, dst := range map[string]*int{
		"MINIO_PORT":                  &cfg.MinioPort,
		"MATCH_CONCURRENCY":           &cfg.MatchConcurrency,
		"AI_REQUESTS_PER_MINUTE":      &cfg.AIRequestsPerMinute,
		"AI_TIMEOUT_SECONDS":          &cfg.AITimeoutSeconds,
		"MATCH_RATE_LIMIT_PER_MINUTE": &cfg.MatchRateLimitPerMinute,
	} {
		if err := setInt(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.MinioEndpoint == "" {
		cfg.MinioEndpoint = defaultMinioEndpoint
	}
	if cfg.MinioPort == 0 {
		cfg.MinioPort = defaultMinioPort
	}
	if cfg.MinioAccessKey == "" {
		cfg.MinioAccessKey = defaultMinioCreds
	}
	if cfg.MinioSecretKey == "" {
		cfg.MinioSecretKey = defaultMinioCreds
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = defaultMinioBucket
	}
	if cfg.MinioRegion == "" {
		cfg.MinioRegion = defaultMinioRegion
	}
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if cfg.AIProvider == "" {
		cfg.AIProvider = defaultAIProvider
	}
	if cfg.AIModel == "" && cfg.AIProvider == defaultAIProvider {
		cfg.AIModel = defaultAIModel
	}
	if cfg.MatchConcurrency == 0 {
		cfg.MatchConcurrency = 1
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if n, err := strconv.Atoi(cfg.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("config: port %q is not a valid TCP port", cfg.Port)
	}
	if cfg.MinioPort <= 0 || cfg.MinioPort > 65535 {
		return fmt.Errorf("config: minioPort %d is not a valid TCP port", cfg.MinioPort)
	}
	switch cfg.AIProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
		}
	case "openai", "ollama":
		if cfg.AIModel == "" {
			return fmt.Errorf("config: aiModel is required for provider %s (set in config.yaml or AI_MODEL)", cfg.AIProvider)
		}
	default:
		return fmt.Errorf("config: unknown aiProvider %q (gemini, openai, ollama)", cfg.AIProvider)
	}
	if cfg.MatchConcurrency < 0 {
		return errors.New("config: matchConcurrency must not be negative")
	}
	if cfg.AIRequestsPerMinute < 0 || cfg.AITimeoutSeconds < 0 {
		return errors.New("config: aiRequestsPerMinute and aiTimeoutSeconds must not be negative")
	}
	if cfg.MatchRateLimitPerMinute < 0 {
		return errors.New("config: matchRateLimitPerMinute must not be negative")
	}
	if cfg.MatchRateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when matchRateLimitPerMinute is set (set in config.yaml or REDIS_ADDR)")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
