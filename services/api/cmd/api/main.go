package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobmatch/internal/metrics"
	"jobmatch/internal/ratelimit"
	"jobmatch/internal/util"
	"jobmatch/pkg/ai"
	"jobmatch/pkg/extract"
	"jobmatch/pkg/matching"
	"jobmatch/pkg/storage"
	"jobmatch/pkg/store"
	"jobmatch/services/api/internal/app"
	"jobmatch/services/api/internal/config"
	"jobmatch/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer dataStore.Close()

	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		Port:      cfg.MinioPort,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Bucket:    cfg.MinioBucket,
		Region:    cfg.MinioRegion,
	})
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	aiKey := cfg.AIAPIKey
	if cfg.AIProvider == ai.ProviderGemini {
		aiKey = cfg.GeminiAPIKey
	}
	generator, err := ai.NewGenerator(ai.Config{
		Provider:   cfg.AIProvider,
		APIKey:     aiKey,
		Model:      cfg.AIModel,
		BaseURL:    cfg.AIBaseURL,
		JSONOutput: true,
	})
	if err != nil {
		log.Fatalf("failed to init ai generator: %v", err)
	}
	matcher := matching.NewMatcher(generator,
		matching.WithConcurrency(cfg.MatchConcurrency),
		matching.WithRateLimit(cfg.AIRequestsPerMinute),
		matching.WithRequestTimeout(time.Duration(cfg.AITimeoutSeconds)*time.Second),
		matching.WithLogger(logger),
	)

	appCore, err := app.New(app.Config{
		Store:     dataStore,
		Objects:   objects,
		Extractor: extract.NewPDFExtractor(extract.Options{UsePdftotext: cfg.PdftotextEnabled()}),
		Matcher:   matcher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	bucketCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := appCore.EnsureBucket(bucketCtx); err != nil {
		logger.Warn("cv bucket not ready, uploads will fail until storage is reachable", "bucket", cfg.MinioBucket, "err", err)
	} else {
		logger.Info("cv bucket ready", "bucket", cfg.MinioBucket)
	}
	cancel()

	var limiter server.Limiter
	if cfg.MatchRateLimitPerMinute > 0 {
		fw, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.MatchRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		defer fw.Close()
		limiter = fw
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	metrics.Register()
	httpServer, err := server.New(server.Config{
		App:            appCore,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Limiter:        limiter,
		TrustedProxies: trusted,
		Metrics:        metrics.Handler(),
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 30 * time.Second,
		// A matching run makes one AI call per candidate.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api server listening", "addr", addr, "ai_provider", cfg.AIProvider, "match_concurrency", cfg.MatchConcurrency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
