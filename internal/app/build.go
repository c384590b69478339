package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/chat"
	"github.com/mnemolabs/mnemo/internal/config"
	"github.com/mnemolabs/mnemo/internal/httpapi"
	"github.com/mnemolabs/mnemo/internal/llm"
	"github.com/mnemolabs/mnemo/internal/memory"
	"github.com/mnemolabs/mnemo/internal/observability"
	"github.com/mnemolabs/mnemo/internal/semantic"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *memory.Registry
	Chat     *chat.Service
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, embedding cache, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	client, err := llm.NewClient(llm.Config{
		Provider:        cfg.LLMProvider,
		OpenAIAPIKey:    cfg.GeminiAPIKey,
		OpenAIBaseURL:   cfg.GeminiAPIBase,
		OpenAIModel:     cfg.LLMModel,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
		Temperature:     cfg.LLMTemperature,
		MaxTokens:       cfg.LLMMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}

	registry, err := memory.NewRegistry(cfg.MemoryStrategy, memory.Config{
		MaxPairs:             cfg.MemoryMaxPairs,
		EvictionBatch:        cfg.MemoryEvictionBatch,
		SummaryTimeout:       cfg.MemorySummaryTimeout,
		ResummarizeThreshold: cfg.MemoryResummarizeThreshold,
	}, client, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("memory registry init failed: %w", err)
	}
	registry.SetSessionHook(func(ev memory.SessionEvent) {
		metrics.SessionEvents.WithLabelValues(ev.Kind).Inc()
		metrics.ActiveSessions.Set(float64(registry.ActiveCount()))
	})
	registry.SetEvictionHook(func(_ string, ev memory.EvictionEvent) {
		metrics.Evictions.Inc()
		outcome := "ok"
		if ev.Fallback {
			outcome = "fallback"
		}
		metrics.SummarizerCalls.WithLabelValues(outcome).Inc()
	})

	store, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	var index *semantic.Index
	var indexCleanup func()
	if cfg.SemanticRecall {
		embedder := semantic.NewEmbedder(semantic.Config{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiAPIBase,
			Model:   cfg.EmbeddingModel,
		})
		cached, err := semantic.NewCachedEmbedder(embedder, int64(cfg.EmbeddingCacheBytes))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("embedding cache init failed: %w", err)
		}
		indexCleanup = cached.Close
		index = semantic.NewIndex(cached)
	}

	chatService := chat.NewService(registry, client, store, index, metrics,
		cfg.SystemPrompt, cfg.MemoryMaxPairs, cfg.ArchiveSaveTimeout)

	api := httpapi.New(cfg, chatService, registry, store, metrics)

	cleanup := func() error {
		var errs []string
		if indexCleanup != nil {
			indexCleanup()
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Registry: registry,
		Chat:     chatService,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
