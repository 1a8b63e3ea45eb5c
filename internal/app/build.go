package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/litlabs-admin/daddyjohn/internal/auth"
	"github.com/litlabs-admin/daddyjohn/internal/chat"
	"github.com/litlabs-admin/daddyjohn/internal/completion"
	"github.com/litlabs-admin/daddyjohn/internal/config"
	"github.com/litlabs-admin/daddyjohn/internal/httpapi"
	"github.com/litlabs-admin/daddyjohn/internal/memory"
	"github.com/litlabs-admin/daddyjohn/internal/observability"
	"github.com/litlabs-admin/daddyjohn/internal/prompt"
	"github.com/litlabs-admin/daddyjohn/internal/summarize"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Store        memory.Store
	StoreMode    string
	Orchestrator *chat.Orchestrator
	Summaries    *summarize.Worker
	Metrics      *observability.Metrics

	// Cleanup drains background summaries and releases the store. ctx bounds
	// how long in-flight summaries may run.
	Cleanup func(ctx context.Context) error
}

// Build wires the service from cfg. A nil logger discards output.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	storeMode := memory.Mode(store)

	if cfg.UsesDefaultSecret() {
		logger.Warn("JWT_SECRET_KEY is not set, signing tokens with the development secret")
	}
	if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
		logger.Warn("OPENROUTER_API_KEY is not set, chat replies will use fallback messages")
	}

	gateway := completion.NewGateway(completion.Config{
		APIKey:     cfg.OpenRouterAPIKey,
		BaseURL:    cfg.OpenRouterBaseURL,
		Model:      cfg.OpenRouterModel,
		SiteURL:    cfg.SiteURL,
		RetryDelay: cfg.CompletionRetryDelay,
	}, logger.Named("completion"), metrics)

	persona := prompt.LoadPersona(cfg.PersonaPath, logger)
	builder := prompt.NewBuilder(store, persona, logger.Named("prompt"))

	summarizer := summarize.NewSummarizer(gateway, store, cfg.SummaryTimeout, cfg.CompletionMaxRetries, logger.Named("summarize"))
	worker := summarize.NewWorker(summarizer, cfg.SummaryWorkers, logger.Named("summarize"), metrics)

	orchestrator := chat.NewOrchestrator(store, builder, gateway, worker, chat.Config{
		Mode:        cfg.ChatMode,
		ChatTimeout: cfg.CompletionTimeout,
		MaxRetries:  cfg.CompletionMaxRetries,
	}, logger.Named("chat"), metrics)

	tokens := auth.NewAuthority([]byte(cfg.JWTSecret), cfg.JWTExpiration)
	api := httpapi.New(tokens, store, orchestrator, metrics, logger.Named("http"))

	cleanup := func(ctx context.Context) error {
		var errs []string
		if err := worker.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("summary worker: %v", err))
		}
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("store: %v", err))
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	logger.Info("service wired",
		zap.String("store", storeMode),
		zap.String("chat_mode", string(cfg.ChatMode)),
		zap.String("model", cfg.OpenRouterModel),
	)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Store:        store,
		StoreMode:    storeMode,
		Orchestrator: orchestrator,
		Summaries:    worker,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
