// Package app assembles a crew from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"devcrew/internal/config"
	"devcrew/internal/crew"
	"devcrew/internal/llm"
	"devcrew/internal/logger"
	"devcrew/internal/policy"
	"devcrew/internal/tools"
	"devcrew/internal/trace"
)

// Setup loads the configuration at path and installs the process logger.
func Setup(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

type App struct {
	Crew *crew.Crew

	shutdown func(context.Context) error
}

// New builds the crew described by cfg. Close must be called to flush traces.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	shutdown, err := trace.Init(ctx, trace.Config{
		Endpoint: cfg.Tracing.Endpoint,
		URLPath:  cfg.Tracing.URLPath,
		APIKey:   cfg.Tracing.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	c, err := buildCrew(ctx, cfg)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}
	return &App{Crew: c, shutdown: shutdown}, nil
}

func (a *App) Close(ctx context.Context) error {
	return a.shutdown(ctx)
}

func buildCrew(ctx context.Context, cfg *config.Config) (*crew.Crew, error) {
	var searcher tools.Searcher
	if key := cfg.Services.Brave.APIKey; key != "" {
		brave, err := tools.NewBraveSearcher(key)
		if err != nil {
			return nil, err
		}
		searcher = brave
		slog.Info("web search backend enabled", "backend", "brave")
	}

	defs, err := crew.LoadDefinitions(cfg.Crew.Definitions)
	if err != nil {
		return nil, err
	}

	guard, err := policy.Load(ctx, cfg.Policy.File)
	if err != nil {
		return nil, err
	}

	return crew.New(defs, tools.Registry(searcher), provider(cfg.Agent()),
		crew.WithManagerLLM(provider(cfg.Manager())),
		crew.WithGuard(guard),
		crew.WithProcess(cfg.Crew.Process),
		crew.WithMaxIterations(cfg.Crew.MaxIterations),
	)
}

func provider(c *config.LLMConfig) llm.Provider {
	return llm.NewRetrying(llm.NewOpenAI(c.BaseURL, c.APIKey, c.Model, c.Temperature), c.MaxRetries)
}
