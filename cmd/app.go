package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/coursepilot/assistant/internal/backend"
	"github.com/coursepilot/assistant/internal/chat"
	"github.com/coursepilot/assistant/internal/config"
	"github.com/coursepilot/assistant/internal/conversation"
	"github.com/coursepilot/assistant/internal/history"
	"github.com/coursepilot/assistant/internal/log"
	"github.com/coursepilot/assistant/internal/provider"
)

// app bundles the wired session core for one CLI invocation.
type app struct {
	cfg     *config.Config
	logger  log.Logger
	store   *history.Store
	orch    *chat.Orchestrator
	cache   *history.SQLiteCache
	backend *backend.Client
}

// newApp loads configuration and wires the session core: SQLite local cache,
// backend client as the remote replica, orchestrator on top. The principal's
// server-side AI config is merged in when reachable.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := log.New(log.Config{Level: cfg.Level(), JSON: cfg.LogJSON})

	if cfg.Identity == "" {
		return nil, fmt.Errorf("no identity configured: set COURSEPILOT_IDENTITY or identity in config.yaml")
	}

	bc := backend.New(cfg.BackendBaseURL, cfg.SessionToken, 60*time.Second, logger.With("component", "backend"))

	// Best-effort remote config merge; the local config stands on failure.
	if bc.Authenticated() {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if remote, rerr := bc.FetchAIConfig(cctx, cfg.Identity); rerr == nil {
			cfg.ApplyRemote(remote)
		} else {
			logger.Debug("remote AI config unavailable", "error", rerr)
		}
		cancel()
	}

	cache, err := history.NewSQLiteCache(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("opening history cache: %w", err)
	}

	store, err := history.New(history.Config{
		Cache:  cache,
		Remote: bc,
		Logger: logger.With("component", "history"),
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	orch, err := chat.New(chat.Config{
		History:      store,
		Backend:      bc,
		Provider:     provider.New(cfg.ProviderAPIKey, cfg.ProviderBaseURL, 120*time.Second),
		Logger:       logger.With("component", "chat"),
		Models:       chat.ModelConfig{Chat: cfg.ChatModel, DeepThink: cfg.DeepThinkModel},
		SystemPrompt: cfg.SystemPrompt,
		SearchLimit:  cfg.SearchLimit,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: store, orch: orch, cache: cache, backend: bc}, nil
}

// load activates the configured identity's session.
func (a *app) load(ctx context.Context) ([]conversation.Message, error) {
	return a.store.Load(ctx, a.cfg.Identity)
}

// close flushes pending syncs and releases resources.
func (a *app) close(ctx context.Context) {
	if err := a.store.Flush(ctx); err != nil {
		a.logger.Debug("final history sync failed", "error", err)
	}
	a.store.Close()
	if err := a.cache.Close(); err != nil {
		a.logger.Debug("closing history cache", "error", err)
	}
}
