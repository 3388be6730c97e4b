// Command server runs the shu multi-model chat turn service.
//
// Configuration comes from a YAML file (see pkg/config) plus SHU_*
// environment overrides. The minimum single-provider deployment needs
// only:
//
//	SHU_PROVIDER_BASE_URL - Chat Completions backend URL
//	SHU_PROVIDER_MODEL    - model name
//	SHU_PROVIDER_API_KEY  - API key (optional)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/config"
	"github.com/Open-Shu/shu-sub001/pkg/debug"
	"github.com/Open-Shu/shu-sub001/pkg/ensemble"
	"github.com/Open-Shu/shu-sub001/pkg/provider"
	_ "github.com/Open-Shu/shu-sub001/pkg/provider/openaicompat"
	"github.com/Open-Shu/shu-sub001/pkg/storage"
	"github.com/Open-Shu/shu-sub001/pkg/storage/memory"
	"github.com/Open-Shu/shu-sub001/pkg/storage/postgres"
	"github.com/Open-Shu/shu-sub001/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: discover)")
	flag.Parse()

	debug.Init("", "")

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := buildStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer store.Close()

	models, err := buildModels(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, m := range models {
			m.client.Close()
		}
	}()
	go validateProviders(models)

	orch := ensemble.New(store, store,
		ensemble.WithMaxToolRounds(cfg.Ensemble.MaxToolRounds),
		ensemble.WithQueueSize(cfg.Ensemble.QueueSize),
	)

	app := &app{
		cfg:    cfg,
		store:  store,
		orch:   orch,
		models: models,
	}

	srv := transport.NewServer(app,
		transport.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transport.WithMaxBodySize(cfg.Server.MaxBodySize),
		transport.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transport.WithMetrics(cfg.Observability.Metrics.Enabled, cfg.Observability.Metrics.Path),
	)
	return srv.ListenAndServe()
}

// buildStore selects the persistence backend.
func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MinConns:       cfg.Storage.Postgres.MinConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		slog.Info("storage enabled", "type", "memory")
		return memory.New(), nil
	}
}

// model pairs a constructed client with its configuration.
type model struct {
	client *provider.Client
	cfg    config.ProviderConfig
}

// buildModels constructs one provider client per configuration.
func buildModels(cfg *config.Config) (map[string]model, error) {
	models := make(map[string]model, len(cfg.Providers))
	for _, p := range cfg.Providers {
		adapter, ok := provider.Lookup(p.Adapter)
		if !ok {
			return nil, fmt.Errorf("providers[%s]: unknown adapter %q", p.ID, p.Adapter)
		}

		clientCfg := provider.ClientConfig{
			Name:            p.ID,
			BaseURL:         p.BaseURL,
			APIKey:          p.APIKey,
			Params:          p.Params,
			DefaultModel:    p.Model,
			MaxAttempts:     cfg.Retry.MaxAttempts,
			Backoff:         provider.Backoff{Base: cfg.Retry.BackoffBase, Cap: cfg.Retry.BackoffCap},
			StreamReadFloor: cfg.Streaming.ReadTimeoutFloor,
		}
		if p.Capabilities != nil {
			clientCfg.Capabilities = &provider.Capabilities{
				Streaming:   p.Capabilities.Streaming,
				ToolCalling: p.Capabilities.ToolCalling,
				Vision:      p.Capabilities.Vision,
				Reasoning:   p.Capabilities.Reasoning,
			}
		}

		models[p.ID] = model{client: provider.NewClient(adapter, clientCfg), cfg: p}
		slog.Info("provider configured", "id", p.ID, "adapter", p.Adapter, "model", p.Model)
	}
	return models, nil
}

// validateProviders probes each upstream once at startup. Failures are
// logged, not fatal; a provider may come up later.
func validateProviders(models map[string]model) {
	for id, m := range models {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if m.client.ValidateConnection(ctx) {
			slog.Info("provider reachable", "id", id)
		} else {
			slog.Warn("provider validation failed", "id", id)
		}
		cancel()
	}
}

// app wires turn requests into the orchestrator.
type app struct {
	cfg    *config.Config
	store  storage.Store
	orch   *ensemble.Orchestrator
	models map[string]model
}

// StartTurn resolves the requested configurations, persists the user
// message, and starts the orchestrator run.
func (a *app) StartTurn(ctx context.Context, req *transport.TurnRequest) (<-chan api.OutboundEvent, *api.Error) {
	primaryID := req.ModelConfigurationID
	if primaryID == "" {
		primaryID = a.cfg.DefaultConfiguration
	}
	primary, ok := a.models[primaryID]
	if !ok {
		return nil, api.NewConfigurationError("unknown model configuration: " + primaryID)
	}

	extras := make([]ensemble.ModelConfig, 0, len(req.EnsembleConfigurationIDs))
	for _, id := range req.EnsembleConfigurationIDs {
		m, ok := a.models[id]
		if !ok {
			return nil, api.NewConfigurationError("unknown ensemble configuration: " + id)
		}
		extras = append(extras, a.modelConfig(m, req))
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	userMsg, err := a.store.SaveMessage(ctx, storage.SaveMessageParams{
		ConversationID: conversationID,
		Role:           api.RoleUser,
		Content:        req.Message,
	})
	if err != nil {
		derr := api.NewProviderError("failed to persist user message: " + err.Error())
		return nil, derr
	}

	messages := make([]api.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, api.Message{Role: api.RoleUser, Content: req.Message})

	variants := ensemble.BuildVariants(a.modelConfig(primary, req), extras, messages, req.SystemPrompt)

	turn := &ensemble.Turn{
		ConversationID: conversationID,
		UserMessageID:  userMsg.ID,
		UserMessage:    userMsg,
		Variants:       variants,
	}
	return a.orch.Run(ctx, turn), nil
}

// modelConfig binds one configured model to the request's per-turn options.
func (a *app) modelConfig(m model, req *transport.TurnRequest) ensemble.ModelConfig {
	return ensemble.ModelConfig{
		ConfigurationID: m.cfg.ID,
		Provider:        m.client,
		Model:           m.cfg.Model,
		DisplayName:     m.cfg.DisplayName,
		Params:          req.Params,
		ToolsEnabled:    req.ToolsEnabled && m.cfg.ToolsEnabled,
		Timeout:         m.cfg.Timeout,
	}
}
