package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/jobs"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/toolname"
	"github.com/haasonsaas/nexus/internal/tools/exec"
	"github.com/haasonsaas/nexus/internal/tools/files"
	"github.com/spf13/cobra"
)

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// loadConfig reads the --config flag off cmd and loads it via
// internal/config. A missing file falls back to an empty Config rather than
// erroring, so `nexus-agent run` works against bare defaults without a
// config file on disk.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := cmd.Flags().Changed("config")
	cfg, err := config.Load(path)
	if err != nil {
		if !explicit {
			return &config.Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// newNamedProvider constructs a single LLMProvider from cfg's entry for
// name.
func newNamedProvider(name string, pc config.LLMProviderConfig) (agent.LLMProvider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(pc.APIKey), nil
	case "azure":
		return providers.NewAzureProvider(pc.APIKey, pc.BaseURL), nil
	case "ollama":
		return providers.NewOllamaProvider(pc.BaseURL, pc.DefaultModel), nil
	case "openrouter":
		return providers.NewOpenRouterProvider(pc.APIKey), nil
	case "copilot":
		return providers.NewCopilotProvider(pc.APIKey, pc.BaseURL), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       pc.APIKey,
			DefaultModel: pc.DefaultModel,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			DefaultModel: pc.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}

// newProvider resolves cfg.LLM.DefaultProvider to a concrete LLMProvider.
// When cfg.LLM.FallbackChain names further providers, the default provider
// and each chain entry are wrapped in a FailoverOrchestrator, which opens a
// circuit on a provider after repeated transient failures and retries the
// next one in the list.
func newProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := cfg.LLM.DefaultProvider
	if name == "" {
		name = "anthropic"
	}
	primary, err := newNamedProvider(name, cfg.LLM.Providers[name])
	if err != nil {
		return nil, err
	}
	if len(cfg.LLM.FallbackChain) == 0 {
		return primary, nil
	}

	orchestrator := agent.NewFailoverOrchestrator(primary, agent.DefaultFailoverConfig())
	for _, fallbackName := range cfg.LLM.FallbackChain {
		fallback, err := newNamedProvider(fallbackName, cfg.LLM.Providers[fallbackName])
		if err != nil {
			return nil, fmt.Errorf("fallback_chain: %w", err)
		}
		orchestrator.AddProvider(fallback)
	}
	return orchestrator, nil
}

// buildObservability constructs the logger, metrics, tracer, and event
// recorder from cfg. The returned shutdown flushes the trace exporter.
// Metrics registration with the default Prometheus registry happens once
// per process, so this must only be called once.
func buildObservability(cfg *config.Config) (agent.Observer, *observability.Logger, func(context.Context) error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	obs := agent.Observer{
		Metrics:  observability.NewMetrics(),
		Recorder: observability.NewEventRecorder(observability.NewMemoryEventStore(0), logger),
	}

	shutdown := func(context.Context) error { return nil }
	tc := cfg.Observability.Tracing
	if tc.Enabled && tc.Endpoint != "" {
		tracer, stop := observability.NewTracer(observability.TraceConfig{
			ServiceName:    tc.ServiceName,
			ServiceVersion: tc.ServiceVersion,
			Environment:    tc.Environment,
			Endpoint:       tc.Endpoint,
			SamplingRate:   tc.SamplingRate,
			Attributes:     tc.Attributes,
			EnableInsecure: tc.Insecure,
		})
		obs.Tracer = tracer
		shutdown = stop
	}
	return obs, logger, shutdown
}

// buildStores selects session and job persistence: the Postgres-family
// stores when database.url is configured, in-memory otherwise.
func buildStores(cfg *config.Config) (sessions.Store, jobs.Store, error) {
	if cfg.Database.URL == "" {
		return sessions.NewMemoryStore(), jobs.NewMemoryStore(), nil
	}
	sessStore, err := sessions.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("session store: %w", err)
	}
	jobStore, err := jobs.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("job store: %w", err)
	}
	return sessStore, jobStore, nil
}

// newToolRegistry wires the built-in filesystem and command-execution
// tools, scoped to workspace, into a fresh ToolRegistry. Background exec
// processes are recorded in jobStore.
func newToolRegistry(workspace string, jobStore jobs.Store) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()
	filesCfg := files.Config{Workspace: workspace, MaxReadBytes: 256 * 1024}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewFileWriteTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	mgr := exec.NewManager(workspace)
	if jobStore != nil {
		mgr.SetJobStore(jobStore)
	}
	registry.Register(exec.NewExecTool("exec", mgr))
	registry.Register(exec.NewProcessTool(mgr))
	return registry
}

// builtInCatalog lists the names newToolRegistry just registered, for the
// toolname.Catalog the loop resolves model-facing tool names against.
func builtInCatalog(registry *agent.ToolRegistry) []string {
	names := make([]string, 0)
	for _, t := range registry.AsLLMTools() {
		names = append(names, t.Name())
	}
	return names
}

// app bundles everything a command needs to drive one agent loop.
type app struct {
	loop     *agent.CoreLoop
	manager  *mcp.ManagerActor
	sessions sessions.Store
	jobs     jobs.Store
	logger   *observability.Logger
	shutdown func(context.Context) error
}

// buildApp wires a provider, tool registry, observability, persistence, and
// (if the config lists any servers) an MCP manager into a ready-to-Start
// CoreLoop.
func buildApp(cfg *config.Config, workspace string) (*app, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	obs, logger, shutdown := buildObservability(cfg)
	sessStore, jobStore, err := buildStores(cfg)
	if err != nil {
		return nil, err
	}

	registry := newToolRegistry(workspace, jobStore)

	loopCfg := agent.DefaultCoreLoopConfig()
	loopCfg.DefaultModel = resolveModel(cfg)
	loopCfg.Workspace = workspace
	loopCfg.Catalog = toolname.Catalog{BuiltIns: builtInCatalog(registry)}
	if cfg.Tools.Execution.Approval.Profile == "full" {
		loopCfg.TrustAll = true
	}
	for _, name := range []string{"read", "ls", "grep"} {
		loopCfg.ReadOnlyTools[name] = true
	}
	loopCfg.Pruning = config.EffectiveContextPruningSettings(cfg.Session.ContextPruning)

	compactor := agent.NewCompactionManager(agent.DefaultCompactionConfig(),
		agentctx.NewPacker(agentctx.DefaultPackOptions()))
	loop := agent.NewCoreLoop(provider, registry, nil, compactor, loopCfg)
	loop.SetObserver(obs)

	var manager *mcp.ManagerActor
	if len(cfg.MCPServers) > 0 {
		manager = mcp.NewManagerActor(slog.Default())
		loop.SetDispatcher(toolname.MCPKind, agent.MCPToolDispatcher{Manager: manager})
	}
	return &app{
		loop:     loop,
		manager:  manager,
		sessions: sessStore,
		jobs:     jobStore,
		logger:   logger,
		shutdown: shutdown,
	}, nil
}

// launchConfiguredServers connects every server in cfg.MCPServers, logging
// (rather than failing the whole run) for any one server that can't reach
// Ready within its own handshake timeout.
func launchConfiguredServers(manager *mcp.ManagerActor, cfg *config.Config) {
	if manager == nil {
		return
	}
	for id, sc := range cfg.MCPServers {
		sc.ID = id
		ctx, cancel := contextWithTimeout(15 * time.Second)
		if err := manager.LaunchServer(ctx, sc); err != nil {
			slog.Default().Warn("mcp server failed to start", "server", id, "error", err)
		}
		cancel()
	}
}
