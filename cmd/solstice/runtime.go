package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/internal/compaction"
	"github.com/solsticehq/solstice/internal/config"
	"github.com/solsticehq/solstice/internal/cron"
	"github.com/solsticehq/solstice/internal/memory"
	"github.com/solsticehq/solstice/internal/multiagent"
	"github.com/solsticehq/solstice/internal/security"
	"github.com/solsticehq/solstice/internal/skills"
	"github.com/solsticehq/solstice/internal/tools"
)

// Runtime is the composition root: every long-lived service the agent
// needs, built once from config and torn down together.
type Runtime struct {
	cfg *config.Config

	sandbox   *security.Sandbox
	gate      *security.CommandGate
	validator *security.URLValidator

	memory    *memory.Store
	skills    *skills.Loader
	catalog   *tools.Catalog
	scheduler *cron.Scheduler
	terminal  *tools.Terminal

	agent  *agent.Agent
	pool   *multiagent.Pool
	router *multiagent.Router

	log *slog.Logger
}

// loadConfig loads the config file and applies CLI overrides.
func loadConfig(opts *cliOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
		if opts.model == "" {
			cfg.Model = config.DefaultModelFor(opts.provider)
		}
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.apiKey != "" {
		cfg.APIKey = opts.apiKey
	}
	return cfg, nil
}

// toolFlags merges the config gates with the CLI disable flags.
func (o *cliOptions) toolFlags(cfg *config.Config) tools.Flags {
	if o.noTools {
		return tools.Flags{}
	}
	return tools.Flags{
		Terminal: cfg.EnableTerminal && !o.noTerminal,
		Web:      cfg.EnableWeb && !o.noWeb,
		Memory:   !o.noMemory,
		Skills:   cfg.EnableSkills && !o.noSkills,
		Cron:     cfg.EnableCron && !o.noCron,
		Registry: cfg.EnableRegistry && !o.noRegistry,
	}
}

// personalityName picks the CLI flag over the config file.
func (o *cliOptions) personalityName(cfg *config.Config) string {
	if o.personality != "" && o.personality != "default" {
		return o.personality
	}
	if cfg.PersonalityName != "" {
		return cfg.PersonalityName
	}
	return "default"
}

// newRuntime assembles the services and the agent (or pool). confirm
// gates destructive commands; nil blocks them outright, which is what
// server mode wants.
func newRuntime(cfg *config.Config, opts *cliOptions, confirm security.ConfirmFunc) (*Runtime, error) {
	root := cfg.Workspace
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve workspace: %w", err)
		}
		root = cwd
	}
	sandbox, err := security.NewSandbox(root)
	if err != nil {
		return nil, fmt.Errorf("workspace sandbox: %w", err)
	}

	rt := &Runtime{
		cfg:       cfg,
		sandbox:   sandbox,
		gate:      security.NewCommandGate(confirm),
		validator: &security.URLValidator{},
		log:       slog.Default().With("component", "runtime"),
	}

	flags := opts.toolFlags(cfg)

	if flags.Skills {
		rt.skills = skills.NewLoader(cfg.DataDir())
		if err := rt.skills.EnsureDirs(); err != nil {
			rt.log.Warn("skill dirs unavailable", "error", err)
		}
		rt.skills.Reload()
	}
	if flags.Memory {
		rt.memory, err = memory.NewStore(cfg.DataDir())
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
	}
	if flags.Registry {
		rt.catalog, err = tools.NewCatalog(cfg.DataDir())
		if err != nil {
			return nil, fmt.Errorf("api catalog: %w", err)
		}
	}

	personality := agent.ResolvePersonality(opts.personalityName(cfg))

	if flags.Cron {
		rt.scheduler, err = cron.NewScheduler(cfg.DataDir(), rt.jobRunner(cfg, flags, personality), nil)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}

	if cfg.HasMultiAgent() && !opts.noTools {
		rt.pool = multiagent.NewPool(multiagent.ParseAgentConfigs(cfg.Agents), rt.agentFactory(cfg, opts))
		rt.router, err = multiagent.NewRouter(cfg.Routing.Strategy, cfg.Routing.Rules, cfg.Routing.Default)
		if err != nil {
			return nil, err
		}
		name := opts.agentName
		if name == "" {
			name = "default"
		}
		rt.agent, err = rt.pool.Get(name, "")
		if err != nil {
			return nil, err
		}
		return rt, nil
	}

	provider, err := cfg.CreateProvider()
	if err != nil {
		return nil, err
	}

	agentOpts := agent.Options{
		Personality: personality,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Skills:      rt.skills,
		Compactor:   compaction.New(provider, compaction.Config{ModelName: cfg.Model}),
	}
	if !opts.noTools {
		registry := tools.NewRegistry()
		rt.terminal = tools.LoadBuiltins(registry, rt.toolDeps(), flags)
		agentOpts.Tools = registry
	}
	rt.agent = agent.New(provider, agentOpts)
	return rt, nil
}

// toolDeps bundles the shared services for LoadBuiltins.
func (rt *Runtime) toolDeps() tools.Deps {
	deps := tools.Deps{
		Sandbox:   rt.sandbox,
		Gate:      rt.gate,
		Validator: rt.validator,
		Memory:    rt.memory,
		Skills:    rt.skills,
		Catalog:   rt.catalog,
	}
	// An interface holding a nil *Scheduler would still register the
	// cron tools; only assign when one exists.
	if rt.scheduler != nil {
		deps.Scheduler = rt.scheduler
	}
	return deps
}

// jobRunner builds the scheduler's executor: a fresh agent per job, with
// cron tools disabled so a job cannot schedule more jobs.
func (rt *Runtime) jobRunner(cfg *config.Config, flags tools.Flags, personality agent.Personality) cron.RunFunc {
	return func(ctx context.Context, query string) (string, error) {
		provider, err := cfg.CreateProvider()
		if err != nil {
			return "", err
		}
		jobFlags := flags
		jobFlags.Cron = false
		deps := rt.toolDeps()
		deps.Scheduler = nil

		registry := tools.NewRegistry()
		term := tools.LoadBuiltins(registry, deps, jobFlags)
		if term != nil {
			defer term.Shutdown()
		}
		a := agent.New(provider, agent.Options{
			Personality: personality,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Skills:      rt.skills,
			Tools:       registry,
		})
		return a.Chat(ctx, query)
	}
}

// agentFactory builds pool members: per-agent provider, personality,
// temperature, and tool set, inheriting everything unset from the global
// config.
func (rt *Runtime) agentFactory(cfg *config.Config, opts *cliOptions) multiagent.Factory {
	return func(ac multiagent.AgentConfig) (*agent.Agent, error) {
		sub := *cfg
		if ac.Provider != "" {
			sub.Provider = ac.Provider
			if ac.Model == "" {
				sub.Model = config.DefaultModelFor(ac.Provider)
			}
		}
		if ac.Model != "" {
			sub.Model = ac.Model
		}
		if ac.APIKey != "" {
			sub.APIKey = ac.APIKey
		}
		provider, err := sub.CreateProvider()
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.Name, err)
		}

		temperature := ac.Temperature
		if temperature == 0 {
			temperature = cfg.Temperature
		}

		base := opts.toolFlags(cfg)
		resolved := ac.ResolvedToolFlags()
		flags := tools.Flags{
			Terminal: base.Terminal && resolved["enable_terminal"],
			Web:      base.Web && resolved["enable_web"],
			Memory:   base.Memory && resolved["enable_memory"],
			Skills:   base.Skills && resolved["enable_skills"],
			Cron:     base.Cron && resolved["enable_cron"],
			Registry: base.Registry && resolved["enable_registry"],
		}
		deps := rt.toolDeps()
		if !flags.Cron {
			deps.Scheduler = nil
		}
		registry := tools.NewRegistry()
		tools.LoadBuiltins(registry, deps, flags)

		return agent.New(provider, agent.Options{
			Personality: agent.ResolvePersonality(ac.Personality),
			Temperature: temperature,
			MaxTokens:   cfg.MaxTokens,
			Skills:      rt.skills,
			Compactor:   compaction.New(provider, compaction.Config{ModelName: sub.Model}),
			Tools:       registry,
		}), nil
	}
}

// Close stops the scheduler and any background shell sessions.
func (rt *Runtime) Close() {
	if rt.scheduler != nil {
		rt.scheduler.Stop()
	}
	if rt.terminal != nil {
		rt.terminal.Shutdown()
	}
}
