package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solsticehq/solstice/internal/config"
	"github.com/solsticehq/solstice/internal/multiagent"
)

// runChat is the root command body: wizard, agent listing, then one-shot
// or interactive chat.
func runChat(cmd *cobra.Command, opts *cliOptions, message string) error {
	out := cmd.OutOrStdout()

	if opts.setup {
		return runSetup(out, os.Stdin)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return configErr("%v", err)
	}

	if opts.listAgents {
		printAgents(out, cfg)
		return nil
	}

	if cfg, err = ensureCredentials(out, cfg, opts); err != nil {
		return err
	}

	if opts.agentName != "" {
		if _, ok := cfg.Agents[opts.agentName]; !ok {
			names := agentNames(cfg)
			return usageErr("agent %q not found. Available: %s", opts.agentName, strings.Join(names, ", "))
		}
	}

	rt, err := newRuntime(cfg, opts, cliConfirm)
	if err != nil {
		return configErr("%v", err)
	}
	defer rt.Close()

	if rt.scheduler != nil {
		rt.scheduler.Start()
	}

	if opts.continueSession && rt.memory != nil {
		if prev := rt.memory.LoadConversation(""); len(prev) > 0 {
			rt.agent.SetHistory(prev)
			fmt.Fprintf(out, "Resumed previous conversation (%d messages)\n", len(prev))
		}
	}

	if message != "" {
		return runOneShot(cmd, rt, opts, message)
	}
	return runInteractive(cmd, rt, opts)
}

// ensureCredentials offers the setup wizard when no API key is
// configured. Ollama needs no key.
func ensureCredentials(out io.Writer, cfg *config.Config, opts *cliOptions) (*config.Config, error) {
	if cfg.Provider == "ollama" || cfg.APIKey != "" {
		return cfg, nil
	}

	fmt.Fprintln(out, "\nNo API key configured.")
	if !promptYesNo(os.Stdin, out, "Run the setup wizard?", true) {
		fmt.Fprintln(out, "\nYou can run setup later with: solstice --setup")
		fmt.Fprintln(out, "Or set OPENAI_API_KEY, ANTHROPIC_API_KEY, or GEMINI_API_KEY")
		return nil, configErr("no API key configured")
	}

	if err := runSetup(out, os.Stdin); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, configErr("%v", err)
	}
	if cfg.Provider != "ollama" && cfg.APIKey == "" {
		return nil, configErr("setup didn't configure an API key")
	}
	return cfg, nil
}

func agentNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// printAgents describes the multi-agent configuration.
func printAgents(out io.Writer, cfg *config.Config) {
	if !cfg.HasMultiAgent() {
		fmt.Fprintln(out, "No multi-agent config. Using single default agent.")
		return
	}

	configs := multiagent.ParseAgentConfigs(cfg.Agents)
	fmt.Fprintln(out, "Available agents:")
	for _, name := range agentNames(cfg) {
		ac := configs[name]
		provider := ac.Provider
		if provider == "" {
			provider = cfg.Provider
		}
		personality := "custom"
		if s, ok := ac.Personality.(string); ok {
			personality = s
		}
		var disabled []string
		for flag, on := range ac.ResolvedToolFlags() {
			if !on {
				disabled = append(disabled, strings.TrimPrefix(flag, "enable_"))
			}
		}
		sort.Strings(disabled)
		line := fmt.Sprintf("  %s: %s / %s", name, provider, personality)
		if len(disabled) > 0 {
			line += fmt.Sprintf(" (disabled: %s)", strings.Join(disabled, ", "))
		}
		fmt.Fprintln(out, line)
	}

	strategy := cfg.Routing.Strategy
	if strategy == "" {
		strategy = "channel"
	}
	defaultName := cfg.Routing.Default
	if defaultName == "" {
		defaultName = "default"
	}
	fmt.Fprintf(out, "\nRouting: strategy=%s, default=%s\n", strategy, defaultName)
}

// cliConfirm asks the operator to approve a flagged command.
func cliConfirm(command, reason string) bool {
	fmt.Fprintf(os.Stderr, "\n  %s\n  Command: %s\n", reason, command)
	fmt.Fprint(os.Stderr, "  Allow this command? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// promptYesNo reads a y/n answer, returning def on empty input or EOF
// with def false.
func promptYesNo(in *os.File, out io.Writer, prompt string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(out, "  %s [%s] ", prompt, hint)
	reader := bufio.NewReader(in)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		return def
	}
	return answer == "y" || answer == "yes"
}
