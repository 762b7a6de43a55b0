// Package main is the solstice CLI: an interactive agent REPL, a
// one-shot runner, and (via the serve subcommand) the gateway server.
//
// Basic usage:
//
//	solstice                       # interactive mode
//	solstice "what's in my cwd?"   # one-shot mode
//	solstice --setup               # interactive setup wizard
//	solstice serve                 # gateway HTTP server
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// exitError carries a process exit code through cobra's error return.
// Code 1 is a configuration or provider failure, 2 an invalid argument.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func configErr(format string, args ...any) error {
	return &exitError{code: 1, msg: fmt.Sprintf(format, args...)}
}

func usageErr(format string, args ...any) error {
	return &exitError{code: 2, msg: fmt.Sprintf(format, args...)}
}

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		// Cobra surfaces flag and argument parse failures here.
		os.Exit(2)
	}
}

// cliOptions are the root command's flags.
type cliOptions struct {
	configPath  string
	provider    string
	model       string
	apiKey      string
	personality string
	agentName   string

	listAgents      bool
	setup           bool
	continueSession bool
	images          []string
	noStream        bool
	verbose         bool

	noTools    bool
	noTerminal bool
	noWeb      bool
	noMemory   bool
	noSkills   bool
	noCron     bool
	noRegistry bool
}

func buildRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:          "solstice [message]",
		Short:        "Solstice - AI agent with real tool use",
		Long:         "Solstice is an AI agent that reads files, runs commands, searches the\nweb, remembers things, and answers on Telegram, Discord, and Slack.",
		Version:      version,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.verbose)
			message := ""
			if len(args) == 1 {
				message = args[0]
			}
			return runChat(cmd, opts, message)
		},
	}

	f := rootCmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	f.StringVarP(&opts.provider, "provider", "p", "", "LLM provider (openai, anthropic, gemini, ollama)")
	f.StringVarP(&opts.model, "model", "m", "", "Model name")
	f.StringVarP(&opts.apiKey, "api-key", "k", "", "API key")
	f.StringVar(&opts.personality, "personality", "default", "Personality (default, coder)")
	f.StringVarP(&opts.agentName, "agent", "a", "", "Select agent by name (requires multi-agent config)")
	f.BoolVar(&opts.listAgents, "list-agents", false, "List available agents and exit")
	f.BoolVar(&opts.setup, "setup", false, "Run interactive setup wizard")
	f.BoolVar(&opts.continueSession, "continue", false, "Resume last conversation")
	f.StringArrayVarP(&opts.images, "image", "i", nil, "Image path for multimodal (can repeat)")
	f.BoolVar(&opts.noStream, "no-stream", false, "Disable streaming (wait for full response)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Show debug logs")
	f.BoolVar(&opts.noTools, "no-tools", false, "Disable all tools")
	f.BoolVar(&opts.noTerminal, "no-terminal", false, "Disable terminal tools")
	f.BoolVar(&opts.noWeb, "no-web", false, "Disable web tools")
	f.BoolVar(&opts.noMemory, "no-memory", false, "Disable persistent memory")
	f.BoolVar(&opts.noSkills, "no-skills", false, "Disable the skill system")
	f.BoolVar(&opts.noCron, "no-cron", false, "Disable the scheduling system")
	f.BoolVar(&opts.noRegistry, "no-registry", false, "Disable API registry tools")

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

// setupLogging configures slog. The REPL keeps the log level at warn so
// structured noise does not interleave with the conversation.
func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
