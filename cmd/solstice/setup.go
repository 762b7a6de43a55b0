package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/solsticehq/solstice/internal/config"
)

// keyEnvVars maps providers to the environment variable checked before
// asking for a key.
var keyEnvVars = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

var keyURLs = map[string]string{
	"openai":    "https://platform.openai.com/api-keys",
	"anthropic": "https://console.anthropic.com/settings/keys",
	"gemini":    "https://aistudio.google.com/apikey",
}

// runSetup is the interactive setup wizard. It walks through provider,
// model, credentials, and tool permissions, then writes solstice.yaml to
// the current directory.
func runSetup(out io.Writer, in io.Reader) error {
	reader := bufio.NewReader(in)
	ask := func(prompt, def string) string {
		if def != "" {
			fmt.Fprintf(out, "  %s [%s]: ", prompt, def)
		} else {
			fmt.Fprintf(out, "  %s: ", prompt)
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return def
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return def
		}
		return line
	}
	askYN := func(prompt string, def bool) bool {
		hint := "y/N"
		if def {
			hint = "Y/n"
		}
		answer := strings.ToLower(ask(prompt+" ["+hint+"]", ""))
		if answer == "" {
			return def
		}
		return answer == "y" || answer == "yes"
	}

	var lines []string

	fmt.Fprintln(out, "\nHey! I'm Sol. Let's get you set up — takes about 2 minutes.")
	fmt.Fprintln(out, "\nFirst things first — I need a brain. Pick an AI provider:")
	fmt.Fprintln(out, "  1  OpenAI       - GPT-4o, o1, o3. The most popular one.")
	fmt.Fprintln(out, "  2  Anthropic    - Claude. Known for being really thoughtful.")
	fmt.Fprintln(out, "  3  Google       - Gemini. Fast, can search the web natively.")
	fmt.Fprintln(out, "  4  Ollama       - Run AI locally on your own machine. Free.")
	fmt.Fprintln(out, "  5  Other        - Your own OpenAI-compatible server.")
	fmt.Fprintln(out)

	choice := ask("Which one sounds good? [1-5]", "1")
	providerMap := map[string]string{"1": "openai", "2": "anthropic", "3": "gemini", "4": "ollama", "5": "openai"}
	provider, ok := providerMap[choice]
	if !ok {
		provider = "openai"
	}
	lines = append(lines, "provider: "+provider)

	if choice == "5" {
		baseURL := ask("What's the API URL? (e.g. http://localhost:1234/v1)", "")
		model := ask("And the model name?", "")
		lines = append(lines, fmt.Sprintf("base_url: %q", baseURL), "model: "+model)
	} else {
		model := ask("Model", config.DefaultModelFor(provider))
		lines = append(lines, "model: "+model)
	}

	if provider == "ollama" {
		fmt.Fprintln(out, "\nOllama runs locally — no API key needed. Make sure it's installed")
		fmt.Fprintln(out, "(https://ollama.ai) and the model is pulled.")
		ollamaURL := ask("Where is Ollama running?", "http://localhost:11434")
		lines = append(lines, fmt.Sprintf("ollama_base_url: %q", ollamaURL))
	} else {
		envVar := keyEnvVars[provider]
		if envVar == "" {
			envVar = "SOLSTICE_API_KEY"
		}
		if existing := os.Getenv(envVar); existing != "" {
			fmt.Fprintf(out, "\nFound %s in your environment (%s...).\n", envVar, existing[:min(8, len(existing))])
			if askYN("Want me to use that one?", true) {
				lines = append(lines, "# api_key set via "+envVar+" environment variable")
			} else if key := ask("Paste your API key here", ""); key != "" {
				lines = append(lines, fmt.Sprintf("api_key: %q", key))
			}
		} else {
			fmt.Fprintf(out, "\nI need an API key — get one at %s\n", keyURLs[provider])
			if key := ask("Paste your API key", ""); key != "" {
				lines = append(lines, fmt.Sprintf("api_key: %q", key))
			} else {
				lines = append(lines, "# api_key set via "+envVar+" environment variable")
			}
		}
	}

	fmt.Fprintln(out, "\nBy default I can read and edit files. You control the rest:")
	enableTerminal := askYN("Can I use your terminal? (for running code, builds, etc.)", true)
	enableWeb := askYN("Can I search the web?", true)
	lines = append(lines,
		fmt.Sprintf("enable_terminal: %t", enableTerminal),
		fmt.Sprintf("enable_web: %t", enableWeb),
	)

	fmt.Fprintln(out, "\nOptional: I can answer on Telegram, Discord, or Slack too.")
	if askYN("Want to connect me to any messaging apps?", false) {
		lines = append(lines, "", "gateway_enabled: true", "gateway_channels:")
		if token := ask("Telegram bot token (from @BotFather, Enter to skip)", ""); token != "" {
			lines = append(lines, "  telegram:", fmt.Sprintf("    bot_token: %q", token))
		}
		if token := ask("Discord bot token (Enter to skip)", ""); token != "" {
			lines = append(lines, "  discord:", fmt.Sprintf("    bot_token: %q", token))
		}
		if token := ask("Slack bot token (Enter to skip)", ""); token != "" {
			lines = append(lines, "  slack:", fmt.Sprintf("    bot_token: %q", token))
		}
	}

	path := "solstice.yaml"
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return configErr("write config: %v", err)
	}

	fmt.Fprintf(out, "\nSaved settings to %s\n", path)
	fmt.Fprintln(out, "Run 'solstice' to start chatting, or 'solstice serve' for the gateway.")
	return nil
}
