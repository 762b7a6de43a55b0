package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solsticehq/solstice/pkg/models"
)

// runOneShot answers a single positional message and saves the session.
func runOneShot(cmd *cobra.Command, rt *Runtime, opts *cliOptions, message string) error {
	out := cmd.OutOrStdout()

	if opts.noStream {
		response, err := rt.agent.Chat(cmd.Context(), message, opts.images...)
		if err != nil {
			return configErr("%v", err)
		}
		fmt.Fprintln(out, response)
	} else if err := streamResponse(cmd.Context(), out, rt, message, opts.images); err != nil {
		return configErr("%v", err)
	}

	if rt.memory != nil {
		rt.memory.SaveConversation(rt.agent.History())
	}
	return nil
}

// runInteractive is the REPL: read a line, stream the answer, repeat.
func runInteractive(cmd *cobra.Command, rt *Runtime, opts *cliOptions) error {
	out := cmd.OutOrStdout()
	printBanner(out, rt, opts)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit", "q":
			saveAndExit(out, rt)
			return nil
		case "clear":
			rt.agent.ClearHistory()
			fmt.Fprintln(out, "History cleared.")
			continue
		case "tools":
			for _, name := range rt.agent.ToolNames() {
				fmt.Fprintf(out, "  %s\n", name)
			}
			continue
		case "history":
			for _, msg := range rt.agent.History() {
				text := msg.Content.PlainText()
				if len(text) > 100 {
					text = text[:100]
				}
				fmt.Fprintf(out, "[%s] %s\n", msg.Role, text)
			}
			continue
		}

		var err error
		if opts.noStream {
			var response string
			response, err = rt.agent.Chat(cmd.Context(), input)
			if err == nil {
				fmt.Fprintf(out, "\n%s\n\n", response)
			}
		} else {
			err = streamResponse(cmd.Context(), out, rt, input, nil)
		}
		if err != nil {
			fmt.Fprintf(out, "\nError: %v\n\n", err)
		}
	}

	// EOF (Ctrl-D) lands here.
	saveAndExit(out, rt)
	return nil
}

func saveAndExit(out io.Writer, rt *Runtime) {
	if rt.memory != nil {
		rt.memory.SaveConversation(rt.agent.History())
	}
	fmt.Fprintln(out, "Goodbye.")
}

func printBanner(out io.Writer, rt *Runtime, opts *cliOptions) {
	label := ""
	if opts.agentName != "" && rt.pool != nil {
		label = fmt.Sprintf(" [%s]", opts.agentName)
	}
	streaming := "on"
	if opts.noStream {
		streaming = "off"
	}
	fmt.Fprintf(out, "\n  Solstice Agent%s %s\n", label, version)
	fmt.Fprintf(out, "  %s / %s\n", rt.agent.Provider().Name(), rt.agent.Personality().Name)
	fmt.Fprintf(out, "  Tools: %d loaded | Streaming: %s\n", len(rt.agent.ToolNames()), streaming)
	fmt.Fprintf(out, "  Type 'exit' to quit, 'clear' to reset, 'tools' to list\n\n")
}

// streamResponse writes streamed text as it arrives and announces tool
// calls with their (truncated) arguments.
func streamResponse(ctx context.Context, out io.Writer, rt *Runtime, message string, images []string) error {
	started := false
	for event := range rt.agent.ChatStream(ctx, message, images...) {
		switch event.Type {
		case models.StreamText:
			if !started {
				fmt.Fprint(out, "\n")
				started = true
			}
			fmt.Fprint(out, event.Text)
		case models.StreamToolCalls:
			if event.Response != nil {
				for _, call := range event.Response.ToolCalls {
					fmt.Fprintf(out, "  [%s] %s\n", call.Name, formatArgs(call.Args))
				}
			}
		case models.StreamDone:
			if event.Err != nil {
				return event.Err
			}
			if started {
				fmt.Fprint(out, "\n\n")
			} else {
				fmt.Fprintln(out)
			}
		}
	}
	return nil
}

func formatArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	s := string(data)
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
