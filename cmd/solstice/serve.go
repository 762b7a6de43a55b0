package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/internal/channels/discord"
	"github.com/solsticehq/solstice/internal/channels/slack"
	"github.com/solsticehq/solstice/internal/channels/telegram"
	"github.com/solsticehq/solstice/internal/channels/webchat"
	"github.com/solsticehq/solstice/internal/channels/webhook"
	"github.com/solsticehq/solstice/internal/config"
	"github.com/solsticehq/solstice/internal/gateway"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		authToken  string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Long:  "Runs the gateway: webhook endpoints for Telegram, Slack, and the\ngeneric channels, a Discord connection, the HTTP chat API, and the\njob scheduler.",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return runServe(cmd, configPath, host, port, authToken)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Path to config file")
	f.StringVar(&host, "host", "", "Bind address (default from config: 127.0.0.1)")
	f.IntVar(&port, "port", 0, "Listen port (default from config: 8787)")
	f.StringVar(&authToken, "auth-token", "", "Bearer token for API authentication (or SOLSTICE_GATEWAY_TOKEN)")
	f.BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, host string, port int, authToken string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return configErr("%v", err)
	}
	if host == "" {
		host = cfg.GatewayHost
	}
	if port == 0 {
		port = cfg.GatewayPort
	}
	token := authToken
	if token == "" {
		token = cfg.GatewayToken
	}

	// Non-loopback binds without a token get an auto-generated one; the
	// operator needs it printed exactly once.
	if !isLoopback(host) && token == "" {
		token = generateToken()
		fmt.Fprintf(out, "WARNING: Binding to %s with auto-generated auth token.\n", host)
		fmt.Fprintf(out, "  Token: %s\n", token)
		fmt.Fprintf(out, "  Pass via: Authorization: Bearer %s\n\n", token)
	}

	// Server mode has no operator at a prompt: destructive commands are
	// blocked, not confirmed.
	rt, err := newRuntime(cfg, &cliOptions{}, nil)
	if err != nil {
		return configErr("%v", err)
	}
	defer rt.Close()

	var manager *gateway.Manager
	if rt.pool != nil {
		manager = gateway.NewMulti(rt.pool, rt.router)
	} else {
		manager = gateway.New(rt.agent)
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for name, chCfg := range enabledChannels(cfg) {
		ch := buildChannel(name, chCfg)
		if ch == nil {
			continue
		}
		if !ch.Configured() {
			slog.Warn("channel enabled but not configured", "channel", name)
			continue
		}
		if err := manager.RegisterChannel(ctx, ch); err != nil {
			slog.Error("channel registration failed", "channel", name, "error", err)
		}
	}

	if rt.scheduler != nil {
		rt.scheduler.SetSender(manager)
		rt.scheduler.Start()
	}

	srv := gateway.NewServer(manager, gateway.Addr(host, port), token)

	fmt.Fprintf(out, "Solstice Gateway starting on %s:%d\n", host, port)
	if token != "" {
		fmt.Fprintln(out, "  Authentication: enabled")
	} else {
		fmt.Fprintln(out, "  Authentication: disabled (localhost only)")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			return configErr("%v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}
	return nil
}

// channelNames is the set of supported gateway channels.
var channelNames = []string{"telegram", "discord", "slack", "webhook", "webchat"}

// enabledChannels merges the config's gateway_channels block with the
// GATEWAY_<CHANNEL>_ENABLED environment toggles. A channel is enabled
// when either names it; its settings come from the config block (the
// adapters fall back to env vars for credentials).
func enabledChannels(cfg *config.Config) map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, name := range channelNames {
		chCfg, inConfig := cfg.GatewayChannels[name]
		envOn := envTruthy(os.Getenv("GATEWAY_" + strings.ToUpper(name) + "_ENABLED"))
		if !inConfig && !envOn {
			continue
		}
		if chCfg == nil {
			chCfg = map[string]any{}
		}
		if enabled, ok := chCfg["enabled"].(bool); ok && !enabled && !envOn {
			continue
		}
		out[name] = chCfg
	}
	return out
}

func buildChannel(name string, cfg map[string]any) channels.Channel {
	switch name {
	case "telegram":
		return telegram.New(cfg)
	case "discord":
		return discord.New(cfg)
	case "slack":
		return slack.New(cfg)
	case "webhook":
		return webhook.New(cfg)
	case "webchat":
		return webchat.New(cfg)
	}
	return nil
}

func envTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func isLoopback(host string) bool {
	switch host {
	case "127.0.0.1", "localhost", "::1":
		return true
	}
	return false
}

func generateToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // the OS entropy source is gone; nothing sane to do
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
