package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/solsticehq/solstice/internal/channels"
	"github.com/solsticehq/solstice/pkg/models"
)

// maxBodyBytes caps webhook and chat request bodies.
const maxBodyBytes = 1 << 20

// Server exposes the gateway over HTTP: /chat, /agents, /health, and
// one webhook route per registered channel.
type Server struct {
	manager *Manager
	token   string
	httpSrv *http.Server
	log     *slog.Logger
}

// NewServer builds the HTTP front. An empty token disables
// authentication, which is only sane for localhost binds.
func NewServer(manager *Manager, addr, token string) *Server {
	s := &Server{
		manager: manager,
		token:   token,
		log:     slog.Default().With("component", "server"),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route mux; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("GET /agents", s.requireAuth(s.handleAgents))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /gateway/{channel}", s.handleWebhook)
	return mux
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("gateway server listening", "addr", s.httpSrv.Addr, "auth", s.token != "")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// requireAuth enforces the bearer token when one is configured.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": "Authentication required. Pass 'Authorization: Bearer <token>' header.",
			})
			return
		}
		provided := strings.TrimPrefix(header, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "Invalid authentication token."})
			return
		}
		next(w, r)
	}
}

type chatRequest struct {
	Message  string `json:"message"`
	Agent    string `json:"agent"`
	SenderID string `json:"sender_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing 'message'"})
		return
	}
	if req.Agent == "" {
		req.Agent = "default"
	}

	response, err := s.manager.Chat(r.Context(), req.Agent, req.SenderID, req.Message)
	if err != nil {
		s.log.Error("chat failed", "agent", req.Agent, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "agent error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": response, "agent": req.Agent})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	pool := s.manager.Pool()
	router := s.manager.Router()
	if pool == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"agents":           []string{"default"},
			"active_instances": 1,
			"routing":          map[string]any{"strategy": "single", "default": "default"},
		})
		return
	}

	routing := map[string]any{"strategy": "none", "default": "default", "rules": map[string]string{}}
	if router != nil {
		routing = map[string]any{
			"strategy": router.Strategy(),
			"default":  router.DefaultName(),
			"rules":    router.Rules(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":           pool.Names(),
		"active_instances": pool.ActiveCount(),
		"routing":          routing,
		"channels":         s.manager.ChannelTypes(),
	})
}

// handleHealth deliberately reports nothing beyond liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ct := models.ChannelType(r.PathValue("channel"))
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	result := s.manager.ProcessInbound(r.Context(), ct, &channels.Request{
		Header: r.Header,
		Body:   body,
	})

	switch {
	case result.Err == "Invalid signature":
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": result.Err})
	case result.Err != "":
		writeJSON(w, http.StatusNotFound, map[string]any{"error": result.Err})
	case result.Skipped:
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true})
	case result.WebhookResponse != nil:
		writeJSON(w, http.StatusOK, result.WebhookResponse)
	default:
		// Async channels want a bare 200 so the platform stops retrying.
		w.WriteHeader(http.StatusOK)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encode response", "error", err)
	}
}

// Addr formats a host/port pair for the HTTP listener.
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
