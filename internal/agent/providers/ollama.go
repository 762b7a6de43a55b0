package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/pkg/models"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.2"
	ollamaTimeout        = 2 * time.Minute
)

// errOllamaNoVision is the stable rejection for image content; Ollama's
// chat endpoint is text and tools only here.
var errOllamaNoVision = errors.New("ollama: image content not supported")

// Ollama adapts a local Ollama server over its /api/chat endpoint.
// Requests and responses are plain JSON; streams are line-delimited
// JSON objects. Tool schemas ride in the OpenAI function wrapper shape,
// which Ollama accepts natively.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
}

var _ agent.Provider = (*Ollama)(nil)

// NewOllama builds the adapter. BaseURL defaults to the local daemon.
func NewOllama(opts Options) *Ollama {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &Ollama{
		client:  &http.Client{Timeout: ollamaTimeout},
		baseURL: baseURL,
		model:   model,
	}
}

func (p *Ollama) Name() string  { return "ollama" }
func (p *Ollama) Model() string { return p.model }

func (p *Ollama) SupportsTools() bool     { return true }
func (p *Ollama) SupportsVision() bool    { return false }
func (p *Ollama) SupportsStreaming() bool { return true }

// Chat performs one blocking chat call (stream disabled; the server
// answers with a single JSON object).
func (p *Ollama) Chat(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (*models.LLMResponse, error) {
	body, err := p.do(ctx, messages, tools, opts, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var decoded ollamaChatResponse
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("ollama: %s", decoded.Error)
	}

	out := &models.LLMResponse{
		Usage: models.Usage{
			InputTokens:  decoded.PromptEvalCount,
			OutputTokens: decoded.EvalCount,
		},
	}
	if decoded.Message != nil {
		out.Text = decoded.Message.Content
		for _, tc := range decoded.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, toModelToolCall(tc))
		}
	}
	if out.HasToolCalls() {
		out.FinishReason = "tool_calls"
	} else {
		out.FinishReason = "stop"
	}
	return out, nil
}

// Stream performs a streaming chat call over line-delimited JSON.
func (p *Ollama) Stream(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (<-chan models.StreamEvent, error) {
	body, err := p.do(ctx, messages, tools, opts, true)
	if err != nil {
		return nil, err
	}

	events := make(chan models.StreamEvent)
	go p.pump(ctx, body, events)
	return events, nil
}

// FormatToolTurn returns the Family A assistant-with-tool-calls shape.
func (p *Ollama) FormatToolTurn(resp *models.LLMResponse) models.ChatMessage {
	return formatToolTurnA(resp)
}

// FormatToolResults returns one role:tool message per executed call.
func (p *Ollama) FormatToolResults(execs []models.ToolExecution) []models.ChatMessage {
	return formatToolResultsA(execs)
}

func (p *Ollama) do(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions, stream bool) (io.ReadCloser, error) {
	converted, err := toOllamaMessages(messages)
	if err != nil {
		return nil, err
	}

	payload := ollamaChatRequest{
		Model:    p.model,
		Messages: converted,
		Stream:   stream,
	}
	if len(tools) > 0 {
		payload.Tools = toOpenAITools(tools)
	}
	options := map[string]any{}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if len(options) > 0 {
		payload.Options = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp.Body, nil
}

func (p *Ollama) pump(ctx context.Context, body io.ReadCloser, out chan<- models.StreamEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var text strings.Builder
	var calls []models.ToolCall
	seen := map[string]struct{}{}
	usage := models.Usage{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- models.StreamEvent{Type: models.StreamDone, Err: ctx.Err()}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			out <- models.StreamEvent{Type: models.StreamDone, Err: fmt.Errorf("ollama: decode response: %w", err)}
			return
		}
		if chunk.Error != "" {
			out <- models.StreamEvent{Type: models.StreamDone, Err: fmt.Errorf("ollama: %s", chunk.Error)}
			return
		}
		if chunk.Message != nil {
			if chunk.Message.Content != "" {
				text.WriteString(chunk.Message.Content)
				out <- models.StreamEvent{Type: models.StreamText, Text: chunk.Message.Content}
			}
			for _, tc := range chunk.Message.ToolCalls {
				// Some models repeat a call across chunks.
				key := ollamaCallKey(tc)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				calls = append(calls, toModelToolCall(tc))
			}
		}
		if chunk.Done {
			usage = models.Usage{
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
			}
			break
		}
	}

	if err := scanner.Err(); err != nil {
		out <- models.StreamEvent{Type: models.StreamDone, Err: fmt.Errorf("ollama: %w", err)}
		return
	}

	resp := &models.LLMResponse{Text: text.String(), ToolCalls: calls, Usage: usage, FinishReason: "stop"}
	if resp.HasToolCalls() {
		resp.FinishReason = "tool_calls"
		out <- models.StreamEvent{Type: models.StreamToolCalls, Response: resp}
	}
	out <- models.StreamEvent{Type: models.StreamDone, Response: resp}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []openai.Tool   `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaMessage `json:"message"`
	Done            bool           `json:"done"`
	Error           string         `json:"error"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func toOllamaMessages(messages []models.ChatMessage) ([]ollamaMessage, error) {
	toolNames := map[string]string{}
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			toolNames[tc.ID] = tc.Name
		}
	}

	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		for _, b := range msg.Content.Blocks {
			if b.Type == models.BlockImage {
				return nil, errOllamaNoVision
			}
		}

		switch msg.Role {
		case models.RoleAssistant:
			converted := ollamaMessage{Role: "assistant", Content: msg.Content.PlainText()}
			for _, tc := range msg.ToolCalls {
				converted.ToolCalls = append(converted.ToolCalls, ollamaToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ollamaToolFunction{
						Name:      tc.Name,
						Arguments: json.RawMessage(marshalArgs(tc.Args)),
					},
				})
			}
			out = append(out, converted)

		case models.RoleTool:
			out = append(out, ollamaMessage{
				Role:     "tool",
				Content:  msg.Content.PlainText(),
				ToolName: toolNames[msg.ToolCallID],
			})

		default:
			out = append(out, ollamaMessage{
				Role:    string(msg.Role),
				Content: msg.Content.PlainText(),
			})
		}
	}
	return out, nil
}

func toModelToolCall(tc ollamaToolCall) models.ToolCall {
	id := strings.TrimSpace(tc.ID)
	if id == "" {
		id = fmt.Sprintf("call_%s", uuid.NewString()[:8])
	}
	return models.ToolCall{
		ID:   id,
		Name: strings.TrimSpace(tc.Function.Name),
		Args: parseToolArgs(string(tc.Function.Arguments)),
	}
}

// ollamaCallKey identifies a streamed tool call for dedupe: the server
// id when present, else name plus raw arguments.
func ollamaCallKey(tc ollamaToolCall) string {
	if id := strings.TrimSpace(tc.ID); id != "" {
		return id
	}
	return strings.TrimSpace(tc.Function.Name) + ":" + strings.TrimSpace(string(tc.Function.Arguments))
}
