package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI adapts the OpenAI chat-completions API. System prompts ride
// inline as role:system messages; tool calls stream as id-keyed field
// deltas that must be accumulated until the finish boundary.
type OpenAI struct {
	client *openai.Client
	model  string
}

var _ agent.Provider = (*OpenAI)(nil)

// NewOpenAI builds the adapter. BaseURL overrides the API endpoint for
// OpenAI-compatible servers.
func NewOpenAI(opts Options) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if strings.TrimSpace(opts.BaseURL) != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAI) Name() string  { return "openai" }
func (p *OpenAI) Model() string { return p.model }

func (p *OpenAI) SupportsTools() bool     { return true }
func (p *OpenAI) SupportsVision() bool    { return true }
func (p *OpenAI) SupportsStreaming() bool { return true }

// Chat performs one blocking completion call.
func (p *OpenAI) Chat(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (*models.LLMResponse, error) {
	req := p.buildRequest(messages, tools, opts, false)

	var resp openai.ChatCompletionResponse
	err := withRetries(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}

	choice := resp.Choices[0]
	out := &models.LLMResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: parseToolArgs(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream performs a streaming completion call. Text deltas are emitted
// as they arrive; tool-call fragments are accumulated per index and
// surfaced once at the finish boundary.
func (p *OpenAI) Stream(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (<-chan models.StreamEvent, error) {
	req := p.buildRequest(messages, tools, opts, true)

	var stream *openai.ChatCompletionStream
	err := withRetries(ctx, func() error {
		var callErr error
		stream, callErr = p.client.CreateChatCompletionStream(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	events := make(chan models.StreamEvent)
	go p.pump(ctx, stream, events)
	return events, nil
}

// FormatToolTurn returns the Family A assistant-with-tool-calls shape.
func (p *OpenAI) FormatToolTurn(resp *models.LLMResponse) models.ChatMessage {
	return formatToolTurnA(resp)
}

// FormatToolResults returns one role:tool message per executed call.
func (p *OpenAI) FormatToolResults(execs []models.ToolExecution) []models.ChatMessage {
	return formatToolResultsA(execs)
}

func (p *OpenAI) buildRequest(messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(messages),
		Stream:   stream,
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
	}
	return req
}

// pendingCall accumulates one tool call across stream deltas: the id and
// name arrive in the first fragment, arguments as streamed JSON pieces.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAI) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- models.StreamEvent) {
	defer close(out)
	defer stream.Close()

	var text strings.Builder
	pending := map[int]*pendingCall{}
	var order []int
	finish := ""
	usage := models.Usage{}

	for {
		select {
		case <-ctx.Done():
			out <- models.StreamEvent{Type: models.StreamDone, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out <- models.StreamEvent{Type: models.StreamDone, Err: fmt.Errorf("openai: %w", err)}
			return
		}
		if resp.Usage != nil {
			usage = models.Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finish = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			out <- models.StreamEvent{Type: models.StreamText, Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call := pending[idx]
			if call == nil {
				call = &pendingCall{}
				pending[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}
	}

	resp := &models.LLMResponse{Text: text.String(), FinishReason: finish, Usage: usage}
	for _, idx := range order {
		call := pending[idx]
		if call.id == "" || call.name == "" {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:   call.id,
			Name: call.name,
			Args: parseToolArgs(call.args.String()),
		})
	}

	if resp.HasToolCalls() {
		out <- models.StreamEvent{Type: models.StreamToolCalls, Response: resp}
	}
	out <- models.StreamEvent{Type: models.StreamDone, Response: resp}
}

func toOpenAIMessages(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content.PlainText(),
			})

		case models.RoleUser:
			if msg.Content.IsBlocks() {
				out = append(out, openai.ChatCompletionMessage{
					Role:         openai.ChatMessageRoleUser,
					MultiContent: toOpenAIParts(msg.Content.Blocks),
				})
			} else {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: msg.Content.Text,
				})
			}

		case models.RoleAssistant:
			converted := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content.PlainText(),
			}
			for _, tc := range msg.ToolCalls {
				converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: marshalArgs(tc.Args),
					},
				})
			}
			out = append(out, converted)

		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content.PlainText(),
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return out
}

func toOpenAIParts(blocks []models.Block) []openai.ChatMessagePart {
	var parts []openai.ChatMessagePart
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: b.Text,
			})
		case models.BlockImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", b.MediaType, b.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return parts
}

// toOpenAITools converts tool schemas to the function wire format. Also
// used by the Ollama adapter, whose API accepts the same shape.
func toOpenAITools(tools []models.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}
