package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// Anthropic adapts the Anthropic messages API. The system prompt is a
// separate top-level field; tool use and tool results are content
// blocks; streams arrive as content_block_start/delta/stop events with
// tool input as partial-JSON fragments.
type Anthropic struct {
	client anthropic.Client
	model  string
}

var _ agent.Provider = (*Anthropic)(nil)

// NewAnthropic builds the adapter.
func NewAnthropic(opts Options) *Anthropic {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := opts.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Anthropic{client: anthropic.NewClient(reqOpts...), model: model}
}

func (p *Anthropic) Name() string  { return "anthropic" }
func (p *Anthropic) Model() string { return p.model }

func (p *Anthropic) SupportsTools() bool     { return true }
func (p *Anthropic) SupportsVision() bool    { return true }
func (p *Anthropic) SupportsStreaming() bool { return true }

// Chat performs one blocking messages call.
func (p *Anthropic) Chat(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (*models.LLMResponse, error) {
	params, err := p.buildParams(messages, tools, opts)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = withRetries(ctx, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out := &models.LLMResponse{
		FinishReason: string(msg.StopReason),
		Usage: models.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:   b.ID,
				Name: b.Name,
				Args: parseToolArgs(string(b.Input)),
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

// Stream performs a streaming messages call. Text deltas are emitted as
// they arrive; tool input JSON is accumulated per content block and
// finalized on the block's stop event.
func (p *Anthropic) Stream(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (<-chan models.StreamEvent, error) {
	params, err := p.buildParams(messages, tools, opts)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	events := make(chan models.StreamEvent)
	go p.pump(stream, events)
	return events, nil
}

// FormatToolTurn returns the Family B assistant shape: a content-block
// array with the text followed by tool_use blocks.
func (p *Anthropic) FormatToolTurn(resp *models.LLMResponse) models.ChatMessage {
	var blocks []models.Block
	if resp.Text != "" {
		blocks = append(blocks, models.TextBlock(resp.Text))
	}
	for _, call := range resp.ToolCalls {
		blocks = append(blocks, models.ToolUseBlock(call))
	}
	return models.ChatMessage{Role: models.RoleAssistant, Content: models.BlockContent(blocks...)}
}

// FormatToolResults returns one user message carrying every result as a
// tool_result block, matching the API's pairing requirement.
func (p *Anthropic) FormatToolResults(execs []models.ToolExecution) []models.ChatMessage {
	blocks := make([]models.Block, 0, len(execs))
	for _, exec := range execs {
		blocks = append(blocks, models.ToolResultBlock(exec.Call.ID, exec.Result))
	}
	return []models.ChatMessage{{Role: models.RoleUser, Content: models.BlockContent(blocks...)}}
}

func (p *Anthropic) buildParams(messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (anthropic.MessageNewParams, error) {
	system, rest := splitSystem(messages)
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  toAnthropicMessages(rest),
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if len(tools) > 0 {
		converted, err := toAnthropicTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = converted
	}
	return params, nil
}

func (p *Anthropic) pump(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- models.StreamEvent) {
	defer close(out)
	defer stream.Close()

	var text strings.Builder
	var calls []models.ToolCall
	var current *pendingCall
	usage := models.Usage{}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				current = &pendingCall{id: toolUse.ID, name: toolUse.Name}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					out <- models.StreamEvent{Type: models.StreamText, Text: delta.Text}
				}
			case "input_json_delta":
				if current != nil {
					current.args.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if current != nil {
				calls = append(calls, models.ToolCall{
					ID:   current.id,
					Name: current.name,
					Args: parseToolArgs(current.args.String()),
				})
				current = nil
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "message_stop":
			resp := &models.LLMResponse{Text: text.String(), ToolCalls: calls, Usage: usage}
			if resp.HasToolCalls() {
				resp.FinishReason = "tool_use"
				out <- models.StreamEvent{Type: models.StreamToolCalls, Response: resp}
			} else {
				resp.FinishReason = "end_turn"
			}
			out <- models.StreamEvent{Type: models.StreamDone, Response: resp}
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- models.StreamEvent{Type: models.StreamDone, Err: fmt.Errorf("anthropic: %w", err)}
	}
}

func toAnthropicMessages(messages []models.ChatMessage) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Role == models.RoleTool {
			// Family A bookkeeping in a loaded history; re-express it as
			// a tool_result block.
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content.PlainText(), false))
		} else if msg.Content.IsBlocks() {
			for _, b := range msg.Content.Blocks {
				switch b.Type {
				case models.BlockText:
					content = append(content, anthropic.NewTextBlock(b.Text))
				case models.BlockImage:
					content = append(content, anthropic.NewImageBlockBase64(b.MediaType, b.Data))
				case models.BlockToolUse:
					content = append(content, anthropic.NewToolUseBlock(b.ID, toolUseInput(b.Args), b.Name))
				case models.BlockToolResult:
					content = append(content, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, false))
				}
			}
		} else if msg.Content.Text != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content.Text))
		}

		for _, tc := range msg.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.ID, toolUseInput(tc.Args), tc.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

func toolUseInput(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func toAnthropicTools(tools []models.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s: %w", t.Name, err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out, nil
}
