package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/solsticehq/solstice/internal/agent"
	"github.com/solsticehq/solstice/pkg/models"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini adapts the Gemini API. The system prompt becomes the request's
// system_instruction; tools are function declarations; streams arrive
// as chunked candidates whose parts carry text or complete function
// calls (no fragment accumulation needed).
type Gemini struct {
	apiKey string
	model  string

	// Client construction can fail, but the factory contract returns no
	// error, so it is deferred to first use.
	once      sync.Once
	client    *genai.Client
	clientErr error
}

var _ agent.Provider = (*Gemini)(nil)

// NewGemini builds the adapter.
func NewGemini(opts Options) *Gemini {
	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{apiKey: opts.APIKey, model: model}
}

func (p *Gemini) Name() string  { return "gemini" }
func (p *Gemini) Model() string { return p.model }

func (p *Gemini) SupportsTools() bool     { return true }
func (p *Gemini) SupportsVision() bool    { return true }
func (p *Gemini) SupportsStreaming() bool { return true }

func (p *Gemini) getClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		p.client, p.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if p.clientErr != nil {
		return nil, fmt.Errorf("gemini: create client: %w", p.clientErr)
	}
	return p.client, nil
}

// Chat performs one blocking generate call.
func (p *Gemini) Chat(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (*models.LLMResponse, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}
	contents, config := p.buildRequest(messages, tools, opts)

	resp, err := client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	out := &models.LLMResponse{}
	if resp.UsageMetadata != nil {
		out.Usage = models.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		if out.FinishReason == "" && cand.FinishReason != "" {
			out.FinishReason = string(cand.FinishReason)
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, toolCallFromFunction(part.FunctionCall))
			}
		}
	}
	out.Text = text.String()
	return out, nil
}

// Stream performs a streaming generate call.
func (p *Gemini) Stream(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (<-chan models.StreamEvent, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}
	contents, config := p.buildRequest(messages, tools, opts)

	events := make(chan models.StreamEvent)
	go func() {
		defer close(events)

		var text strings.Builder
		resp := &models.LLMResponse{}
		for chunk, err := range client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				events <- models.StreamEvent{Type: models.StreamDone, Err: fmt.Errorf("gemini: %w", err)}
				return
			}
			if chunk == nil {
				continue
			}
			if chunk.UsageMetadata != nil {
				resp.Usage = models.Usage{
					InputTokens:  int(chunk.UsageMetadata.PromptTokenCount),
					OutputTokens: int(chunk.UsageMetadata.CandidatesTokenCount),
				}
			}
			for _, cand := range chunk.Candidates {
				if cand == nil || cand.Content == nil {
					continue
				}
				if cand.FinishReason != "" {
					resp.FinishReason = string(cand.FinishReason)
				}
				for _, part := range cand.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						text.WriteString(part.Text)
						events <- models.StreamEvent{Type: models.StreamText, Text: part.Text}
					}
					if part.FunctionCall != nil {
						resp.ToolCalls = append(resp.ToolCalls, toolCallFromFunction(part.FunctionCall))
					}
				}
			}
		}

		resp.Text = text.String()
		if resp.HasToolCalls() {
			events <- models.StreamEvent{Type: models.StreamToolCalls, Response: resp}
		}
		events <- models.StreamEvent{Type: models.StreamDone, Response: resp}
	}()
	return events, nil
}

// FormatToolTurn keeps the structured tool_calls bookkeeping; the
// request converter re-expresses it as FunctionCall parts.
func (p *Gemini) FormatToolTurn(resp *models.LLMResponse) models.ChatMessage {
	return formatToolTurnA(resp)
}

// FormatToolResults returns role:tool messages; the request converter
// turns them into FunctionResponse parts with the name resolved from
// the pairing id.
func (p *Gemini) FormatToolResults(execs []models.ToolExecution) []models.ChatMessage {
	return formatToolResultsA(execs)
}

func (p *Gemini) buildRequest(messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := splitSystem(messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return toGeminiContents(rest), config
}

func toGeminiContents(messages []models.ChatMessage) []*genai.Content {
	// Gemini pairs function responses by name, not id.
	toolNames := map[string]string{}
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			toolNames[tc.ID] = tc.Name
		}
	}

	var out []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if msg.Role == models.RoleTool {
			content.Parts = []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     toolNames[msg.ToolCallID],
					Response: functionResponsePayload(msg.Content.PlainText()),
				},
			}}
			out = append(out, content)
			continue
		}

		if msg.Content.IsBlocks() {
			for _, b := range msg.Content.Blocks {
				switch b.Type {
				case models.BlockText:
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				case models.BlockImage:
					data, err := base64.StdEncoding.DecodeString(b.Data)
					if err != nil {
						continue
					}
					content.Parts = append(content.Parts, &genai.Part{
						InlineData: &genai.Blob{Data: data, MIMEType: b.MediaType},
					})
				}
			}
		} else if msg.Content.Text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content.Text})
		}

		for _, tc := range msg.ToolCalls {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Args},
			})
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

// functionResponsePayload wraps a stringified tool result for the
// FunctionResponse part: JSON objects pass through, anything else is
// wrapped in a result field.
func functionResponsePayload(result string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(result), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"result": result}
}

func toolCallFromFunction(fc *genai.FunctionCall) models.ToolCall {
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("call_%s_%s", fc.Name, uuid.NewString()[:8])
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	return models.ToolCall{ID: id, Name: fc.Name, Args: args}
}
