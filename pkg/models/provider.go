package models

// ToolSchema describes one callable tool in the provider-neutral shape
// (JSON Schema parameters object).
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatOptions are the per-call loop parameters.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// Usage reports token consumption when the provider supplies it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// LLMResponse is a provider-neutral model response.
type LLMResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// HasToolCalls reports whether the model requested tool execution.
func (r *LLMResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToolExecution pairs a tool call with its stringified result.
type ToolExecution struct {
	Call   ToolCall
	Result string
}

// StreamEventType discriminates streaming events.
type StreamEventType string

const (
	StreamText      StreamEventType = "text"
	StreamToolCalls StreamEventType = "tool_calls"
	StreamDone      StreamEventType = "done"
)

// StreamEvent is one element of a streaming response. The producer closes
// the channel after emitting a final StreamDone event whose Response
// carries the accumulated LLMResponse.
type StreamEvent struct {
	Type     StreamEventType
	Text     string       // delta text for StreamText
	Response *LLMResponse // set on StreamDone
	Err      error        // set when the stream failed; terminal
}
