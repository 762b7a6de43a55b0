// Package models defines the shared data model for the Solstice runtime:
// conversational turns, content blocks, tool calls, and the normalized
// gateway message exchanged with channel adapters.
package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Role indicates the author of a conversational turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates content blocks.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one element of multi-part message content. Exactly the fields
// for its Type are populated.
type Block struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockImage: base64 payload plus its MIME type.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// BlockToolUse
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ImageBlock builds an inline base64 image block.
func ImageBlock(mediaType, data string) Block {
	return Block{Type: BlockImage, MediaType: mediaType, Data: data}
}

// ToolUseBlock builds a tool_use block from a tool call.
func ToolUseBlock(call ToolCall) Block {
	return Block{Type: BlockToolUse, ID: call.ID, Name: call.Name, Args: call.Args}
}

// ToolResultBlock builds a tool_result block answering the given call id.
func ToolResultBlock(toolUseID, content string) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content}
}

// Content is a tagged variant: either plain text or an ordered list of
// blocks. Blocks take precedence when non-nil.
type Content struct {
	Text   string  `json:"text,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
}

// TextContent wraps plain text.
func TextContent(text string) Content {
	return Content{Text: text}
}

// BlockContent wraps a block list.
func BlockContent(blocks ...Block) Content {
	return Content{Blocks: blocks}
}

// IsBlocks reports whether the content carries structured blocks.
func (c Content) IsBlocks() bool {
	return c.Blocks != nil
}

// PlainText flattens the content to text: block contents are joined, images
// are skipped. Used for logging and token estimation only — serializers
// must match on the variant instead.
func (c Content) PlainText() string {
	if !c.IsBlocks() {
		return c.Text
	}
	var out string
	for _, b := range c.Blocks {
		switch b.Type {
		case BlockText:
			if out != "" {
				out += " "
			}
			out += b.Text
		case BlockToolResult:
			if out != "" {
				out += " "
			}
			out += b.Content
		}
	}
	return out
}

// ToolCall is a model's request to execute a named tool. Args are
// structured values, never a JSON-encoded string.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ChatMessage is one turn of a conversation.
//
// ToolCalls and ToolCallID are Family A (OpenAI wire) bookkeeping for the
// assistant-with-tool-calls and tool-result shapes; Family B expresses the
// same pairing through tool_use / tool_result blocks in Content.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// UserText builds a plain user turn.
func UserText(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: TextContent(text)}
}

// AssistantText builds a plain assistant turn.
func AssistantText(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: TextContent(text)}
}

// SystemText builds a system turn.
func SystemText(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: TextContent(text)}
}

// HasToolUse reports whether the message initiates tool calls, in either
// wire shape.
func (m ChatMessage) HasToolUse() bool {
	if len(m.ToolCalls) > 0 {
		return true
	}
	for _, b := range m.Content.Blocks {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// HasToolResult reports whether the message carries a tool result, in
// either wire shape.
func (m ChatMessage) HasToolResult() bool {
	if m.Role == RoleTool {
		return true
	}
	for _, b := range m.Content.Blocks {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// NewSessionID returns a fresh conversation session id (s-<8 hex>).
func NewSessionID() string {
	return fmt.Sprintf("s-%s", uuid.NewString()[:8])
}

// NewJobID returns a fresh scheduler job id (j-<8 hex>).
func NewJobID() string {
	return fmt.Sprintf("j-%s", uuid.NewString()[:8])
}

// NewMessageID returns a fresh gateway message id (gw-<12 hex>).
func NewMessageID() string {
	u := uuid.New()
	return fmt.Sprintf("gw-%x", u[:6])
}
