package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/solsticehq/solstice/pkg/models"
)

// Provider abstracts one model backend. Adapters normalize the provider's
// wire format into the shared types: tool call arguments arrive as
// structured maps, responses as LLMResponse, streams as StreamEvent
// channels closed by the producer.
//
// FormatToolTurn and FormatToolResults put each provider's own pairing
// shape on the working message list (Family A tool_calls/role:tool versus
// Family B content blocks), so the loop never switches on provider type.
type Provider interface {
	Name() string
	Model() string

	Chat(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (*models.LLMResponse, error)
	Stream(ctx context.Context, messages []models.ChatMessage, tools []models.ToolSchema, opts models.ChatOptions) (<-chan models.StreamEvent, error)

	SupportsTools() bool
	SupportsVision() bool
	SupportsStreaming() bool

	FormatToolTurn(resp *models.LLMResponse) models.ChatMessage
	FormatToolResults(execs []models.ToolExecution) []models.ChatMessage
}

var imageMediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// EncodeImage reads an image file and returns its base64 payload and MIME
// type, derived from the extension.
func EncodeImage(path string) (data, mediaType string, err error) {
	mediaType, ok := imageMediaTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", "", fmt.Errorf("unsupported image type %q", filepath.Ext(path))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(raw), mediaType, nil
}
