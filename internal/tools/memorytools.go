package tools

import (
	"context"

	"github.com/solsticehq/solstice/internal/memory"
	"github.com/solsticehq/solstice/pkg/models"
)

// RegisterMemory wires the persistent note and conversation tools over a
// memory store.
func RegisterMemory(r *Registry, store *memory.Store) {
	r.Register("memory_remember", func(_ context.Context, args map[string]any) (string, error) {
		key := stringArg(args, "key", "")
		value := stringArg(args, "value", "")
		if key == "" {
			return "Error: Empty key", nil
		}
		return store.Remember(key, value), nil
	}, models.ToolSchema{
		Name:        "memory_remember",
		Description: "Save a fact under a key so it persists across sessions.",
		Parameters: objSchema(map[string]any{
			"key":   map[string]any{"type": "string", "description": "Short identifier for the fact"},
			"value": map[string]any{"type": "string", "description": "The fact to remember"},
		}, "key", "value"),
	})

	r.Register("memory_recall", func(_ context.Context, args map[string]any) (string, error) {
		return store.Recall(stringArg(args, "key", "")), nil
	}, models.ToolSchema{
		Name:        "memory_recall",
		Description: "Recall a saved fact. With no key, lists everything saved.",
		Parameters: objSchema(map[string]any{
			"key": map[string]any{"type": "string", "description": "Key to look up (omit to list all)"},
		}),
	})

	r.Register("memory_forget", func(_ context.Context, args map[string]any) (string, error) {
		key := stringArg(args, "key", "")
		if key == "" {
			return "Error: Empty key", nil
		}
		return store.Forget(key), nil
	}, models.ToolSchema{
		Name:        "memory_forget",
		Description: "Delete a saved fact.",
		Parameters: objSchema(map[string]any{
			"key": map[string]any{"type": "string", "description": "Key to delete"},
		}, "key"),
	})

	r.Register("list_conversations", func(context.Context, map[string]any) (string, error) {
		return store.ListConversations(), nil
	}, models.ToolSchema{
		Name:        "list_conversations",
		Description: "List saved conversation sessions, newest first.",
		Parameters:  objSchema(map[string]any{}),
	})
}
