// Package tools provides the tool registry and the built-in tool groups:
// file operations, terminal, web, memory, skills, scheduler, and the API
// catalog. Handlers receive their dependencies at registration time.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/solsticehq/solstice/pkg/models"
)

// Handler executes one tool call. The returned string (or error, which is
// stringified by Dispatch) is fed back to the model verbatim.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Registry maps tool names to handlers and schemas. Schemas keep
// registration order; re-registering a name replaces the handler and moves
// nothing.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	handlers map[string]Handler
	schemas  []models.ToolSchema
	compiled map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		log:      slog.Default().With("component", "tools"),
		handlers: map[string]Handler{},
		compiled: map[string]*jsonschema.Schema{},
	}
}

// Register adds or replaces a tool. The schema's parameters are compiled
// for argument validation; a schema that fails to compile registers the
// tool without validation.
func (r *Registry) Register(name string, handler Handler, schema models.ToolSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[name] = handler
	replaced := false
	for i, s := range r.schemas {
		if s.Name == name {
			r.schemas[i] = schema
			replaced = true
			break
		}
	}
	if !replaced {
		r.schemas = append(r.schemas, schema)
	}

	if compiled, err := compileSchema(schema); err != nil {
		r.log.Warn("tool schema does not compile, skipping validation", "tool", name, "error", err)
		delete(r.compiled, name)
	} else {
		r.compiled[name] = compiled
	}
	r.log.Debug("tool registered", "name", name)
}

func compileSchema(schema models.ToolSchema) (*jsonschema.Schema, error) {
	if schema.Parameters == nil {
		return nil, fmt.Errorf("no parameters object")
	}
	raw, err := json.Marshal(schema.Parameters)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + schema.Name
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Schemas returns the registered schemas in registration order.
func (r *Registry) Schemas() []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSchema, len(r.schemas))
	copy(out, r.schemas)
	return out
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for _, s := range r.schemas {
		names = append(names, s.Name)
	}
	return names
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch executes a tool call and always returns a model-readable
// string: unknown tools, invalid arguments, handler errors, and panics all
// come back as stable error strings, never as a failure of the loop.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) (result string) {
	r.mu.RLock()
	handler, ok := r.handlers[call.Name]
	compiled := r.compiled[call.Name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'", call.Name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = fmt.Sprintf("Tool '%s' failed: panic: %v", call.Name, rec)
			r.log.Error("tool panicked", "tool", call.Name, "panic", rec)
		}
	}()

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	if compiled != nil {
		if err := compiled.Validate(normalizeForValidation(args)); err != nil {
			return fmt.Sprintf("Tool '%s' failed: invalid arguments: %v", call.Name, err)
		}
	}

	preview, _ := json.Marshal(args)
	if len(preview) > 200 {
		preview = preview[:200]
	}
	r.log.Info("executing tool", "tool", call.Name, "args", string(preview))

	out, err := handler(ctx, args)
	if err != nil {
		msg := fmt.Sprintf("Tool '%s' failed: %v", call.Name, err)
		r.log.Error("tool failed", "tool", call.Name, "error", err)
		return msg
	}
	if out == "" {
		out = "Done."
	}
	return out
}

// normalizeForValidation round-trips args through JSON so numeric types
// match what the validator expects (json.Number/float64, not int).
func normalizeForValidation(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return args
	}
	return v
}

// Argument helpers shared by the builtin handlers. Models send numbers as
// float64; these coerce with defaults for optional parameters.

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
