// Package tools holds the agent's tool registry and execution surface.
// Tools are registered with a JSON schema for their arguments; execution
// never returns an error to the caller, since tool failures are fed back
// to the model as text so the conversation can recover.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mihulabs/mihu/internal/observability"
	"github.com/mihulabs/mihu/internal/tracing"
)

// Handler executes a tool call with already-validated arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Definition describes a tool the model may call.
type Definition struct {
	Name        string
	Description string
	// Parameters is the JSON schema for the tool's arguments.
	Parameters map[string]interface{}
	Handler    Handler
}

// Schema is the wire shape advertised to the model.
type Schema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type registeredTool struct {
	def    Definition
	schema *gojsonschema.Schema
}

// Executor manages and runs registered tools.
type Executor struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewExecutor creates an empty tool registry.
func NewExecutor() *Executor {
	observability.EnsureRegistered()
	return &Executor{tools: make(map[string]*registeredTool)}
}

// Register adds a tool. The parameter schema is compiled eagerly so a
// malformed schema fails at startup rather than on first call.
func (e *Executor) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}

	var schema *gojsonschema.Schema
	if def.Parameters != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Parameters))
		if err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
		}
		schema = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	e.tools[def.Name] = &registeredTool{def: def, schema: schema}

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Schemas returns the advertised tool list, sorted by name so the model
// sees a stable ordering.
func (e *Executor) Schemas() []Schema {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Schema, 0, len(e.tools))
	for _, rt := range e.tools {
		out = append(out, Schema{
			Name:        rt.def.Name,
			Description: rt.def.Description,
			InputSchema: rt.def.Parameters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool by name with raw JSON arguments. The returned
// string is always safe to hand back to the model: failures come back as
// "<tool> failed: <reason>" rather than as errors.
func (e *Executor) Execute(ctx context.Context, name string, rawArgs string) string {
	ctx, span := tracing.StartSpan(ctx, "mihu.tools", "tools.execute")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", name).Logger()
	start := time.Now()

	result, err := e.execute(ctx, name, rawArgs)
	duration := time.Since(start)
	observability.RecordToolExecution(name, duration, err == nil)

	if err != nil {
		logger.Warn().Dur("duration", duration).Err(err).Msg("Tool execution failed")
		return fmt.Sprintf("%s failed: %s", name, err.Error())
	}

	logger.Debug().Dur("duration", duration).Msg("Tool executed")
	return result
}

func (e *Executor) execute(ctx context.Context, name string, rawArgs string) (string, error) {
	e.mu.RLock()
	rt, ok := e.tools[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool")
	}

	if rawArgs == "" {
		rawArgs = "{}"
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	if rt.schema != nil {
		validation, err := rt.schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			return "", fmt.Errorf("argument validation: %w", err)
		}
		if !validation.Valid() {
			return "", fmt.Errorf("invalid arguments: %s", validation.Errors()[0].String())
		}
	}

	return rt.def.Handler(ctx, args)
}
