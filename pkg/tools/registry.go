package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/observability"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/engine"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolResult is the tagged outcome of a tool execution. Failures —
// including unknown tool names — are results, never panics or
// scheduler-level errors.
type ToolResult struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Registry manages and executes tools
type Registry struct {
	tools          map[string]*ToolDefinition
	schemas        map[string]*gojsonschema.Schema
	order          []string
	defaultTimeout time.Duration
	mu             sync.RWMutex
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	observability.EnsureRegistered()

	return &Registry{
		tools:          make(map[string]*ToolDefinition),
		schemas:        make(map[string]*gojsonschema.Schema),
		defaultTimeout: 30 * time.Second,
	}
}

// Register registers a new tool
func (r *Registry) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name, or nil
func (r *Registry) Get(name string) *ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.tools[name]
}

// List returns all registered tool names in registration order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Schemas returns engine-ready schemas for the requested tool names.
// An empty request advertises every registered tool; otherwise only the
// intersection of the request with the registry is returned, preserving
// registration order. Unknown names are silently skipped.
func (r *Registry) Schemas(names []string) []engine.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requested := map[string]bool{}
	for _, name := range names {
		requested[name] = true
	}

	schemas := []engine.ToolSchema{}
	for _, name := range r.order {
		if len(names) > 0 && !requested[name] {
			continue
		}
		schemas = append(schemas, toolSchema(r.tools[name]))
	}

	return schemas
}

// Execute runs a registered tool with the given parameters. The result
// is always a ToolResult; callers feed failures back to the engine.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) ToolResult {
	start := time.Now()

	r.mu.RLock()
	tool := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", name).Msg("Tool not found")
		observability.RecordToolExecution(name, time.Since(start), false)
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", name),
		}
	}

	if err := validateParameters(schema, params); err != nil {
		log.Error().Str("tool", name).Err(err).Msg("Parameter validation failed")
		observability.RecordToolExecution(name, time.Since(start), false)
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	log.Debug().Str("tool", name).Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("tool", name).
					Interface("panic", rec).
					Msg("Tool handler panicked")
				errChan <- fmt.Errorf("tool panicked: %v", rec)
			}
		}()

		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, true)
		log.Debug().
			Str("tool", name).
			Dur("duration", duration).
			Msg("Tool execution completed")
		return ToolResult{
			Success: true,
			Output:  result,
		}

	case err := <-errChan:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		log.Error().
			Str("tool", name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		return ToolResult{
			Success: false,
			Error:   err.Error(),
		}

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		log.Error().
			Str("tool", name).
			Dur("duration", duration).
			Msg("Tool execution timeout")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool execution timeout after %v", r.defaultTimeout),
		}
	}
}

// SetDefaultTimeout changes the per-execution timeout
func (r *Registry) SetDefaultTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultTimeout = d
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// toolSchema converts a tool definition to the engine's wire schema
func toolSchema(def *ToolDefinition) engine.ToolSchema {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	inputSchema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	return engine.ToolSchema{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: inputSchema,
	}
}

func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
