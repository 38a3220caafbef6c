package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/invopop/jsonschema"
	"github.com/mathpro-app/mathpro-mcp/mcp"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for tool call input and request metadata.
// It is generic over the typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolResponseWriterTyped extends ToolResponseWriter for typed output tools.
// It allows setting a structuredContent value of type O.
type ToolResponseWriterTyped[O any] interface {
	ToolResponseWriter
	SetStructured(v O)
}

type toolResponseWriterTyped[O any] struct {
	ToolResponseWriter
	structured *O
}

func (tw *toolResponseWriterTyped[O]) SetStructured(v O) { tw.structured = &v }

// ToolOption configures NewTool and NewToolWithOutput.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	annotations               *mcp.ToolAnnotations
	meta                      map[string]any
	allowAdditionalProperties bool // default false (strict)
}

// WithToolTitle sets the human-readable display title.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAnnotations sets the behavioral hints advertised for the tool.
func WithToolAnnotations(a mcp.ToolAnnotations) ToolOption {
	return func(c *toolConfig) { c.annotations = &a }
}

// WithToolMeta merges entries into the descriptor's _meta object.
func WithToolMeta(meta map[string]any) ToolOption {
	return func(c *toolConfig) {
		if c.meta == nil {
			c.meta = make(map[string]any, len(meta))
		}
		maps.Copy(c.meta, meta)
	}
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

func newToolConfig(opts []ToolOption) toolConfig {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (cfg toolConfig) descriptor(name string, input mcp.ToolInputSchema) mcp.Tool {
	return mcp.Tool{
		Name:         name,
		Title:        cfg.title,
		Description:  cfg.description,
		InputSchema:  input,
		Annotations:  cfg.annotations,
		BaseMetadata: mcp.BaseMetadata{Meta: cfg.meta},
	}
}

// decodeArgs decodes raw arguments into a. A decoding failure is reported as
// an error result so the caller can correct its input.
func decodeArgs[A any](raw json.RawMessage, allowAdditional bool, a *A) *mcp.CallToolResult {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if !allowAdditional {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(a); err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	return nil
}

// NewTool constructs a writer-based tool with typed input A.
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := newToolConfig(opts)
	desc := cfg.descriptor(name, reflectToMCPInputSchema[A](cfg.allowAdditionalProperties))

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if res := decodeArgs(req.Arguments, cfg.allowAdditionalProperties, &a); res != nil {
			return res, nil
		}
		w := newToolResponseWriter(ctx)
		if err := fn(ctx, w, &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// NewToolWithOutput constructs a typed-input, typed-output tool. The output
// type O is reflected into the descriptor's outputSchema and the value passed
// to SetStructured becomes the result's structuredContent.
func NewToolWithOutput[A, O any](name string, fn func(ctx context.Context, w ToolResponseWriterTyped[O], r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := newToolConfig(opts)
	desc := cfg.descriptor(name, reflectToMCPInputSchema[A](cfg.allowAdditionalProperties))
	outSchema := reflectToMCPOutputSchema[O]()
	desc.OutputSchema = &outSchema

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if res := decodeArgs(req.Arguments, cfg.allowAdditionalProperties, &a); res != nil {
			return res, nil
		}
		baseWriter := newToolResponseWriter(ctx)
		tw := &toolResponseWriterTyped[O]{ToolResponseWriter: baseWriter}
		if err := fn(ctx, tw, &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}); err != nil {
			return nil, err
		}
		res := baseWriter.Result()
		if tw.structured != nil {
			m, err := toStructured(*tw.structured)
			if err != nil {
				return nil, fmt.Errorf("encode structured content for %s: %w", name, err)
			}
			res.StructuredContent = m
		}
		return res, nil
	}
	return StaticTool{Descriptor: desc, Handler: handler}
}

func toStructured(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to MCP ToolInputSchema.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props, required := objectProperties(s)
	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// reflectToMCPOutputSchema reflects a Go type O into a mcp.ToolOutputSchema.
func reflectToMCPOutputSchema[O any]() mcp.ToolOutputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(O))
	if s == nil || s.Type != "object" {
		return mcp.ToolOutputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	props, required := objectProperties(s)
	return mcp.ToolOutputSchema{Type: "object", Properties: props, Required: required}
}

func objectProperties(s *jsonschema.Schema) (map[string]mcp.SchemaProperty, []string) {
	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return props, required
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		p.Properties, _ = objectProperties(s)
	}
	return p
}

// ToolsContainer is an immutable set of tool descriptors and handlers.
// It is safe to share across goroutines and server instances.
type ToolsContainer struct {
	tools    []mcp.Tool
	handlers map[string]ToolHandler
	pageSize int
}

// ToolsContainerOption configures a ToolsContainer.
type ToolsContainerOption func(*ToolsContainer)

// WithToolsPageSize sets the pagination size used by ListTools. Non-positive
// values are ignored.
func WithToolsPageSize(n int) ToolsContainerOption {
	return func(st *ToolsContainer) {
		if n > 0 {
			st.pageSize = n
		}
	}
}

// NewToolsContainer constructs a ToolsContainer from tool definitions. On
// duplicate names the last definition wins.
func NewToolsContainer(defs []StaticTool, opts ...ToolsContainerOption) *ToolsContainer {
	st := &ToolsContainer{
		handlers: make(map[string]ToolHandler, len(defs)),
		pageSize: 50,
	}
	for _, opt := range opts {
		opt(st)
	}
	index := make(map[string]int, len(defs))
	for _, d := range defs {
		if i, dup := index[d.Descriptor.Name]; dup {
			st.tools[i] = d.Descriptor
		} else {
			index[d.Descriptor.Name] = len(st.tools)
			st.tools = append(st.tools, d.Descriptor)
		}
		if d.Handler != nil {
			st.handlers[d.Descriptor.Name] = d.Handler
		}
	}
	return st
}

// Snapshot returns a copy of the tool descriptors.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// ListTools implements ToolsCapability.
func (st *ToolsContainer) ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error) {
	return pageSlice(st.tools, st.pageSize, cursor), nil
}

// CallTool implements ToolsCapability.
func (st *ToolsContainer) CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	h := st.handlers[req.Name]
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, req)
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
