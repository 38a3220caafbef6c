package mathpro

import (
	"context"
	"strings"

	"github.com/mathpro-app/mathpro-mcp/mcp"
	"github.com/mathpro-app/mathpro-mcp/mcpservice"
)

const (
	ToolName = "render_handwriting"

	toolTitle       = "Render handwriting"
	toolDescription = "Use this when the user wants to convert text, math equations, or notes into realistic handwritten style. Accepts plain text and LaTeX math (use $...$ for inline math, $$ for display math)."

	RenderedMessage     = "Here is your handwritten version."
	EmptyContentMessage = "Please provide some text or math to render."
	EmptyContentError   = "No content provided"
)

// RenderArgs is the input of render_handwriting.
type RenderArgs struct {
	Content string `json:"content" jsonschema:"description=The text and/or LaTeX math to render as handwriting"`
}

// RenderResult is the structured output of render_handwriting. The widget
// reads Content and draws it.
type RenderResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// RenderHandwriting validates the input and hands it to the widget as is.
// Empty input is answered in-band rather than as a failure.
func RenderHandwriting(ctx context.Context, w mcpservice.ToolResponseWriterTyped[RenderResult], r *mcpservice.ToolRequest[RenderArgs]) error {
	content := strings.TrimSpace(r.Args().Content)
	if content == "" {
		if err := w.AppendText(EmptyContentMessage); err != nil {
			return err
		}
		w.SetStructured(RenderResult{Content: "", Error: EmptyContentError})
		return nil
	}
	if err := w.AppendText(RenderedMessage); err != nil {
		return err
	}
	w.SetStructured(RenderResult{Content: content})
	return nil
}

// RenderHandwritingTool is the tool definition bound to the widget.
func RenderHandwritingTool() mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput(ToolName, RenderHandwriting,
		mcpservice.WithToolTitle(toolTitle),
		mcpservice.WithToolDescription(toolDescription),
		mcpservice.WithToolAnnotations(mcp.ToolAnnotations{
			ReadOnlyHint:    mcp.Bool(true),
			DestructiveHint: mcp.Bool(false),
			OpenWorldHint:   mcp.Bool(false),
		}),
		mcpservice.WithToolMeta(map[string]any{
			"ui": map[string]any{"resourceUri": WidgetURI},
		}),
		mcpservice.WithToolAllowAdditionalProperties(true),
	)
}
