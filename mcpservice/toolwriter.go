package mcpservice

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/mathpro-app/mathpro-mcp/mcp"
)

// ErrFinalized is returned by writes made after Result.
var ErrFinalized = errors.New("tool result already finalized")

// ToolResponseWriter accumulates the result of one tool call. Writes fail
// once the call's context is done or Result has been taken.
type ToolResponseWriter interface {
	AppendText(text string) error
	AppendBlocks(blocks ...mcp.ContentBlock) error
	// SetError marks the result as a tool-level failure reported in-band.
	SetError(isError bool)
	SetMeta(key string, v any)
	// Result freezes the writer and returns a copy of what was written.
	Result() *mcp.CallToolResult
}

type toolResponseWriter struct {
	ctx context.Context

	mu     sync.Mutex
	done   bool
	res    mcp.CallToolResult
	blocks []mcp.ContentBlock
}

func newToolResponseWriter(ctx context.Context) *toolResponseWriter {
	return &toolResponseWriter{ctx: ctx}
}

func (w *toolResponseWriter) AppendText(text string) error {
	if text == "" {
		return nil
	}
	return w.AppendBlocks(mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text})
}

func (w *toolResponseWriter) AppendBlocks(blocks ...mcp.ContentBlock) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrFinalized
	}
	w.blocks = append(w.blocks, blocks...)
	return nil
}

func (w *toolResponseWriter) SetError(isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.res.IsError = isError
}

func (w *toolResponseWriter) SetMeta(key string, v any) {
	if key == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.res.Meta == nil {
		w.res.Meta = map[string]any{}
	}
	w.res.Meta[key] = v
}

func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	out := w.res
	out.Meta = maps.Clone(w.res.Meta)
	out.Content = slices.Clone(w.blocks)
	if out.Content == nil {
		out.Content = []mcp.ContentBlock{}
	}
	return &out
}
