package mcpservice

import (
	"context"
	"errors"

	"github.com/mathpro-app/mathpro-mcp/mcp"
)

var (
	// ErrToolNotFound is returned by CallTool for an unregistered tool name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrResourceNotFound is returned by ReadResource for an unknown URI.
	ErrResourceNotFound = errors.New("resource not found")
)

// ServerCapabilities is everything a protocol server needs to answer
// initialize and the tools/resources methods.
//
// Capability discovery methods return (cap, ok, err). A false ok means the
// capability is not offered; err is reserved for unexpected failures.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation info surfaced in initialize
	// results.
	GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error)

	// GetInstructions returns optional human-readable instructions for the
	// client.
	GetInstructions(ctx context.Context) (instructions string, ok bool, err error)

	GetResourcesCapability(ctx context.Context) (cap ResourcesCapability, ok bool, err error)

	GetToolsCapability(ctx context.Context) (cap ToolsCapability, ok bool, err error)
}

// ResourcesCapability lists and reads resources.
type ResourcesCapability interface {
	// ListResources returns a page of resources. A nil cursor requests the
	// first page.
	ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error)

	ListResourceTemplates(ctx context.Context, cursor *string) (Page[mcp.ResourceTemplate], error)

	// ReadResource returns the contents for uri. Unknown URIs yield an error
	// wrapping ErrResourceNotFound.
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)
}

// ToolsCapability lists and invokes tools.
type ToolsCapability interface {
	ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool. Unknown names yield an error wrapping
	// ErrToolNotFound. Argument and domain failures are reported in-band
	// through the returned result, not as an error.
	CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}
