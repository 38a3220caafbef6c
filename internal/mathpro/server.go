package mathpro

import (
	"context"

	"github.com/mathpro-app/mathpro-mcp/internal/engine"
	"github.com/mathpro-app/mathpro-mcp/mcp"
	"github.com/mathpro-app/mathpro-mcp/mcpservice"
	"github.com/mathpro-app/mathpro-mcp/sessions"
)

const (
	ServerName    = "mathpro-app"
	ServerVersion = "1.0.0"
)

// ServerInfo identifies the server during initialize.
func ServerInfo() mcp.ImplementationInfo {
	return mcp.ImplementationInfo{Name: ServerName, Version: ServerVersion}
}

// NewCapabilities returns the capabilities of one protocol server: the
// widget resource and render_handwriting.
func NewCapabilities(tools *mcpservice.ToolsContainer, resources *mcpservice.ResourcesContainer) mcpservice.ServerCapabilities {
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(ServerInfo()),
		mcpservice.WithResourcesCapability(resources),
		mcpservice.WithToolsCapability(tools),
	)
}

// NewServerFactory returns a sessions.ServerFactory. Every call yields a new
// engine; the tool and resource containers are immutable and built once
// here.
func NewServerFactory(widget *Widget, opts ...engine.Option) sessions.ServerFactory {
	tools := mcpservice.NewToolsContainer([]mcpservice.StaticTool{RenderHandwritingTool()})
	resources := mcpservice.NewResourcesContainer(widget.Resource())
	return func(ctx context.Context) (sessions.Server, error) {
		return engine.New(NewCapabilities(tools, resources), opts...), nil
	}
}
