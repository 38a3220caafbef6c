// Package mcpservice provides the building blocks a protocol server is
// assembled from: a ServerCapabilities value describing the server identity
// plus the tools and resources it exposes.
//
// Containers are populated at construction time and never mutated afterwards,
// so a single container value may be shared by any number of concurrently
// running server instances.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//	type EchoOut struct {
//	    Message string `json:"message"`
//	}
//
//	echo := mcpservice.NewToolWithOutput[EchoArgs, EchoOut]("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriterTyped[EchoOut], r *mcpservice.ToolRequest[EchoArgs]) error {
//	        _ = w.AppendText(r.Args().Message)
//	        w.SetStructured(EchoOut{Message: r.Args().Message})
//	        return nil
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	    mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: mcp.Bool(true)}),
//	)
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(mcpservice.NewToolsContainer(echo)),
//	)
package mcpservice
