// Package mcp contains the Model Context Protocol wire types and constants
// used by the MathPro server. Types mirror the JSON shapes of the protocol
// (exported structs with json tags, string constants for method names) and
// carry no transport logic.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Metadata
//
// BaseMetadata attaches implementation-defined metadata under the _meta key.
// Tools and resources use it to link a tool to its UI resource and to declare
// how the host should sandbox that resource:
//
//	tool.Meta = map[string]any{"ui": map[string]any{"resourceUri": "ui://widget/app.html"}}
//
// # Versions
//
// SupportedProtocolVersions lists the protocol dates the server accepts during
// initialize, newest first. NegotiateProtocolVersion picks the version to
// answer with.
package mcp
