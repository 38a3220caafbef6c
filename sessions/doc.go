// Package sessions runs the lifecycle of a single MCP exchange.
//
// Every inbound HTTP request gets its own Session. The Manager builds a fresh
// protocol Server and a Transport for it, connects the two, lets the
// transport handle the request, and releases both when the exchange ends.
// Nothing survives from one session to the next.
//
// A Session moves through these states:
//
//	Idle -> Created -> Connected -> Handling -> Closed
//
// Closed is reachable from every other state. It is entered exactly once,
// either when the handler returns (successfully or not), when a panic is
// recovered, or when the client disconnects while the request is still being
// handled. Release of the server and transport happens on that single
// transition, so neither is ever closed twice.
//
// When handling fails before any response bytes were committed, the Manager
// answers 500. Once the transport has committed a response the failure is
// only logged.
package sessions
