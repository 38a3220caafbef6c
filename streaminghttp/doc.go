// Package streaminghttp implements the stateless MCP streamable HTTP
// transport and the HTTP surface around it.
//
// Handler owns routing: CORS preflight for the MCP endpoint, the liveness
// route, the optional bearer token gate and protected resource metadata, and
// a 404 for everything else. MCP exchanges are handed to a sessions.Manager,
// which builds a fresh protocol server and a Transport for each request.
//
// A Transport reads exactly one JSON-RPC message from the request body and
// answers it on the same exchange, either as application/json or as a
// single Server-Sent Event. There is no session id, no standalone GET
// stream and no DELETE; both answer 405.
//
// Example:
//
//	mgr := sessions.NewManager(mathpro.NewServerFactory(widget), streaminghttp.NewTransportFactory())
//	h, err := streaminghttp.New(mgr, streaminghttp.WithLogger(log))
//	if err != nil { log.Fatal(err) }
//	http.ListenAndServe(":3000", h)
package streaminghttp
