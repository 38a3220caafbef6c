package sessions

import (
	"context"
	"errors"
	"net/http"

	"github.com/mathpro-app/mathpro-mcp/internal/jsonrpc"
)

var (
	// ErrSessionClosed is returned when a session is asked to advance after
	// it was already released.
	ErrSessionClosed = errors.New("sessions: session closed")
	// ErrInvalidTransition is returned for a state change the lifecycle does
	// not allow.
	ErrInvalidTransition = errors.New("sessions: invalid state transition")
	// ErrPanic wraps a value recovered from a panicking session.
	ErrPanic = errors.New("sessions: panic during session")
)

// MessageHandler answers one inbound JSON-RPC message. A nil response means
// the message needs no reply.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error)
}

// Server is the protocol server owned by a session.
type Server interface {
	MessageHandler
	Close() error
}

// Transport adapts one HTTP exchange to a Server.
type Transport interface {
	// Connect binds the transport to the server that will answer its
	// messages. It performs no I/O.
	Connect(h MessageHandler) error
	// HandleRequest reads the request, dispatches it and writes the
	// response.
	HandleRequest(ctx context.Context) error
	// Committed reports whether response headers were already written.
	Committed() bool
	// Close releases the transport. Writes after Close are dropped.
	Close() error
}

// ServerFactory builds a new protocol server for one session.
type ServerFactory func(ctx context.Context) (Server, error)

// TransportFactory builds a new transport bound to one HTTP exchange.
type TransportFactory func(w http.ResponseWriter, r *http.Request) (Transport, error)
