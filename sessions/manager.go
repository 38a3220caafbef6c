package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mathpro-app/mathpro-mcp/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Manager is an http.Handler that runs one Session per request.
type Manager struct {
	newServer    ServerFactory
	newTransport TransportFactory

	log     *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	// observe is called with every finished session; tests use it.
	observe func(*Session)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics records session counts and durations into metrics.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer overrides the tracer used for session spans.
func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// NewManager returns a Manager that builds servers with newServer and
// transports with newTransport.
func NewManager(newServer ServerFactory, newTransport TransportFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		newServer:    newServer,
		newTransport: newTransport,
		log:          slog.Default(),
		tracer:       observability.Tracer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess := newSession(uuid.NewString(), m.log)
	m.metrics.SessionOpened()

	ctx, span := m.tracer.Start(r.Context(), "mcp.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("mcp.session.id", sess.ID()),
			attribute.String("http.request.method", r.Method),
		),
	)
	defer span.End()

	finish := func(outcome string) {
		if !sess.release(ctx, outcome) {
			return
		}
		m.metrics.SessionClosed(outcome, time.Since(sess.created))
		if m.observe != nil {
			m.observe(sess)
		}
	}

	// A client disconnect cancels the request context while the handler may
	// still be running. Release right away so nothing more is written.
	peerDone := make(chan struct{})
	stop := context.AfterFunc(r.Context(), func() {
		defer close(peerDone)
		if sess.State() == StateClosed {
			return
		}
		m.log.InfoContext(sess.logContext(ctx, sess.State()), "session.peer_closed")
		span.AddEvent("peer_closed")
		finish(observability.OutcomePeerClosed)
	})
	defer func() {
		if !stop() {
			<-peerDone
		}
	}()

	start := time.Now()
	err := m.run(ctx, sess, w, r)
	if err == nil {
		m.log.DebugContext(sess.logContext(ctx, sess.State()), "session.handle.ok", slog.Duration("dur", time.Since(start)))
		finish(observability.OutcomeOK)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	state := sess.State()
	open, committed := sess.failUncommitted(w)
	if !open {
		// Already released because the peer went away.
		m.log.InfoContext(sess.logContext(ctx, StateClosed), "session.handle.aborted", slog.String("err", err.Error()))
		return
	}
	m.log.ErrorContext(sess.logContext(ctx, state), "session.handle.fail",
		slog.String("err", err.Error()),
		slog.Bool("committed", committed),
		slog.Duration("dur", time.Since(start)),
	)
	finish(observability.OutcomeError)
}

// run drives the session from Idle to the end of Handling. Panics are
// turned into errors so the caller takes the failure path.
func (m *Manager) run(ctx context.Context, sess *Session, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()

	srv, err := m.newServer(ctx)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	tr, err := m.newTransport(w, r)
	if err != nil {
		_ = srv.Close()
		return fmt.Errorf("create transport: %w", err)
	}
	if err := sess.attach(srv, tr); err != nil {
		return err
	}
	m.log.DebugContext(sess.logContext(ctx, StateCreated), "session.create.ok")

	if err := tr.Connect(srv); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := sess.advance(StateCreated, StateConnected); err != nil {
		return err
	}
	m.log.DebugContext(sess.logContext(ctx, StateConnected), "session.connect.ok")

	if err := sess.advance(StateConnected, StateHandling); err != nil {
		return err
	}
	if err := tr.HandleRequest(sess.logContext(ctx, StateHandling)); err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			return fmt.Errorf("handle request: client went away: %w", err)
		}
		return fmt.Errorf("handle request: %w", err)
	}
	return nil
}
