package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mathpro-app/mathpro-mcp/internal/httperr"
	"github.com/mathpro-app/mathpro-mcp/internal/logctx"
)

// Session is the lifecycle of one exchange. It exclusively owns its server
// and transport.
type Session struct {
	id      string
	log     *slog.Logger
	created time.Time

	mu        sync.Mutex
	state     State
	server    Server
	transport Transport
	outcome   string
}

func newSession(id string, log *slog.Logger) *Session {
	return &Session{
		id:      id,
		log:     log,
		created: time.Now(),
		state:   StateIdle,
	}
}

// ID returns the session identifier used for log and trace correlation.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the reason recorded when the session closed, or "" while
// it is still open.
func (s *Session) Outcome() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) logContext(ctx context.Context, st State) context.Context {
	sd := &logctx.SessionData{SessionID: s.id, State: st.String()}
	if prev, ok := logctx.SessionDataFrom(ctx); ok {
		sd.UserID = prev.UserID
	}
	return logctx.WithSessionData(ctx, sd)
}

// advance moves the session from one state to the next.
func (s *Session) advance(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != from || !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, s.state)
	}
	s.state = to
	return nil
}

// attach records the server and transport and enters Created. If the session
// was released in the meantime the pair is closed here instead.
func (s *Session) attach(srv Server, tr Transport) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = tr.Close()
		_ = srv.Close()
		return ErrSessionClosed
	}
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st, StateCreated)
	}
	s.server = srv
	s.transport = tr
	s.state = StateCreated
	s.mu.Unlock()
	return nil
}

// failUncommitted writes a generic 500 to w unless the session is closed or
// the transport has already started the response. It holds the session lock
// while writing, so a concurrent release waits and nothing is written after
// Closed.
func (s *Session) failUncommitted(w http.ResponseWriter) (open, committed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false, false
	}
	committed = s.transport != nil && s.transport.Committed()
	if !committed {
		httperr.Write(w, http.StatusInternalServerError, "Internal server error")
	}
	return true, committed
}

// release closes the transport and then the server, and enters Closed. Only
// the first call does anything; it reports whether this call performed the
// release.
func (s *Session) release(ctx context.Context, outcome string) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	from := s.state
	s.state = StateClosed
	s.outcome = outcome
	tr, srv := s.transport, s.server
	s.mu.Unlock()

	var errs []error
	if tr != nil {
		if err := tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	if srv != nil {
		if err := srv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close server: %w", err))
		}
	}

	ctx = s.logContext(ctx, StateClosed)
	attrs := []any{
		slog.String("from", from.String()),
		slog.String("outcome", outcome),
		slog.Duration("dur", time.Since(s.created)),
	}
	if err := errors.Join(errs...); err != nil {
		s.log.WarnContext(ctx, "session.release.fail", append(attrs, slog.String("err", err.Error()))...)
	} else {
		s.log.DebugContext(ctx, "session.release.ok", attrs...)
	}
	return true
}
