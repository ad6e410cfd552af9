package gate

import (
	"context"
	"net/http"

	auth "github.com/goliatone/go-marketplace-auth"
	"github.com/goliatone/go-router"
)

// StateSource exposes the current session state. *auth.SessionManager
// satisfies it.
type StateSource interface {
	State() auth.State
}

// PendingMessage is the body sent while the session is still resolving.
const PendingMessage = "Loading session, please retry shortly"

// MiddlewareOption customizes the gate middleware.
type MiddlewareOption func(*middleware)

// WithLogger sets the middleware logger.
func WithLogger(logger auth.Logger) MiddlewareOption {
	return func(m *middleware) {
		_, m.logger = auth.ResolveLogger("gate.middleware", nil, logger)
	}
}

// WithLoggerProvider resolves the middleware logger from provider.
func WithLoggerProvider(provider auth.LoggerProvider) MiddlewareOption {
	return func(m *middleware) {
		_, m.logger = auth.ResolveLogger("gate.middleware", provider, m.logger)
	}
}

// routeContext is the part of router.Context the middleware drives.
type routeContext interface {
	OriginalURL() string
	Context() context.Context
	SetContext(ctx context.Context)
	Locals(key any, value ...any) any
	Status(code int) router.Context
	SendString(s string) error
	Redirect(path string, status ...int) error
	Next() error
}

type middleware struct {
	gate   *Gate
	source StateSource
	role   auth.Role
	logger auth.Logger
}

// Middleware protects the wrapped handlers. While the session is resolving it
// answers 503 so clients retry instead of being bounced to sign in. Anonymous
// requests are redirected to sign in with the requested URL in the from
// parameter; role mismatches go to the fallback page. Allowed requests carry
// the State in their context and locals.
func Middleware(g *Gate, source StateSource, role auth.Role, opts ...MiddlewareOption) router.MiddlewareFunc {
	_, logger := auth.ResolveLogger("gate.middleware", nil, nil)
	m := &middleware{
		gate:   g,
		source: source,
		role:   role,
		logger: logger,
	}
	if m.gate == nil {
		m.gate = New()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			return m.handle(c, func() error { return next(c) })
		}
	}
}

func (m *middleware) handle(c routeContext, next func() error) error {
	state := m.source.State()
	decision := m.gate.Authorize(state, Request{
		Location:     c.OriginalURL(),
		RequiresRole: m.role,
	})

	switch decision.Kind {
	case Pending:
		c.Status(http.StatusServiceUnavailable)
		return c.SendString(PendingMessage)
	case Redirect:
		m.logger.Info("route gate redirect",
			"path", c.OriginalURL(),
			"location", decision.Location,
			"role", state.Role,
			"required_role", m.role,
		)
		return c.Redirect(decision.URL(), http.StatusSeeOther)
	}

	c.SetContext(auth.WithState(c.Context(), state))
	c.Locals(auth.StateLocalsKey, state)
	return next()
}
