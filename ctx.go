package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var stateCtxKey = &contextKey{"session_state"}

// StateLocalsKey is the router locals key the session state is stored under.
const StateLocalsKey = "session_state"

type contextKey struct {
	name string
}

// WithState sets the session State in the given context
func WithState(ctx context.Context, state State) context.Context {
	return context.WithValue(ctx, stateCtxKey, state)
}

// StateFromContext finds the session State from the context.
func StateFromContext(ctx context.Context) (State, bool) {
	raw, ok := ctx.Value(stateCtxKey).(State)
	return raw, ok
}

// StateFromRouter extracts the session State from the router context, first
// from locals and then from the request context.
func StateFromRouter(ctx router.Context) (State, bool) {
	if raw := ctx.Locals(StateLocalsKey); raw != nil {
		if state, ok := raw.(State); ok {
			return state, true
		}
	}
	return StateFromContext(ctx.Context())
}

// RoleFromContext returns the role of the signed in identity. Anonymous
// requests report RoleClient and false.
func RoleFromContext(ctx context.Context) (Role, bool) {
	state, ok := StateFromContext(ctx)
	if !ok || !state.Authenticated() {
		return RoleClient, false
	}
	return state.Role, true
}
