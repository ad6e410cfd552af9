// Package gate decides whether a navigation to a protected view may proceed,
// given a snapshot of the session manager state.
package gate

import (
	"net/url"
	"strings"

	auth "github.com/goliatone/go-marketplace-auth"
)

const (
	// DefaultSignInPath is where anonymous visitors are sent.
	DefaultSignInPath = "/sign-in"
	// DefaultFallbackPath is where signed in users without the required role land.
	DefaultFallbackPath = "/dashboard"
	// FromParam carries the originally requested location on sign in redirects.
	FromParam = "from"
)

// DecisionKind is the outcome of an authorization check.
type DecisionKind string

const (
	// Pending means the session is still being resolved; show a loading state.
	Pending  DecisionKind = "pending"
	Allow    DecisionKind = "allow"
	Redirect DecisionKind = "redirect"
)

// Decision is the result of Authorize. Location is set for redirects; From
// holds the requested location when the redirect goes to sign in.
type Decision struct {
	Kind     DecisionKind
	Location string
	From     string
}

// Request describes the navigation being authorized. RequiresRole is empty
// when any signed in identity may proceed.
type Request struct {
	Location     string
	RequiresRole auth.Role
}

// Gate holds the redirect targets used by Authorize.
type Gate struct {
	signInPath   string
	fallbackPath string
}

// Option customizes a Gate.
type Option func(*Gate)

// WithSignInPath overrides the sign in redirect target.
func WithSignInPath(path string) Option {
	return func(g *Gate) {
		if path = strings.TrimSpace(path); path != "" {
			g.signInPath = path
		}
	}
}

// WithFallbackPath overrides the landing page for role mismatches.
func WithFallbackPath(path string) Option {
	return func(g *Gate) {
		if path = strings.TrimSpace(path); path != "" {
			g.fallbackPath = path
		}
	}
}

// New returns a Gate with the default paths.
func New(opts ...Option) *Gate {
	g := &Gate{
		signInPath:   DefaultSignInPath,
		fallbackPath: DefaultFallbackPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// NewFromConfig returns a Gate using the configured paths.
func NewFromConfig(cfg auth.Config, opts ...Option) *Gate {
	if cfg != nil {
		opts = append([]Option{
			WithSignInPath(cfg.GetSignInPath()),
			WithFallbackPath(cfg.GetFallbackPath()),
		}, opts...)
	}
	return New(opts...)
}

func (g *Gate) SignInPath() string   { return g.signInPath }
func (g *Gate) FallbackPath() string { return g.fallbackPath }

// Authorize decides on req given state. It performs no I/O and returns the
// same Decision for the same inputs.
func (g *Gate) Authorize(state auth.State, req Request) Decision {
	if state.Loading() {
		return Decision{Kind: Pending}
	}

	if !state.Authenticated() {
		return Decision{
			Kind:     Redirect,
			Location: g.signInPath,
			From:     req.Location,
		}
	}

	if req.RequiresRole != "" && state.Role != req.RequiresRole {
		return Decision{
			Kind:     Redirect,
			Location: g.fallbackPath,
		}
	}

	return Decision{Kind: Allow}
}

// URL returns the redirect target with the requested location attached as
// the from query parameter. Non redirect decisions return an empty string.
func (d Decision) URL() string {
	if d.Kind != Redirect {
		return ""
	}
	if d.From == "" {
		return d.Location
	}

	target, err := url.Parse(d.Location)
	if err != nil {
		return d.Location
	}
	query := target.Query()
	query.Set(FromParam, d.From)
	target.RawQuery = query.Encode()
	return target.String()
}
