package auth

import (
	"context"
	"fmt"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider = glog.LoggerProvider

// IdentityBackend is the opaque identity service. Implementations own credential
// storage and session issuance; the core only consumes the operations below.
type IdentityBackend interface {
	// CreateIdentity registers a new identity. The returned Identity carries a
	// Session when the backend signs the account in immediately.
	CreateIdentity(ctx context.Context, email, password string, attrs IdentityAttributes) (*Identity, error)
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	EndSession(ctx context.Context) error
	// CurrentSession returns nil, nil when nobody is signed in.
	CurrentSession(ctx context.Context) (*Session, error)
	// Subscribe delivers session change events in arrival order until ctx is
	// done, at which point the channel is closed.
	Subscribe(ctx context.Context) (<-chan SessionEvent, error)
}

// ProfileStore persists provider profiles keyed by identity id.
type ProfileStore interface {
	// FindByIdentity returns nil, nil when the identity has no profile.
	FindByIdentity(ctx context.Context, identityID string) (*Profile, error)
	Insert(ctx context.Context, profile *Profile) (*Profile, error)
}

// StateListener receives every published snapshot.
type StateListener func(State)

// ResolveLogger returns a provider and a logger for name. The provider wins when it
// yields a logger, otherwise the fallback logger (or the default one) is wrapped.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if resolved := provider.GetLogger(name); resolved != nil {
			return provider, resolved
		}
	}

	if logger == nil {
		logger = defaultLogger()
	}

	return glog.ProviderFromLogger(logger), logger
}

func defaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Trace(msg string, args ...any) { d.print("TRC", msg, args...) }
func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }
func (d defLogger) Fatal(msg string, args ...any) { d.print("FTL", msg, args...) }

func (d defLogger) WithContext(context.Context) Logger {
	return d
}

func (defLogger) print(level, msg string, args ...any) {
	line := fmt.Sprintf("[%s] AUTH %s", level, msg)
	for i := 0; i+1 < len(args); i += 2 {
		line += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		line += fmt.Sprintf(" %v", args[len(args)-1])
	}
	fmt.Println(line)
}
