package auth

import "context"

// NotificationLevel is the severity of a user facing notification.
type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
	NotificationInfo    NotificationLevel = "info"
)

// Notification is a transient, user visible message such as a toast.
type Notification struct {
	Level   NotificationLevel
	Message string
	Err     error
}

// Notifier shows transient notifications. It is not part of the state contract.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	if f != nil {
		f(ctx, n)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

const (
	msgSignInSuccess       = "Successfully signed in!"
	msgSignInFailure       = "Sign in failed"
	msgSignOutSuccess      = "Signed out successfully"
	msgSignOutFailure      = "Sign out failed"
	msgSignUpSuccess       = "Account created successfully! Please check your email to confirm your account."
	msgSignUpSignedIn      = "Account created successfully! You are now signed in."
	msgSignUpFailure       = "Failed to create account. Please try again."
	msgProfileNotSaved     = "Account created but provider profile wasn't saved. Please contact support."
	msgBackendUnavailable  = "Unable to connect to authentication service"
	msgSessionExpired      = "Your session has expired. Please sign in again."
	msgEmailAlreadyInUse   = "This email is already registered. Try signing in instead."
	msgInvalidRegistration = "Please check the highlighted fields and try again."
)
