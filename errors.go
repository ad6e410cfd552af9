package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation                    = "REGISTRATION_INVALID"
	TextCodeIdentityCreation              = "IDENTITY_CREATION_FAILED"
	TextCodeEmailAlreadyRegistered        = "EMAIL_ALREADY_REGISTERED"
	TextCodeAuthentication                = "AUTHENTICATION_FAILED"
	TextCodeInvalidCredentials            = "INVALID_CREDENTIALS"
	TextCodeSignOut                       = "SIGN_OUT_FAILED"
	TextCodeSessionLookup                 = "SESSION_LOOKUP_FAILED"
	TextCodeProfileStore                  = "PROFILE_STORE_FAILED"
	TextCodeProfileCreationPartialFailure = "PROFILE_CREATION_PARTIAL_FAILURE"
)

// ErrValidation is returned when a registration request fails validation. No
// backend has been contacted when this error is returned.
var ErrValidation = goerrors.New("registration request is invalid", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityCreation is returned when the identity backend rejects a new identity.
var ErrIdentityCreation = goerrors.New("failed to create identity", goerrors.CategoryOperation).
	WithTextCode(TextCodeIdentityCreation).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailAlreadyRegistered is the identity creation failure for a taken email.
var ErrEmailAlreadyRegistered = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

// ErrAuthentication is returned when the backend fails to authenticate.
var ErrAuthentication = goerrors.New("sign in failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthentication).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrSignOut is returned when the backend fails to end the session. Local
// state is cleared regardless.
var ErrSignOut = goerrors.New("sign out failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeSignOut).
	WithCode(goerrors.CodeInternal)

// ErrSessionLookup is returned when the backend cannot report the current session.
var ErrSessionLookup = goerrors.New("unable to connect to authentication service", goerrors.CategoryInternal).
	WithTextCode(TextCodeSessionLookup).
	WithCode(goerrors.CodeInternal)

// ErrProfileStore wraps profile lookup and insert failures.
var ErrProfileStore = goerrors.New("profile store operation failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeProfileStore).
	WithCode(goerrors.CodeInternal)

// ErrProfileCreationPartialFailure is returned when the identity was created
// but its provider profile was not. The identity is not rolled back.
var ErrProfileCreationPartialFailure = goerrors.New(
	"account created but provider profile was not saved",
	goerrors.CategoryOperation,
).
	WithTextCode(TextCodeProfileCreationPartialFailure).
	WithCode(goerrors.CodeInternal)

// IsValidationError checks for registration validation failures
func IsValidationError(err error) bool {
	return hasTextCode(err, TextCodeValidation)
}

// IsIdentityCreationError checks for any identity creation failure, including
// an already registered email
func IsIdentityCreationError(err error) bool {
	return hasTextCode(err, TextCodeIdentityCreation, TextCodeEmailAlreadyRegistered)
}

// IsEmailAlreadyRegistered checks for duplicate registrations
func IsEmailAlreadyRegistered(err error) bool {
	return hasTextCode(err, TextCodeEmailAlreadyRegistered)
}

// IsAuthError checks for failures reported by the identity backend while
// signing in, signing out or resolving the current session
func IsAuthError(err error) bool {
	return hasTextCode(err, TextCodeAuthentication, TextCodeInvalidCredentials, TextCodeSignOut, TextCodeSessionLookup)
}

// IsInvalidCredentials checks for rejected credentials
func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, TextCodeInvalidCredentials)
}

// IsStoreError checks for profile store failures
func IsStoreError(err error) bool {
	return hasTextCode(err, TextCodeProfileStore)
}

// IsProfileCreationPartialFailure checks for registrations that left an
// identity without its provider profile
func IsProfileCreationPartialFailure(err error) bool {
	return hasTextCode(err, TextCodeProfileCreationPartialFailure)
}

// ValidationField returns the request field named by a validation error.
func ValidationField(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != TextCodeValidation {
		return ""
	}
	field, _ := richErr.Metadata["field"].(string)
	return field
}

func hasTextCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	for _, code := range codes {
		if richErr.TextCode == code {
			return true
		}
	}
	return false
}

func wrapError(base *goerrors.Error, err error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}

	if err != nil {
		clone.Source = err
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["cause"]; !ok {
			meta["cause"] = err.Error()
		}
	}

	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}

	return clone
}

func validationError(field, reason string) *goerrors.Error {
	clone := wrapError(ErrValidation, nil, map[string]any{
		"field":  field,
		"reason": reason,
	})
	clone.Message = field + ": " + reason
	return clone
}

// classifyIdentityCreationError maps an opaque backend error to the
// identity creation taxonomy.
func classifyIdentityCreationError(err error, email string) error {
	if hasTextCode(err, TextCodeEmailAlreadyRegistered, TextCodeIdentityCreation) {
		return err
	}

	meta := map[string]any{"email": email}
	if messageContains(err, "already registered", "already exists", "duplicate", "unique constraint") {
		return wrapError(ErrEmailAlreadyRegistered, err, meta)
	}
	return wrapError(ErrIdentityCreation, err, meta)
}

// classifyAuthenticationError maps an opaque backend error to the sign in
// taxonomy.
func classifyAuthenticationError(err error, email string) error {
	if hasTextCode(err, TextCodeInvalidCredentials, TextCodeAuthentication) {
		return err
	}

	meta := map[string]any{"email": email}
	if messageContains(err, "invalid login credentials", "invalid credentials", "invalid password") {
		return wrapError(ErrInvalidCredentials, err, meta)
	}
	return wrapError(ErrAuthentication, err, meta)
}

func messageContains(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// UserMessage returns the text shown to users for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsEmailAlreadyRegistered(err):
		return msgEmailAlreadyInUse
	case IsInvalidCredentials(err):
		return "Invalid email or password."
	case IsProfileCreationPartialFailure(err):
		return msgProfileNotSaved
	case IsValidationError(err):
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr.Message
		}
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}
