package identity

import goerrors "github.com/goliatone/go-errors"

var (
	ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
			WithTextCode("IDENTITY_EMAIL_TAKEN").
			WithCode(goerrors.CodeConflict)

	ErrInvalidLogin = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
			WithTextCode("IDENTITY_INVALID_LOGIN").
			WithCode(goerrors.CodeUnauthorized)

	ErrNotSignedIn = goerrors.New("no active session", goerrors.CategoryAuth).
			WithTextCode("IDENTITY_NOT_SIGNED_IN").
			WithCode(goerrors.CodeUnauthorized)

	ErrSessionExpired = goerrors.New("session expired", goerrors.CategoryAuth).
				WithTextCode("IDENTITY_SESSION_EXPIRED").
				WithCode(goerrors.CodeUnauthorized)

	ErrTokenMalformed = goerrors.New("malformed session token", goerrors.CategoryAuth).
				WithTextCode("IDENTITY_TOKEN_MALFORMED").
				WithCode(goerrors.CodeUnauthorized)
)
