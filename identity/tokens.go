package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	FullName string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// TokenIssuer signs and validates HS256 session tokens.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
}

// NewTokenIssuer returns an issuer. ttl below one minute is raised to one minute.
func NewTokenIssuer(signingKey []byte, ttl time.Duration, issuer string, audience []string, now func() time.Time) *TokenIssuer {
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	var aud jwt.ClaimStrings
	if len(audience) > 0 {
		aud = make(jwt.ClaimStrings, len(audience))
		copy(aud, audience)
	}
	return &TokenIssuer{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   aud,
		now:        now,
	}
}

// Issue signs a token for record and returns it with its claims.
func (ti *TokenIssuer) Issue(record *Record) (string, *Claims, error) {
	if record == nil {
		return "", nil, goerrors.New("record must not be nil", goerrors.CategoryInternal)
	}

	now := ti.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ti.issuer,
			Subject:   record.ID.String(),
			Audience:  ti.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
		Email:    record.Email,
		FullName: record.FullName,
		Phone:    record.Phone,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.signingKey)
	if err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, claims, nil
}

// Parse validates tokenString. Expired tokens return ErrSessionExpired.
func (ti *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ti.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ti.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ti.issuer))
	}
	if len(ti.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ti.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
