package auth

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/sethvargo/go-envconfig"
)

// Config holds auth options
type Config interface {
	GetSignInPath() string
	GetFallbackPath() string
	GetMinPasswordLength() int
	GetPhoneRegion() string
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetAutoSignIn() bool
	GetDatabaseDSN() string
}

// EnvConfig is a Config loaded from environment variables.
type EnvConfig struct {
	SignInPath        string `env:"AUTH_SIGN_IN_PATH, default=/sign-in"`
	FallbackPath      string `env:"AUTH_FALLBACK_PATH, default=/dashboard"`
	MinPasswordLength int    `env:"AUTH_MIN_PASSWORD_LENGTH, default=6"`
	PhoneRegion       string `env:"AUTH_PHONE_REGION, default=PK"`
	SigningKey        string `env:"AUTH_SIGNING_KEY"`
	// TokenExpiration is the session lifetime in hours.
	TokenExpiration int    `env:"AUTH_TOKEN_EXPIRATION, default=24"`
	Issuer          string `env:"AUTH_ISSUER, default=marketplace-auth"`
	Audience        string `env:"AUTH_AUDIENCE, default=marketplace"`
	AutoSignIn      bool   `env:"AUTH_AUTO_SIGN_IN, default=true"`
	DatabaseDSN     string `env:"AUTH_DATABASE_DSN, default=file::memory:?cache=shared"`
}

var _ Config = (*EnvConfig)(nil)

// LoadConfig reads the configuration from the process environment.
func LoadConfig(ctx context.Context) (*EnvConfig, error) {
	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

// LoadConfigFrom reads the configuration using the given lookuper.
func LoadConfigFrom(ctx context.Context, lookuper envconfig.Lookuper) (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to load auth configuration")
	}

	if cfg.MinPasswordLength < MinPasswordLength {
		cfg.MinPasswordLength = MinPasswordLength
	}

	return cfg, nil
}

func (c *EnvConfig) GetSignInPath() string     { return c.SignInPath }
func (c *EnvConfig) GetFallbackPath() string   { return c.FallbackPath }
func (c *EnvConfig) GetMinPasswordLength() int { return c.MinPasswordLength }
func (c *EnvConfig) GetPhoneRegion() string    { return c.PhoneRegion }
func (c *EnvConfig) GetSigningKey() string     { return c.SigningKey }
func (c *EnvConfig) GetTokenExpiration() int   { return c.TokenExpiration }
func (c *EnvConfig) GetIssuer() string         { return c.Issuer }
func (c *EnvConfig) GetAutoSignIn() bool       { return c.AutoSignIn }
func (c *EnvConfig) GetDatabaseDSN() string    { return c.DatabaseDSN }

func (c *EnvConfig) GetAudience() []string {
	var out []string
	for _, aud := range strings.Split(c.Audience, ",") {
		if aud = strings.TrimSpace(aud); aud != "" {
			out = append(out, aud)
		}
	}
	return out
}
