package auth

import "context"

// RoleResolver derives a Role from the presence of a provider profile.
type RoleResolver struct {
	profiles ProfileStore
	logger   Logger
}

// NewRoleResolver returns a resolver backed by profiles.
func NewRoleResolver(profiles ProfileStore, logger Logger) *RoleResolver {
	if logger == nil {
		logger = defaultLogger()
	}
	return &RoleResolver{profiles: profiles, logger: logger}
}

// Resolve returns RoleProvider when a profile exists for identityID. Lookup
// failures resolve to RoleClient: a glitching store must not lock users out.
func (r *RoleResolver) Resolve(ctx context.Context, identityID string) Role {
	if r == nil || r.profiles == nil || identityID == "" {
		return RoleClient
	}

	profile, err := r.profiles.FindByIdentity(ctx, identityID)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("role lookup failed, falling back to client", "identity_id", identityID, "error", err)
		}
		return RoleClient
	}

	if profile == nil {
		return RoleClient
	}

	return RoleProvider
}
