package auth

// Role is the authorization category derived for a signed in identity.
type Role string

const (
	// RoleClient is any authenticated identity without a provider profile
	RoleClient Role = "client"
	// RoleProvider is an identity with a provider profile on record
	RoleProvider Role = "provider"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleProvider:
		return true
	default:
		return false
	}
}

// IsProvider reports whether the role unlocks provider features
func (r Role) IsProvider() bool {
	return r == RoleProvider
}

func (r Role) String() string {
	return string(r)
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []Role {
	return []Role{
		RoleClient,
		RoleProvider,
	}
}

// ParseRole safely parses a string into a Role. An empty string is not a
// valid role.
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}
