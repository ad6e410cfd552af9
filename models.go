package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profile is the provider profile linked one to one with an identity
type Profile struct {
	bun.BaseModel `bun:"table:service_providers,alias:sp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID    string     `bun:"user_id,notnull,unique" json:"user_id,omitempty"`
	BusinessName  string     `bun:"business_name,notnull" json:"business_name,omitempty"`
	Category      string     `bun:"category,notnull" json:"category,omitempty"`
	Description   string     `bun:"description" json:"description,omitempty"`
	Location      string     `bun:"location" json:"location,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ProviderFields are the business details collected from provider sign ups
type ProviderFields struct {
	BusinessName string `json:"business_name"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	Location     string `json:"location"`
}

// RegistrationRequest is the transient sign up input. It is validated and
// discarded, never persisted.
type RegistrationRequest struct {
	Email       string          `json:"email"`
	Password    string          `json:"-"`
	FullName    string          `json:"full_name"`
	Phone       string          `json:"phone"`
	AccountType Role            `json:"account_type"`
	Provider    *ProviderFields `json:"provider,omitempty"`
}

// WantsProvider reports whether the request asks for a provider account
func (r RegistrationRequest) WantsProvider() bool {
	return r.AccountType == RoleProvider
}

func (r RegistrationRequest) attributes() IdentityAttributes {
	return IdentityAttributes{
		FullName: r.FullName,
		Phone:    r.Phone,
	}
}

func (r RegistrationRequest) profileFor(identityID string) *Profile {
	p := &Profile{IdentityID: identityID}
	if r.Provider != nil {
		p.BusinessName = r.Provider.BusinessName
		p.Category = r.Provider.Category
		p.Description = r.Provider.Description
		p.Location = r.Provider.Location
	}
	return p
}

// RegistrationOutcome tells complete registrations apart from the ones that
// left an identity without its provider profile.
type RegistrationOutcome string

const (
	OutcomeComplete       RegistrationOutcome = "complete"
	OutcomeProfilePending RegistrationOutcome = "profile_pending"
)

// RegistrationResult is returned by a registration that created an identity.
type RegistrationResult struct {
	IdentityID string
	Email      string
	Role       Role
	Outcome    RegistrationOutcome
	Profile    *Profile
	// Session is set when the backend signed the identity in on creation.
	Session *Session
}

// LoadingPhase tracks whether the first session resolution has happened.
type LoadingPhase string

const (
	PhaseInitializing LoadingPhase = "initializing"
	PhaseReady        LoadingPhase = "ready"
)

// State is a read only snapshot of the session manager.
type State struct {
	Session *Session     `json:"session,omitempty"`
	Role    Role         `json:"role"`
	Phase   LoadingPhase `json:"loading_phase"`
}

// InitialState is the state before the first session lookup resolves.
func InitialState() State {
	return State{Role: RoleClient, Phase: PhaseInitializing}
}

// Authenticated reports whether a session is present
func (s State) Authenticated() bool {
	return s.Session != nil
}

// Loading reports whether the manager is still initializing
func (s State) Loading() bool {
	return s.Phase != PhaseReady
}

// IsProvider reports whether the current identity has a provider profile
func (s State) IsProvider() bool {
	return s.Session != nil && s.Role == RoleProvider
}

// IdentityID returns the signed in identity id or an empty string
func (s State) IdentityID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.IdentityID
}

func (s State) clone() State {
	s.Session = s.Session.Clone()
	return s
}
