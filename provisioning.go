package auth

import (
	"context"
	"time"
)

// Provisioner creates an identity and, for provider accounts, its profile.
// The two writes go to independent stores; there is no shared transaction, so
// a failed profile insert leaves the identity in place and is reported as
// ErrProfileCreationPartialFailure.
type Provisioner struct {
	backend        IdentityBackend
	profiles       ProfileStore
	validator      *RegistrationValidator
	logger         Logger
	loggerProvider LoggerProvider
	activitySink   ActivitySink
	now            func() time.Time
}

// ProvisionerOption customizes a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithProvisionerValidator overrides the request validator.
func WithProvisionerValidator(v *RegistrationValidator) ProvisionerOption {
	return func(p *Provisioner) {
		if v != nil {
			p.validator = v
		}
	}
}

// WithProvisionerLogger overrides the logger.
func WithProvisionerLogger(logger Logger) ProvisionerOption {
	return func(p *Provisioner) {
		p.loggerProvider, p.logger = ResolveLogger("auth.provisioner", nil, logger)
	}
}

// WithProvisionerLoggerProvider resolves the logger from provider.
func WithProvisionerLoggerProvider(provider LoggerProvider) ProvisionerOption {
	return func(p *Provisioner) {
		p.loggerProvider, p.logger = ResolveLogger("auth.provisioner", provider, p.logger)
	}
}

// WithProvisionerActivitySink sets the sink used to publish registration events.
func WithProvisionerActivitySink(sink ActivitySink) ProvisionerOption {
	return func(p *Provisioner) {
		p.activitySink = normalizeActivitySink(sink)
	}
}

// WithProvisionerClock injects a custom clock (useful for tests).
func WithProvisionerClock(clock func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		if clock != nil {
			p.now = clock
		}
	}
}

// NewProvisioner returns a Provisioner writing to backend and profiles.
func NewProvisioner(backend IdentityBackend, profiles ProfileStore, opts ...ProvisionerOption) *Provisioner {
	loggerProvider, logger := ResolveLogger("auth.provisioner", nil, nil)
	p := &Provisioner{
		backend:        backend,
		profiles:       profiles,
		validator:      NewRegistrationValidator(),
		logger:         logger,
		loggerProvider: loggerProvider,
		activitySink:   noopActivitySink{},
		now:            time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Register validates req, creates the identity and, when the request asks
// for a provider account, inserts the provider profile.
//
// On a partial failure both a result (with OutcomeProfilePending) and an
// ErrProfileCreationPartialFailure error are returned.
func (p *Provisioner) Register(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	req, err := p.validator.Validate(req)
	if err != nil {
		return nil, err
	}

	identity, err := p.backend.CreateIdentity(ctx, req.Email, req.Password, req.attributes())
	if err != nil {
		p.logger.Error("identity creation failed", "email", req.Email, "error", err)
		return nil, classifyIdentityCreationError(err, req.Email)
	}

	if identity == nil || identity.ID == "" {
		return nil, wrapError(ErrIdentityCreation, nil, map[string]any{
			"email":  req.Email,
			"reason": "backend returned no identity",
		})
	}

	result := &RegistrationResult{
		IdentityID: identity.ID,
		Email:      identity.Email,
		Role:       RoleClient,
		Outcome:    OutcomeComplete,
		Session:    identity.Session.Clone(),
	}
	if result.Email == "" {
		result.Email = req.Email
	}

	if !req.WantsProvider() {
		p.record(ctx, ActivityEventAccountRegistered, result, nil)
		return result, nil
	}

	profile, err := p.insertProfile(ctx, req.profileFor(identity.ID))
	if err != nil {
		result.Outcome = OutcomeProfilePending
		p.logger.Error("provider profile creation failed", "identity_id", identity.ID, "error", err)
		p.record(ctx, ActivityEventProfileCreationFailed, result, map[string]any{"error": err.Error()})
		return result, wrapError(ErrProfileCreationPartialFailure, err, map[string]any{
			"identity_id": identity.ID,
			"email":       result.Email,
		})
	}

	result.Role = RoleProvider
	result.Profile = profile
	p.record(ctx, ActivityEventAccountRegistered, result, nil)

	return result, nil
}

func (p *Provisioner) insertProfile(ctx context.Context, profile *Profile) (*Profile, error) {
	if p.profiles == nil {
		return nil, wrapError(ErrProfileStore, nil, map[string]any{"reason": "no profile store configured"})
	}

	created, err := p.profiles.Insert(ctx, profile)
	if err != nil {
		if IsStoreError(err) {
			return nil, err
		}
		return nil, wrapError(ErrProfileStore, err, map[string]any{
			"operation":   "insert",
			"identity_id": profile.IdentityID,
		})
	}

	if created == nil {
		created = profile
	}
	return created, nil
}

func (p *Provisioner) record(ctx context.Context, eventType ActivityEventType, result *RegistrationResult, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["outcome"] = result.Outcome

	recordActivity(ctx, p.activitySink, p.logger, p.now, ActivityEvent{
		EventType:  eventType,
		IdentityID: result.IdentityID,
		Email:      result.Email,
		Role:       result.Role,
		Metadata:   meta,
	})
}
