package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func providerRequest() RegistrationRequest {
	return RegistrationRequest{
		Email:       "a@x.com",
		Password:    "secret1",
		AccountType: RoleProvider,
		Provider: &ProviderFields{
			BusinessName: "Ahmad Photography",
			Category:     "Photography",
			Description:  "Wedding and event photography",
			Location:     "Peshawar",
		},
	}
}

func newTestProvisioner(backend IdentityBackend, profiles ProfileStore, opts ...ProvisionerOption) (*Provisioner, *recordingSink) {
	sink := &recordingSink{}
	base := []ProvisionerOption{
		WithProvisionerLogger(&captureLogger{}),
		WithProvisionerActivitySink(sink),
		WithProvisionerClock(func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }),
	}
	return NewProvisioner(backend, profiles, append(base, opts...)...), sink
}

func TestRegister_ClientNeverTouchesProfileStore(t *testing.T) {
	backend := newFakeBackend()
	store := &MockProfileStore{}
	p, sink := newTestProvisioner(backend, store)

	result, err := p.Register(context.Background(), RegistrationRequest{
		Email:       "client@x.com",
		Password:    "secret1",
		FullName:    "Sara Khan",
		AccountType: RoleClient,
	})
	require.NoError(t, err)
	assert.Equal(t, "id-client", result.IdentityID)
	assert.Equal(t, RoleClient, result.Role)
	assert.Equal(t, OutcomeComplete, result.Outcome)
	assert.Nil(t, result.Profile)

	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "FindByIdentity", mock.Anything, mock.Anything)
	assert.Equal(t, []ActivityEventType{ActivityEventAccountRegistered}, sink.types())
}

func TestRegister_ProviderScenario(t *testing.T) {
	backend := newFakeBackend()
	store := &MockProfileStore{}
	store.On("Insert", mock.Anything, mock.MatchedBy(func(p *Profile) bool {
		return p.IdentityID == "id-a" &&
			p.BusinessName == "Ahmad Photography" &&
			p.Category == "Photography" &&
			p.Location == "Peshawar"
	})).Return(&Profile{IdentityID: "id-a", BusinessName: "Ahmad Photography"}, nil).Once()

	p, sink := newTestProvisioner(backend, store)

	result, err := p.Register(context.Background(), providerRequest())
	require.NoError(t, err)
	assert.Equal(t, RoleProvider, result.Role)
	assert.Equal(t, OutcomeComplete, result.Outcome)
	require.NotNil(t, result.Profile)
	assert.Equal(t, "Ahmad Photography", result.Profile.BusinessName)
	store.AssertExpectations(t)

	require.Len(t, sink.events, 1)
	assert.Equal(t, RoleProvider, sink.events[0].Role)
	assert.Equal(t, OutcomeComplete, sink.events[0].Metadata["outcome"])
}

func TestRegister_ProviderRoleDerivedAfterRegistration(t *testing.T) {
	backend := newFakeBackend()
	profiles := newMemoryProfiles()
	p, _ := newTestProvisioner(backend, profiles)

	result, err := p.Register(context.Background(), providerRequest())
	require.NoError(t, err)

	resolver := NewRoleResolver(profiles, &captureLogger{})
	assert.Equal(t, RoleProvider, resolver.Resolve(context.Background(), result.IdentityID))
}

func TestRegister_ProfileInsertFailureIsPartial(t *testing.T) {
	backend := newFakeBackend()
	profiles := newMemoryProfiles()
	profiles.insertErr = errors.New("permission denied for table service_providers")
	p, sink := newTestProvisioner(backend, profiles)

	result, err := p.Register(context.Background(), providerRequest())
	require.Error(t, err)
	assert.True(t, IsProfileCreationPartialFailure(err))
	assert.False(t, IsIdentityCreationError(err))
	assert.Equal(t, msgProfileNotSaved, UserMessage(err))

	require.NotNil(t, result, "the identity exists and is reported")
	assert.Equal(t, "id-a", result.IdentityID)
	assert.Equal(t, OutcomeProfilePending, result.Outcome)
	assert.Equal(t, RoleClient, result.Role)

	// The identity is kept: no rollback.
	_, authErr := backend.Authenticate(context.Background(), "a@x.com", "secret1")
	assert.NoError(t, authErr)

	profiles.insertErr = nil
	resolver := NewRoleResolver(profiles, &captureLogger{})
	assert.Equal(t, RoleClient, resolver.Resolve(context.Background(), result.IdentityID))

	assert.Equal(t, []ActivityEventType{ActivityEventProfileCreationFailed}, sink.types())
}

func TestRegister_MissingProfileStoreIsPartial(t *testing.T) {
	p, _ := newTestProvisioner(newFakeBackend(), nil)

	result, err := p.Register(context.Background(), providerRequest())
	require.Error(t, err)
	assert.True(t, IsProfileCreationPartialFailure(err))
	assert.Equal(t, OutcomeProfilePending, result.Outcome)
}

func TestRegister_ValidationNeverReachesBackend(t *testing.T) {
	tests := []struct {
		name  string
		req   RegistrationRequest
		field string
	}{
		{
			name:  "empty email",
			req:   RegistrationRequest{Password: "secret1"},
			field: "email",
		},
		{
			name:  "malformed email",
			req:   RegistrationRequest{Email: "not-an-email", Password: "secret1"},
			field: "email",
		},
		{
			name:  "short password",
			req:   RegistrationRequest{Email: "a@x.com", Password: "12345"},
			field: "password",
		},
		{
			name:  "unknown account type",
			req:   RegistrationRequest{Email: "a@x.com", Password: "secret1", AccountType: "admin"},
			field: "account_type",
		},
		{
			name: "provider without business name",
			req: func() RegistrationRequest {
				r := providerRequest()
				r.Provider.BusinessName = "  "
				return r
			}(),
			field: "business_name",
		},
		{
			name: "provider without fields",
			req: RegistrationRequest{
				Email:       "a@x.com",
				Password:    "secret1",
				AccountType: RoleProvider,
			},
			field: "business_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			store := &MockProfileStore{}
			p, _ := newTestProvisioner(backend, store)

			result, err := p.Register(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, tt.field, ValidationField(err))
			assert.Equal(t, 0, backend.createCalls)
			store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestRegister_SecondAttemptReportsAlreadyRegistered(t *testing.T) {
	backend := newFakeBackend()
	profiles := newMemoryProfiles()
	p, _ := newTestProvisioner(backend, profiles)

	_, err := p.Register(context.Background(), providerRequest())
	require.NoError(t, err)

	result, err := p.Register(context.Background(), providerRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsIdentityCreationError(err))
	assert.True(t, IsEmailAlreadyRegistered(err))
	assert.False(t, IsProfileCreationPartialFailure(err))
	assert.Equal(t, msgEmailAlreadyInUse, UserMessage(err))
}

func TestRegister_BackendFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.createErr = errors.New("dial tcp: connection refused")
	p, _ := newTestProvisioner(backend, newMemoryProfiles())

	result, err := p.Register(context.Background(), RegistrationRequest{Email: "a@x.com", Password: "secret1"})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsIdentityCreationError(err))
	assert.False(t, IsEmailAlreadyRegistered(err))
}

type nilIdentityBackend struct {
	*fakeBackend
}

func (nilIdentityBackend) CreateIdentity(context.Context, string, string, IdentityAttributes) (*Identity, error) {
	return nil, nil
}

func TestRegister_BackendReturnsNoIdentity(t *testing.T) {
	p, _ := newTestProvisioner(nilIdentityBackend{newFakeBackend()}, newMemoryProfiles())

	_, err := p.Register(context.Background(), RegistrationRequest{Email: "a@x.com", Password: "secret1"})
	require.Error(t, err)
	assert.True(t, IsIdentityCreationError(err))
}

func TestRegister_NormalizesInput(t *testing.T) {
	backend := newFakeBackend()
	p, _ := newTestProvisioner(backend, newMemoryProfiles())

	result, err := p.Register(context.Background(), RegistrationRequest{
		Email:    "  Sara@X.com ",
		Password: "secret1",
		FullName: " Sara Khan ",
		Phone:    "0300 1234567",
	})
	require.NoError(t, err)
	assert.Equal(t, "sara@x.com", result.Email)

	identity := backend.identities["sara@x.com"]
	require.NotNil(t, identity)
	assert.Equal(t, "Sara Khan", identity.Attributes.FullName)
	assert.Equal(t, "+923001234567", identity.Attributes.Phone)
}

func TestRegisterAccountHandler(t *testing.T) {
	backend := newFakeBackend()
	p, _ := newTestProvisioner(backend, newMemoryProfiles())
	handler := NewRegisterAccountHandler(p)

	msg := &RegisterAccountMessage{Request: providerRequest()}
	assert.Equal(t, "account.register", msg.Type())

	require.NoError(t, handler.Execute(context.Background(), msg))
	require.NotNil(t, msg.Result)
	assert.Equal(t, RoleProvider, msg.Result.Role)

	err := handler.Execute(context.Background(), nil)
	assert.True(t, IsValidationError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := &RegisterAccountMessage{Request: providerRequest()}
	err = handler.Execute(ctx, cancelled)
	assert.Error(t, err)
	assert.Nil(t, cancelled.Result)
}
