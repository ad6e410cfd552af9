package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_NormalizesPhone(t *testing.T) {
	v := NewRegistrationValidator()

	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{name: "local mobile", phone: "03001234567", want: "+923001234567"},
		{name: "local with spaces", phone: "0300 1234567", want: "+923001234567"},
		{name: "international", phone: "+92 300 1234567", want: "+923001234567"},
		{name: "empty stays empty", phone: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := v.Validate(RegistrationRequest{
				Email:    "a@x.com",
				Password: "secret1",
				Phone:    tt.phone,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Phone)
		})
	}
}

func TestValidate_RejectsInvalidPhone(t *testing.T) {
	_, err := NewRegistrationValidator().Validate(RegistrationRequest{
		Email:    "a@x.com",
		Password: "secret1",
		Phone:    "12",
	})
	require.Error(t, err)
	assert.Equal(t, "phone", ValidationField(err))
}

func TestValidate_DefaultsAccountTypeToClient(t *testing.T) {
	req, err := NewRegistrationValidator().Validate(RegistrationRequest{
		Email:    " A@X.COM ",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, RoleClient, req.AccountType)
	assert.Equal(t, "a@x.com", req.Email)
	assert.False(t, req.WantsProvider())
}

func TestValidate_PasswordBoundary(t *testing.T) {
	v := NewRegistrationValidator()

	_, err := v.Validate(RegistrationRequest{Email: "a@x.com", Password: "12345"})
	require.Error(t, err)
	assert.Equal(t, "password", ValidationField(err))
	assert.Contains(t, UserMessage(err), "at least 6 characters")

	_, err = v.Validate(RegistrationRequest{Email: "a@x.com", Password: "123456"})
	assert.NoError(t, err)
}

func TestValidate_FirstFailureWins(t *testing.T) {
	_, err := NewRegistrationValidator().Validate(RegistrationRequest{
		Email:       "bad",
		Password:    "1",
		AccountType: RoleProvider,
	})
	require.Error(t, err)
	assert.Equal(t, "email", ValidationField(err))
}

func TestValidate_ProviderFields(t *testing.T) {
	base := func() RegistrationRequest { return providerRequest() }

	tests := []struct {
		name   string
		mutate func(*RegistrationRequest)
		field  string
	}{
		{"missing category", func(r *RegistrationRequest) { r.Provider.Category = "" }, "category"},
		{"unknown category", func(r *RegistrationRequest) { r.Provider.Category = "Plumbing Lessons" }, "category"},
		{"missing description", func(r *RegistrationRequest) { r.Provider.Description = "" }, "description"},
		{"missing location", func(r *RegistrationRequest) { r.Provider.Location = " " }, "location"},
		{"long full name", func(r *RegistrationRequest) { r.FullName = strings.Repeat("a", 121) }, "full_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)
			_, err := NewRegistrationValidator().Validate(req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, tt.field, ValidationField(err))
		})
	}

	t.Run("category match ignores case", func(t *testing.T) {
		req := base()
		req.Provider.Category = "photography"
		_, err := NewRegistrationValidator().Validate(req)
		assert.NoError(t, err)
	})
}

func TestValidatorOptions(t *testing.T) {
	v := NewRegistrationValidator(
		WithMinPasswordLength(10),
		WithPhoneRegion("us"),
		WithProviderCategories(),
	)

	_, err := v.Validate(RegistrationRequest{Email: "a@x.com", Password: "secret1"})
	assert.Equal(t, "password", ValidationField(err))

	req := providerRequest()
	req.Password = "long-enough-secret"
	req.Provider.Category = "Anything Goes"
	req.Phone = "(202) 456-1111"
	got, err := v.Validate(req)
	require.NoError(t, err)
	assert.Equal(t, "+12024561111", got.Phone)

	relaxed := NewRegistrationValidator(WithMinPasswordLength(2))
	_, err = relaxed.Validate(RegistrationRequest{Email: "a@x.com", Password: "abc"})
	assert.Error(t, err, "policy cannot go below the minimum")
}

func TestNewRegistrationValidatorFromConfig(t *testing.T) {
	v := NewRegistrationValidatorFromConfig(&EnvConfig{MinPasswordLength: 8, PhoneRegion: "PK"})
	_, err := v.Validate(RegistrationRequest{Email: "a@x.com", Password: "secret1"})
	assert.Equal(t, "password", ValidationField(err))

	assert.NotNil(t, NewRegistrationValidatorFromConfig(nil))
}

func TestConfirmPassword(t *testing.T) {
	assert.NoError(t, ConfirmPassword("secret1", "secret1"))

	err := ConfirmPassword("secret1", "secret2")
	require.Error(t, err)
	assert.Equal(t, "password_confirmation", ValidationField(err))
	assert.Equal(t, "password_confirmation: passwords do not match", UserMessage(err))
}
