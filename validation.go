package auth

import (
	"errors"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// MinPasswordLength is the shortest password accepted at sign up.
const MinPasswordLength = 6

// DefaultPhoneRegion is used to parse phone numbers without a country prefix.
const DefaultPhoneRegion = "PK"

// DefaultProviderCategories are the service categories providers can pick.
var DefaultProviderCategories = []string{
	"Photography",
	"Event Planning",
	"Home Services",
	"Professional Services",
	"Beauty & Wellness",
	"Food & Catering",
	"Shopping & Delivery",
	"Personal Services",
}

// RegistrationValidator checks sign up requests before any backend is contacted.
type RegistrationValidator struct {
	minPasswordLength int
	phoneRegion       string
	categories        []string
}

// ValidatorOption customizes a RegistrationValidator.
type ValidatorOption func(*RegistrationValidator)

// WithMinPasswordLength raises the password length policy. Values below
// MinPasswordLength are ignored.
func WithMinPasswordLength(n int) ValidatorOption {
	return func(v *RegistrationValidator) {
		if n >= MinPasswordLength {
			v.minPasswordLength = n
		}
	}
}

// WithPhoneRegion sets the region used to parse local phone numbers.
func WithPhoneRegion(region string) ValidatorOption {
	return func(v *RegistrationValidator) {
		if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
			v.phoneRegion = region
		}
	}
}

// WithProviderCategories replaces the accepted provider categories. An empty
// list accepts any non empty category.
func WithProviderCategories(categories ...string) ValidatorOption {
	return func(v *RegistrationValidator) {
		v.categories = append([]string(nil), categories...)
	}
}

// NewRegistrationValidator returns a validator with the default policy.
func NewRegistrationValidator(opts ...ValidatorOption) *RegistrationValidator {
	v := &RegistrationValidator{
		minPasswordLength: MinPasswordLength,
		phoneRegion:       DefaultPhoneRegion,
		categories:        append([]string(nil), DefaultProviderCategories...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// NewRegistrationValidatorFromConfig builds a validator from Config.
func NewRegistrationValidatorFromConfig(cfg Config) *RegistrationValidator {
	if cfg == nil {
		return NewRegistrationValidator()
	}
	return NewRegistrationValidator(
		WithMinPasswordLength(cfg.GetMinPasswordLength()),
		WithPhoneRegion(cfg.GetPhoneRegion()),
	)
}

type fieldCheck struct {
	name  string
	value any
	rules []validation.Rule
}

// Validate checks fields in declaration order and reports the first failure.
// It returns the request with normalized email and phone.
func (v *RegistrationValidator) Validate(req RegistrationRequest) (RegistrationRequest, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.AccountType == "" {
		req.AccountType = RoleClient
	}

	checks := []fieldCheck{
		{"email", req.Email, []validation.Rule{
			validation.Required.Error("is required"),
			is.Email.Error("must be a valid email address"),
		}},
		{"password", req.Password, []validation.Rule{
			validation.Required.Error("is required"),
			validation.RuneLength(v.minPasswordLength, 0).
				Error("must be at least " + strconv.Itoa(v.minPasswordLength) + " characters"),
		}},
		{"account_type", string(req.AccountType), []validation.Rule{
			validation.In(string(RoleClient), string(RoleProvider)).Error("must be client or provider"),
		}},
		{"full_name", req.FullName, []validation.Rule{
			validation.Length(0, 120).Error("must be at most 120 characters"),
		}},
		{"phone", req.Phone, []validation.Rule{
			validation.By(v.phoneRule),
		}},
	}

	if req.WantsProvider() {
		fields := ProviderFields{}
		if req.Provider != nil {
			fields = *req.Provider
		}
		checks = append(checks,
			fieldCheck{"business_name", strings.TrimSpace(fields.BusinessName), []validation.Rule{
				validation.Required.Error("is required"),
			}},
			fieldCheck{"category", strings.TrimSpace(fields.Category), []validation.Rule{
				validation.Required.Error("is required"),
				validation.By(v.categoryRule),
			}},
			fieldCheck{"description", strings.TrimSpace(fields.Description), []validation.Rule{
				validation.Required.Error("is required"),
			}},
			fieldCheck{"location", strings.TrimSpace(fields.Location), []validation.Rule{
				validation.Required.Error("is required"),
			}},
		)
	}

	for _, check := range checks {
		if err := validation.Validate(check.value, check.rules...); err != nil {
			return req, validationError(check.name, err.Error())
		}
	}

	if req.Phone != "" {
		req.Phone = v.normalizePhone(req.Phone)
	}

	return req, nil
}

func (v *RegistrationValidator) phoneRule(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	num, err := phonenumbers.Parse(raw, v.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}

func (v *RegistrationValidator) normalizePhone(raw string) string {
	num, err := phonenumbers.Parse(raw, v.phoneRegion)
	if err != nil {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func (v *RegistrationValidator) categoryRule(value any) error {
	category, _ := value.(string)
	if category == "" || len(v.categories) == 0 {
		return nil
	}
	for _, c := range v.categories {
		if strings.EqualFold(c, category) {
			return nil
		}
	}
	return errors.New("must be one of the listed service categories")
}

// ConfirmPassword checks the sign up form confirmation. It is a caller side
// precondition and runs before Register.
func ConfirmPassword(password, confirmation string) error {
	if password != confirmation {
		return validationError("password_confirmation", "passwords do not match")
	}
	return nil
}
