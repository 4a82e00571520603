package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits and an optional leading +")

	// ErrInvalidLength indicates the number has too few or too many digits for E.164
	ErrInvalidLength = errors.New("phone number must have between 8 and 15 digits")

	// ErrMissingCountryCode indicates a national number with no default country to apply
	ErrMissingCountryCode = errors.New("phone number must include a country code")
)

const (
	minE164Digits = 8
	maxE164Digits = 15
)

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator normalises guest and driver contact numbers to E.164
type PhoneValidator struct {
	defaultCountryCode string // digits only, e.g. "94"
}

// NewPhoneValidator creates a new phone validator instance. National numbers
// starting with 0 get defaultCountryCode; pass "" to require international input.
func NewPhoneValidator(defaultCountryCode string) *PhoneValidator {
	return &PhoneValidator{defaultCountryCode: strings.TrimPrefix(defaultCountryCode, "+")}
}

// Validate validates a phone number.
// Accepts +94 77 123 4567, 0094771234567, (077) 123-4567 with a default country.
// Returns the E.164 form (+94771234567) and error if invalid
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	var digits string
	switch {
	case strings.HasPrefix(sanitized, "+"):
		digits = sanitized[1:]
	case strings.HasPrefix(sanitized, "00"):
		digits = sanitized[2:]
	case strings.HasPrefix(sanitized, "0"):
		if v.defaultCountryCode == "" {
			if !phoneRegex.MatchString(sanitized) {
				return "", ErrInvalidFormat
			}
			return "", ErrMissingCountryCode
		}
		digits = v.defaultCountryCode + sanitized[1:]
	default:
		digits = sanitized
	}

	if !phoneRegex.MatchString(digits) {
		return "", ErrInvalidFormat
	}
	if len(digits) < minE164Digits || len(digits) > maxE164Digits {
		return "", ErrInvalidLength
	}

	return "+" + digits, nil
}

// Sanitize removes common separators from phone number
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")
	return replacer.Replace(strings.TrimSpace(phone))
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
