package provider

import (
	"errors"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPhoneNumber is returned when an upstream-assigned number cannot be
// parsed or validated.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// NormalizePhone parses and validates a phone number using libphonenumber,
// returning E.164 format. Requires a '+' prefix (no default region); upstream
// replies without one must be prefixed by the adapter before calling this.
func NormalizePhone(input string) (string, error) {
	num, err := phonenumbers.Parse(input, "")
	if err != nil {
		return "", ErrInvalidPhoneNumber
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhoneNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
