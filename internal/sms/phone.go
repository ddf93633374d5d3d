package sms

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers written without a country code.
const DefaultRegion = "US"

// Normalize reduces a phone number to its national significant number, so
// that "+1 703-555-0100" and "7035550100" are the same user.
func Normalize(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", raw, err)
	}
	return phonenumbers.GetNationalSignificantNumber(num), nil
}

// E164 formats an identity for the carrier.
func E164(identity, region string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(identity), region)
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", identity, err)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
