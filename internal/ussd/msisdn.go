package ussd

import (
	"errors"
	"fmt"
	"strings"
)

// CountryCode is the dialing prefix of canonical MSISDNs.
const CountryCode = "256"

const subscriberDigits = 9

var ErrInvalidMSISDN = errors.New("invalid msisdn")

// NormalizeMSISDN canonicalizes "+256701234567", "256701234567",
// "0701234567" and "701234567" to "256701234567".
func NormalizeMSISDN(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	switch {
	case strings.HasPrefix(digits, CountryCode) && len(digits) == len(CountryCode)+subscriberDigits:
		return digits, nil
	case strings.HasPrefix(digits, "0") && len(digits) == subscriberDigits+1:
		return CountryCode + digits[1:], nil
	case len(digits) == subscriberDigits && !strings.HasPrefix(digits, "0"):
		return CountryCode + digits, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMSISDN, raw)
	}
}
