package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable covers network errors, timeouts, non-2xx replies
	// and malformed provider responses.
	ErrServiceUnavailable = errors.New("payment service unavailable")

	// ErrAuthentication is a token issuance failure. It matches
	// ErrServiceUnavailable under errors.Is.
	ErrAuthentication = fmt.Errorf("%w: authentication failed", ErrServiceUnavailable)

	// ErrUnknownStatus is a provider status outside the mapping table.
	ErrUnknownStatus = errors.New("unknown provider status")
)
