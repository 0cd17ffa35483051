package auth

import (
	"errors"
	"fmt"
)

// Failures reported by the Authenticator. Callers branch with errors.Is; the
// messages are safe to return to clients.
var (
	ErrDuplicateEmail     = errors.New("User already registered with this email address")
	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrUnauthorized       = errors.New("Not authorized to access this route")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("User not found")

	// ErrFederatedAccount is an ErrInvalidCredentials that also tells the
	// client to use federated sign-in.
	ErrFederatedAccount = fmt.Errorf("%w: please login using your social account", ErrInvalidCredentials)
)

// IsFederatedHint reports whether err carries the federated sign-in hint.
func IsFederatedHint(err error) bool {
	return errors.Is(err, ErrFederatedAccount)
}
