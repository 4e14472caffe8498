package identity

import "errors"

var (
	ErrNotFound        = errors.New("identity: not found")
	ErrConflict        = errors.New("identity: already exists")
	ErrInvalidInput    = errors.New("identity: invalid input")
	ErrUnauthorized    = errors.New("identity: unauthorized")
	ErrUnauthenticated = errors.New("identity: unauthenticated")
	ErrForbidden       = errors.New("identity: forbidden")

	ErrMalformedToken = errors.New("identity: malformed token")
	ErrInvalidToken   = errors.New("identity: invalid token")
	ErrTokenRevoked   = errors.New("identity: token revoked")

	// ErrCodeInvalid is returned for wrong, expired, consumed and never-issued
	// codes alike so callers cannot enumerate outstanding codes.
	ErrCodeInvalid = errors.New("identity: invalid or expired code")

	ErrInviteExpired  = errors.New("identity: invitation expired")
	ErrInviteConsumed = errors.New("identity: invitation already used")
	ErrInviteSecret   = errors.New("identity: invitation secret mismatch")
)
