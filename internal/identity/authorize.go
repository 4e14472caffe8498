package identity

import "context"

// Authorize allows the request when the context principal's role is in the
// required set. Stateless: ErrUnauthenticated without a principal,
// ErrForbidden on a role mismatch. An empty required set only asserts that a
// principal is present.
func Authorize(ctx context.Context, required ...Role) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if len(required) == 0 {
		return nil
	}
	for _, role := range required {
		if principal.Role == role {
			return nil
		}
	}
	return ErrForbidden
}
