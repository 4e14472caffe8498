package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"campusid.org/internal/ids"
)

const codeDigits = 6

// IssueCode generates a one-time numeric code for the identity and purpose,
// persisting only its hash. Issuing a new code invalidates any outstanding
// unused codes of the same purpose, so exactly one code is current.
func (s *Service) IssueCode(ctx context.Context, identityID string, purpose VerificationPurpose) (string, error) {
	if identityID == "" {
		return "", fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	ttl, ok := s.codeTTL[purpose]
	if !ok {
		return "", fmt.Errorf("%w: unknown verification purpose %q", ErrInvalidInput, purpose)
	}
	code, err := numericCode(codeDigits)
	if err != nil {
		return "", err
	}

	verifications := s.store.Verifications(ctx)
	if err := verifications.InvalidatePending(ctx, identityID, purpose); err != nil {
		return "", err
	}
	now := s.now().UTC()
	rec := &VerificationToken{
		ID:         ids.New(),
		IdentityID: identityID,
		CodeHash:   hashSecret(code),
		Purpose:    purpose,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := verifications.Create(ctx, rec); err != nil {
		return "", err
	}
	return code, nil
}

// ConsumeCode matches and burns a one-time code. Wrong, expired, consumed and
// never-issued codes all fail identically with ErrCodeInvalid.
func (s *Service) ConsumeCode(ctx context.Context, identityID, code string, purpose VerificationPurpose) error {
	if identityID == "" || code == "" {
		return ErrCodeInvalid
	}
	_, err := s.store.Verifications(ctx).Consume(ctx, identityID, hashSecret(code), purpose, s.now().UTC())
	return err
}

func numericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
