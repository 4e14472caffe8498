package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"campusid.org/internal/ids"
)

// Claims carries the signed session claims: subject identity and role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueSession signs a session JWT bound to {identity, role} and appends the
// matching session row. The token is not usable until the row exists, since
// validation cross-checks it for revocation.
func (s *Service) IssueSession(ctx context.Context, ident *Identity, device string) (string, time.Time, error) {
	if ident == nil || ident.ID == "" {
		return "", time.Time{}, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.sessionTTL)
	claims := Claims{
		Role: string(ident.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   ident.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	rec := &SessionToken{
		ID:         ids.New(),
		IdentityID: ident.ID,
		TokenHash:  hashSecret(signed),
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
		Device:     strings.TrimSpace(device),
	}
	if err := s.store.Sessions(ctx).Create(ctx, rec); err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateSession verifies the token signature and claims, then cross-checks
// the stored session row: a cryptographically valid token with no active,
// unexpired row is ErrTokenRevoked. Validation never mutates state.
func (s *Service) ValidateSession(ctx context.Context, raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Count(raw, ".") != 2 {
		return Principal{}, ErrMalformedToken
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return Principal{}, ErrMalformedToken
		}
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.Issuer != s.issuer || strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrInvalidToken
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	rec, err := s.store.Sessions(ctx).FindByHash(ctx, hashSecret(raw))
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrTokenRevoked
	}
	if err != nil {
		return Principal{}, err
	}
	if rec.IdentityID != claims.Subject || !rec.ActiveAt(s.now().UTC()) {
		return Principal{}, ErrTokenRevoked
	}
	return Principal{IdentityID: claims.Subject, Role: role}, nil
}

// RevokeSession invalidates the single session matching the raw token.
func (s *Service) RevokeSession(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	rec, err := s.store.Sessions(ctx).FindByHash(ctx, hashSecret(raw))
	if err != nil {
		return err
	}
	return s.store.Sessions(ctx).Revoke(ctx, rec.ID)
}

// RevokeAllSessions invalidates every session for the identity.
func (s *Service) RevokeAllSessions(ctx context.Context, identityID string) error {
	if identityID == "" {
		return fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	return s.store.Sessions(ctx).RevokeAllForIdentity(ctx, identityID)
}

// ActiveSessions lists the identity's live sessions (multi-device).
func (s *Service) ActiveSessions(ctx context.Context, identityID string) ([]SessionToken, error) {
	return s.store.Sessions(ctx).ListActive(ctx, identityID, s.now().UTC())
}

func hashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
