package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"campusid.org/internal/ids"
	"campusid.org/internal/obs"
)

// InviteAdmin creates a PENDING invitation for the email and dispatches a
// claim link. OWNER only. The raw secret is returned exactly once; only its
// hash is stored.
func (s *Service) InviteAdmin(ctx context.Context, email string) (*Invitation, string, error) {
	if err := Authorize(ctx, RoleOwner); err != nil {
		return nil, "", err
	}
	caller, _ := PrincipalFromContext(ctx)
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, "", err
	}

	if _, err := s.store.Identities(ctx).FindByEmail(ctx, email); err == nil {
		return nil, "", fmt.Errorf("%w: an identity with email %s already exists", ErrConflict, email)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}

	// A reissue supersedes earlier invitations, keeping at most one claimable.
	if err := s.store.Invitations(ctx).RevokePendingByEmail(ctx, email); err != nil {
		return nil, "", err
	}

	secret, err := newInviteSecret()
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	inv := &Invitation{
		ID:        ids.New(),
		Email:     email,
		TokenHash: hashSecret(secret),
		Role:      RoleAdmin,
		Status:    InvitationPending,
		ExpiresAt: now.Add(s.inviteTTL),
		InvitedBy: caller.IdentityID,
		CreatedAt: now,
	}
	if err := s.store.Invitations(ctx).Create(ctx, inv); err != nil {
		return nil, "", err
	}

	link := s.baseURL + "/admin/register?" + url.Values{
		"email":  {email},
		"secret": {secret},
	}.Encode()
	s.dispatch(email, "You are invited as an admin",
		fmt.Sprintf("Follow this link to complete your registration: %s\nThe invitation expires in %s.", link, s.inviteTTL))
	obs.LogEvent("info", "admin_invited", map[string]any{"invitation_id": inv.ID, "invited_by": caller.IdentityID})
	return inv, secret, nil
}

// RevokeInvitation terminally cancels a PENDING invitation. OWNER only.
func (s *Service) RevokeInvitation(ctx context.Context, invitationID string) error {
	if err := Authorize(ctx, RoleOwner); err != nil {
		return err
	}
	inv, err := s.store.Invitations(ctx).Find(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.StatusAt(s.now().UTC()) != InvitationPending {
		return ErrInviteConsumed
	}
	return s.store.Invitations(ctx).MarkRevoked(ctx, invitationID)
}

// RegisterAdmin claims an invitation with a password, atomically creating the
// ADMIN identity and transitioning the invitation to ACCEPTED, then issues a
// session token. The claimed email address is considered verified: the secret
// only ever travelled through it.
func (s *Service) RegisterAdmin(ctx context.Context, email, secret, password, name string) (*Identity, string, time.Time, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, "", time.Time{}, err
	}
	inv, err := s.claimableInvitation(ctx, email, secret)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	ident := s.invitedIdentity(inv, email)
	ident.Name = strings.TrimSpace(name)
	ident.PasswordHash = hash
	ident.Provider = ProviderLocal
	return s.acceptInvitation(ctx, inv, ident)
}

// RegisterAdminWithGoogle claims an invitation through the external provider.
// The provider-asserted email must match the invitation exactly; a
// client-supplied address is never consulted.
func (s *Service) RegisterAdminWithGoogle(ctx context.Context, secret string, ext ExternalIdentity) (*Identity, string, time.Time, error) {
	if !ext.EmailVerified {
		return nil, "", time.Time{}, ErrUnauthorized
	}
	email, err := normalizeEmail(ext.Email)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	inv, err := s.claimableInvitation(ctx, email, secret)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	ident := s.invitedIdentity(inv, email)
	ident.Name = strings.TrimSpace(ext.Name)
	ident.Provider = ProviderGoogle
	ident.ExternalID = ext.ExternalID
	return s.acceptInvitation(ctx, inv, ident)
}

// claimableInvitation resolves the invitation for the email and validates
// status, expiry and the secret. The email must equal the invitation's email;
// the secret comparison is constant time.
func (s *Service) claimableInvitation(ctx context.Context, email, secret string) (*Invitation, error) {
	inv, err := s.store.Invitations(ctx).FindLatestByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	switch inv.StatusAt(s.now().UTC()) {
	case InvitationPending:
	case InvitationExpired:
		return nil, ErrInviteExpired
	default:
		return nil, ErrInviteConsumed
	}
	if subtle.ConstantTimeCompare([]byte(inv.TokenHash), []byte(hashSecret(secret))) != 1 {
		return nil, ErrInviteSecret
	}
	return inv, nil
}

func (s *Service) invitedIdentity(inv *Invitation, email string) *Identity {
	now := s.now().UTC()
	return &Identity{
		ID:            ids.New(),
		Email:         email,
		Role:          inv.Role,
		EmailVerified: true,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) acceptInvitation(ctx context.Context, inv *Invitation, ident *Identity) (*Identity, string, time.Time, error) {
	now := s.now().UTC()
	if err := s.store.ClaimInvitation(ctx, inv.ID, ident, now); err != nil {
		return nil, "", time.Time{}, err
	}
	token, expiresAt, err := s.IssueSession(ctx, ident, "")
	if err != nil {
		return nil, "", time.Time{}, err
	}
	obs.LogEvent("info", "invitation_accepted", map[string]any{"invitation_id": inv.ID, "identity_id": ident.ID})
	return ident, token, expiresAt, nil
}

func newInviteSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
