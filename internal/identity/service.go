package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"campusid.org/internal/obs"
)

const (
	defaultSessionTTL    = 24 * time.Hour
	defaultEmailCodeTTL  = 10 * time.Minute
	defaultPhoneCodeTTL  = 10 * time.Minute
	defaultResetCodeTTL  = 30 * time.Minute
	defaultInvitationTTL = 7 * 24 * time.Hour

	deliverTimeout = 10 * time.Second
)

// Deliverer is the outbound delivery collaborator. Failures are non-fatal to
// the triggering request and are only logged.
type Deliverer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// Service provides the identity lifecycle operations: registration paths per
// role, session issuance/revocation, verification codes, invitations and
// admin permissions.
type Service struct {
	store Store
	now   func() time.Time

	secret     []byte
	issuer     string
	sessionTTL time.Duration
	codeTTL    map[VerificationPurpose]time.Duration
	inviteTTL  time.Duration

	deliver Deliverer
	baseURL string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithSessionTTL configures session token lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithCodeTTL configures the lifetime of one-time codes for a purpose.
func WithCodeTTL(purpose VerificationPurpose, ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.codeTTL[purpose] = ttl
		}
		return nil
	}
}

// WithInvitationTTL configures how long admin invitations stay claimable.
func WithInvitationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.inviteTTL = ttl
		}
		return nil
	}
}

// WithDeliverer wires the outbound email collaborator.
func WithDeliverer(d Deliverer) ServiceOption {
	return func(s *Service) error {
		s.deliver = d
		return nil
	}
}

// WithBaseURL sets the public base URL embedded into claim and reset links.
func WithBaseURL(u string) ServiceOption {
	return func(s *Service) error {
		s.baseURL = strings.TrimRight(strings.TrimSpace(u), "/")
		return nil
	}
}

// NewService constructs a Service over the given store and signing secret.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		secret:     []byte(secret),
		issuer:     "campusid",
		sessionTTL: defaultSessionTTL,
		codeTTL: map[VerificationPurpose]time.Duration{
			PurposeVerifyEmail:   defaultEmailCodeTTL,
			PurposeVerifyPhone:   defaultPhoneCodeTTL,
			PurposePasswordReset: defaultResetCodeTTL,
			PurposeInviteAdmin:   defaultInvitationTTL,
		},
		inviteTTL: defaultInvitationTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// EnsureBuiltins ensures predefined permissions exist.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions)
}

// SignupStudent registers a password-based STUDENT identity and dispatches an
// email verification code. The identity starts unverified on both email and
// profile completion.
func (s *Service) SignupStudent(ctx context.Context, email, password, name string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ident := &Identity{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Role:         RoleStudent,
		Provider:     ProviderLocal,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Identities(ctx).Create(ctx, ident); err != nil {
		return nil, err
	}

	code, err := s.IssueCode(ctx, ident.ID, PurposeVerifyEmail)
	if err != nil {
		// The account exists; verification can be re-requested later.
		obs.LogEvent("error", "signup_verification_issue_failed", map[string]any{"identity_id": ident.ID, "error": err.Error()})
		return ident, nil
	}
	s.dispatch(ident.Email, "Verify your email",
		fmt.Sprintf("Your verification code is %s. It expires in %s.", code, s.codeTTL[PurposeVerifyEmail]))
	return ident, nil
}

// Login authenticates a local password identity and issues a session token.
// All credential failures collapse into ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password, device string) (*Identity, string, time.Time, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, "", time.Time{}, ErrUnauthorized
	}
	ident, err := s.store.Identities(ctx).FindByEmail(ctx, email)
	if err != nil {
		return nil, "", time.Time{}, ErrUnauthorized
	}
	if !ident.Active || ident.PasswordHash == "" {
		return nil, "", time.Time{}, ErrUnauthorized
	}
	if err := VerifyPassword(ident.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, ErrUnauthorized
	}

	token, expiresAt, err := s.IssueSession(ctx, ident, device)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	now := s.now().UTC()
	if err := s.store.Identities(ctx).SetLastLogin(ctx, ident.ID, now); err != nil {
		obs.LogEvent("warn", "last_login_update_failed", map[string]any{"identity_id": ident.ID, "error": err.Error()})
	}
	ident.LastLogin = &now
	return ident, token, expiresAt, nil
}

// LoginWithGoogle signs in (or registers) an identity asserted by the
// external provider. The provider's email_verified claim is trusted; an
// unverified assertion is rejected outright.
func (s *Service) LoginWithGoogle(ctx context.Context, ext ExternalIdentity, device string) (*Identity, string, time.Time, error) {
	if !ext.EmailVerified {
		return nil, "", time.Time{}, ErrUnauthorized
	}
	email, err := normalizeEmail(ext.Email)
	if err != nil {
		return nil, "", time.Time{}, ErrUnauthorized
	}

	identities := s.store.Identities(ctx)
	ident, err := identities.FindByProvider(ctx, ProviderGoogle, ext.ExternalID)
	if errors.Is(err, ErrNotFound) {
		// Fall back to the email: a provider-verified address may belong to an
		// identity registered through another path.
		ident, err = identities.FindByEmail(ctx, email)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		now := s.now().UTC()
		ident = &Identity{
			Name:          strings.TrimSpace(ext.Name),
			Email:         email,
			Role:          RoleStudent,
			Provider:      ProviderGoogle,
			ExternalID:    ext.ExternalID,
			EmailVerified: true,
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := identities.Create(ctx, ident); err != nil {
			return nil, "", time.Time{}, err
		}
	case err != nil:
		return nil, "", time.Time{}, err
	}
	if !ident.Active {
		return nil, "", time.Time{}, ErrUnauthorized
	}
	if !ident.EmailVerified {
		if err := identities.SetEmailVerified(ctx, ident.ID); err != nil {
			return nil, "", time.Time{}, err
		}
		ident.EmailVerified = true
	}

	token, expiresAt, err := s.IssueSession(ctx, ident, device)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	now := s.now().UTC()
	if err := identities.SetLastLogin(ctx, ident.ID, now); err != nil {
		obs.LogEvent("warn", "last_login_update_failed", map[string]any{"identity_id": ident.ID, "error": err.Error()})
	}
	ident.LastLogin = &now
	return ident, token, expiresAt, nil
}

// RequestEmailVerification issues a fresh email code. Unknown and already
// verified addresses succeed silently to avoid enumeration.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	ident, err := s.store.Identities(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ident.EmailVerified {
		return nil
	}
	code, err := s.IssueCode(ctx, ident.ID, PurposeVerifyEmail)
	if err != nil {
		return err
	}
	s.dispatch(ident.Email, "Verify your email",
		fmt.Sprintf("Your verification code is %s. It expires in %s.", code, s.codeTTL[PurposeVerifyEmail]))
	return nil
}

// VerifyEmail consumes an email verification code and marks the address
// verified. A missing identity reports the same failure as a bad code.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return ErrCodeInvalid
	}
	ident, err := s.store.Identities(ctx).FindByEmail(ctx, email)
	if err != nil {
		return ErrCodeInvalid
	}
	if err := s.ConsumeCode(ctx, ident.ID, code, PurposeVerifyEmail); err != nil {
		return err
	}
	return s.store.Identities(ctx).SetEmailVerified(ctx, ident.ID)
}

// RequestPasswordReset issues a reset code for password-based identities.
// Always reports success so callers cannot probe for registered addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	ident, err := s.store.Identities(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ident.PasswordHash == "" {
		// External-provider account; nothing to reset.
		return nil
	}
	code, err := s.IssueCode(ctx, ident.ID, PurposePasswordReset)
	if err != nil {
		return err
	}
	s.dispatch(ident.Email, "Password reset",
		fmt.Sprintf("Your password reset code is %s. It expires in %s.", code, s.codeTTL[PurposePasswordReset]))
	return nil
}

// ResetPassword consumes a reset code, replaces the password hash and revokes
// every active session for the identity.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return ErrCodeInvalid
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	ident, err := s.store.Identities(ctx).FindByEmail(ctx, email)
	if err != nil {
		return ErrCodeInvalid
	}
	if err := s.ConsumeCode(ctx, ident.ID, code, PurposePasswordReset); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.Identities(ctx).UpdatePassword(ctx, ident.ID, hash, now); err != nil {
		return err
	}
	return s.RevokeAllSessions(ctx, ident.ID)
}

// AuthData returns the principal's identity record and, for admins, the
// resolved permission set.
func (s *Service) AuthData(ctx context.Context) (*Identity, []Permission, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, nil, ErrUnauthenticated
	}
	ident, err := s.store.Identities(ctx).Find(ctx, principal.IdentityID)
	if err != nil {
		return nil, nil, err
	}
	var perms []Permission
	if ident.Role == RoleAdmin {
		perms, err = s.store.Permissions(ctx).ForAdmin(ctx, ident.ID)
		if err != nil {
			return nil, nil, err
		}
	}
	return ident, perms, nil
}

// CompleteProfile records the role-specific profile-completion step, flipping
// accountVerified for the principal.
func (s *Service) CompleteProfile(ctx context.Context, name string) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	identities := s.store.Identities(ctx)
	if name = strings.TrimSpace(name); name != "" {
		if err := identities.UpdateName(ctx, principal.IdentityID, name); err != nil {
			return err
		}
	}
	return identities.SetAccountVerified(ctx, principal.IdentityID)
}

// SetAdminPermissions replaces an admin's complete permission set. OWNER only;
// unknown capability keys are rejected before any write.
func (s *Service) SetAdminPermissions(ctx context.Context, adminID string, keys []string) error {
	if err := Authorize(ctx, RoleOwner); err != nil {
		return err
	}
	target, err := s.store.Identities(ctx).Find(ctx, adminID)
	if err != nil {
		return err
	}
	if target.Role != RoleAdmin {
		return fmt.Errorf("%w: identity %s is not an admin", ErrInvalidInput, adminID)
	}

	catalog, err := s.store.Permissions(ctx).List(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(catalog))
	for _, p := range catalog {
		known[p.Key] = struct{}{}
	}
	cleaned := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := known[key]; !ok {
			return fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, key)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, key)
	}
	return s.store.Permissions(ctx).SetForAdmin(ctx, adminID, cleaned)
}

// dispatch sends a message through the delivery collaborator without blocking
// the request. Delivery failure must not fail the triggering operation.
func (s *Service) dispatch(to, subject, text string) {
	if s.deliver == nil {
		obs.LogEvent("warn", "delivery_not_configured", map[string]any{"subject": subject})
		return
	}
	deliver := s.deliver
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		defer cancel()
		if err := deliver.Send(ctx, to, subject, text, ""); err != nil {
			obs.LogEvent("error", "delivery_failed", map[string]any{"subject": subject, "error": err.Error()})
		}
	}()
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: malformed email address", ErrInvalidInput)
	}
	return email, nil
}
