// Package identity implements the credential and verification-token lifecycle
// for the campusid learning platform: session issuance and revocation,
// one-time verification codes, the admin invitation state machine, and the
// role-based authorization gate.
package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of principal classes.
type Role string

const (
	RoleOwner   Role = "OWNER"
	RoleAdmin   Role = "ADMIN"
	RoleStudent Role = "STUDENT"
)

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleStudent:
		return RoleStudent, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
}

// Provider identifies how an identity authenticates.
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
)

// Identity is the authenticated-principal record.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	// PasswordHash is empty for identities without a local password.
	PasswordHash string   `json:"-"`
	Role         Role     `json:"role"`
	Provider     Provider `json:"provider"`
	ExternalID   string   `json:"-"`

	EmailVerified   bool `json:"email_verified"`
	MobileVerified  bool `json:"mobile_verified"`
	AccountVerified bool `json:"account_verified"`
	Active          bool `json:"active"`

	LastLogin         *time.Time `json:"last_login,omitempty"`
	PasswordChangedAt *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SessionToken is a revocable, time-boxed credential bound to one identity.
// Only the SHA-256 hash of the signed token string is persisted.
type SessionToken struct {
	ID         string
	IdentityID string
	TokenHash  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	Device     string
}

// ActiveAt reports whether the session can still authenticate requests.
func (t SessionToken) ActiveAt(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// VerificationPurpose binds a one-time code to the flow that issued it.
type VerificationPurpose string

const (
	PurposeVerifyEmail   VerificationPurpose = "VERIFY_EMAIL"
	PurposeVerifyPhone   VerificationPurpose = "VERIFY_PHONE"
	PurposePasswordReset VerificationPurpose = "PASSWORD_RESET"
	PurposeInviteAdmin   VerificationPurpose = "INVITE_ADMIN"
)

// VerificationToken is a single-use code record. The code itself is never
// stored, only its SHA-256 hash.
type VerificationToken struct {
	ID         string
	IdentityID string
	CodeHash   string
	Purpose    VerificationPurpose
	ExpiresAt  time.Time
	Used       bool
	CreatedAt  time.Time
}

// InvitationStatus is the invitation state machine's vocabulary. EXPIRED is
// derived from the expiry timestamp at read time and never stored.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationRevoked  InvitationStatus = "REVOKED"
	InvitationExpired  InvitationStatus = "EXPIRED"
)

// Invitation is a time-boxed, single-use grant allowing one specific email
// to register with an elevated role.
type Invitation struct {
	ID         string           `json:"id"`
	Email      string           `json:"email"`
	TokenHash  string           `json:"-"`
	Role       Role             `json:"role"`
	Status     InvitationStatus `json:"status"`
	ExpiresAt  time.Time        `json:"expires_at"`
	InvitedBy  string           `json:"invited_by"`
	AcceptedBy string           `json:"accepted_by,omitempty"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// StatusAt resolves the effective state, deriving EXPIRED for pending
// invitations whose deadline has passed.
func (i Invitation) StatusAt(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && !now.Before(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}

// Permission is a named capability grantable to admins.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExternalIdentity is the verified profile asserted by an external identity
// provider. EmailVerified is trusted as-is per the provider contract.
type ExternalIdentity struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}
