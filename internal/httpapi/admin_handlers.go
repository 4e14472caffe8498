package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"campusid.org/internal/identity"
	"campusid.org/internal/obs"
)

type inviteRequest struct {
	Email string `json:"email"`
}

type adminRegisterRequest struct {
	Email    string `json:"email"`
	Secret   string `json:"secret"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type adminGoogleRegisterRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleAdminInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	inv, _, err := a.svc.InviteAdmin(r.Context(), req.Email)
	if err != nil {
		obs.CountAuth("admin_invite", "failure")
		handleIdentityError(w, r, err)
		return
	}
	obs.CountAuth("admin_invite", "success")
	// The secret travels only through the invitation email.
	respond(w, http.StatusCreated, "invitation sent", inv)
}

func (a *API) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var req adminRegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ident, token, expiresAt, err := a.svc.RegisterAdmin(r.Context(), req.Email, req.Secret, req.Password, req.Name)
	if err != nil {
		obs.CountAuth("admin_register", "failure")
		handleClaimError(w, r, err)
		return
	}
	obs.CountAuth("admin_register", "success")
	respond(w, http.StatusCreated, "admin registered", sessionResponse{Token: token, ExpiresAt: expiresAt, User: ident})
}

func (a *API) handleAdminGoogleRegister(w http.ResponseWriter, r *http.Request) {
	if a.google == nil {
		writeError(w, r, http.StatusServiceUnavailable, "google sign-in is not configured")
		return
	}
	var req adminGoogleRegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" || req.Secret == "" {
		writeError(w, r, http.StatusBadRequest, "code and secret are required")
		return
	}

	ext, err := a.google.Exchange(r.Context(), req.Code)
	if err != nil {
		obs.CountAuth("admin_register", "failure")
		writeError(w, r, http.StatusUnauthorized, "code exchange failed")
		return
	}
	ident, token, expiresAt, err := a.svc.RegisterAdminWithGoogle(r.Context(), req.Secret, ext)
	if err != nil {
		obs.CountAuth("admin_register", "failure")
		handleClaimError(w, r, err)
		return
	}
	obs.CountAuth("admin_register", "success")
	respond(w, http.StatusCreated, "admin registered", sessionResponse{Token: token, ExpiresAt: expiresAt, User: ident})
}

func (a *API) handleInvitationRevoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.RevokeInvitation(r.Context(), id); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "invitation revoked", nil)
}

func (a *API) handleSetPermissions(w http.ResponseWriter, r *http.Request) {
	var req setPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	adminID := chi.URLParam(r, "id")
	if err := a.svc.SetAdminPermissions(r.Context(), adminID, req.Permissions); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "permissions updated", nil)
}

// handleClaimError narrows claim failures: a claim against an email with no
// invitation is a caller mistake, not a missing resource.
func handleClaimError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, identity.ErrNotFound) {
		writeError(w, r, http.StatusBadRequest, "no claimable invitation for this email")
		return
	}
	handleIdentityError(w, r, err)
}
