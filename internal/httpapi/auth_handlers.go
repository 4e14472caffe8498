package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"campusid.org/internal/identity"
	"campusid.org/internal/obs"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Device   string `json:"device"`
}

type googleLoginRequest struct {
	Code   string `json:"code"`
	Device string `json:"device"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type completeProfileRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	User      *identity.Identity `json:"user"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if a.limiter != nil {
		locked, ttl, err := a.limiter.NoteSignup(r.Context(), req.Email, clientIP(r))
		if err == nil && locked {
			tooManyAttempts(w, r, ttl)
			return
		}
	}

	ident, err := a.svc.SignupStudent(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		obs.CountAuth("signup", "failure")
		handleIdentityError(w, r, err)
		return
	}
	obs.CountAuth("signup", "success")
	respond(w, http.StatusCreated, "registered, verification code sent", ident)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ip := clientIP(r)
	if a.limiter != nil && a.limiter.IsBanned(r.Context(), ip) {
		tooManyAttempts(w, r, 0)
		return
	}

	ident, token, expiresAt, err := a.svc.Login(r.Context(), req.Email, req.Password, req.Device)
	if err != nil {
		obs.CountAuth("login", "failure")
		if a.limiter != nil && errors.Is(err, identity.ErrUnauthorized) {
			_ = a.limiter.NoteLoginFailure(r.Context(), ip)
		}
		handleIdentityError(w, r, err)
		return
	}
	if a.limiter != nil {
		a.limiter.ResetLogin(r.Context(), ip)
	}
	obs.CountAuth("login", "success")
	respond(w, http.StatusOK, "logged in", sessionResponse{Token: token, ExpiresAt: expiresAt, User: ident})
}

func (a *API) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if a.google == nil {
		writeError(w, r, http.StatusServiceUnavailable, "google sign-in is not configured")
		return
	}
	var req googleLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}

	ext, err := a.google.Exchange(r.Context(), req.Code)
	if err != nil {
		obs.CountAuth("google_login", "failure")
		writeError(w, r, http.StatusUnauthorized, "code exchange failed")
		return
	}
	ident, token, expiresAt, err := a.svc.LoginWithGoogle(r.Context(), ext, req.Device)
	if err != nil {
		obs.CountAuth("google_login", "failure")
		handleIdentityError(w, r, err)
		return
	}
	obs.CountAuth("google_login", "success")
	respond(w, http.StatusOK, "logged in", sessionResponse{Token: token, ExpiresAt: expiresAt, User: ident})
}

func (a *API) handleRequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.dispatchAllowed(w, r, req.Email) {
		return
	}
	if err := a.svc.RequestEmailVerification(r.Context(), req.Email); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.markDispatched(r, req.Email)
	respond(w, http.StatusOK, "if the address is registered, a code was sent", nil)
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.codeAttemptAllowed(w, r, req.Email) {
		return
	}
	if err := a.svc.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		obs.CountAuth("verify_email", "failure")
		handleIdentityError(w, r, err)
		return
	}
	if a.limiter != nil {
		a.limiter.ResetCodeAttempts(r.Context(), req.Email)
	}
	obs.CountAuth("verify_email", "success")
	respond(w, http.StatusOK, "email verified", nil)
}

func (a *API) handleResetPasswordRequest(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.dispatchAllowed(w, r, req.Email) {
		return
	}
	if err := a.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.markDispatched(r, req.Email)
	respond(w, http.StatusOK, "if the address is registered, a code was sent", nil)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.codeAttemptAllowed(w, r, req.Email) {
		return
	}
	if err := a.svc.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		obs.CountAuth("reset_password", "failure")
		handleIdentityError(w, r, err)
		return
	}
	if a.limiter != nil {
		a.limiter.ResetCodeAttempts(r.Context(), req.Email)
	}
	obs.CountAuth("reset_password", "success")
	respond(w, http.StatusOK, "password reset, all sessions revoked", nil)
}

func (a *API) handleAuthData(w http.ResponseWriter, r *http.Request) {
	ident, perms, err := a.svc.AuthData(r.Context())
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	data := map[string]any{"user": ident}
	if perms != nil {
		data["permissions"] = perms
	}
	respond(w, http.StatusOK, "ok", data)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := identity.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := a.svc.RevokeSession(r.Context(), token); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	obs.CountAuth("logout", "success")
	respond(w, http.StatusOK, "logged out", nil)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.svc.RevokeAllSessions(r.Context(), principal.IdentityID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "all sessions revoked", nil)
}

func (a *API) handleCompleteProfile(w http.ResponseWriter, r *http.Request) {
	var req completeProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.CompleteProfile(r.Context(), req.Name); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "profile completed", nil)
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	sessions, err := a.svc.ActiveSessions(r.Context(), principal.IdentityID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", sessions)
}

// dispatchAllowed enforces the per-address cooldown on outbound messages.
func (a *API) dispatchAllowed(w http.ResponseWriter, r *http.Request, email string) bool {
	if a.limiter == nil {
		return true
	}
	if ttl := a.limiter.DispatchTTL(r.Context(), email); ttl > 0 {
		tooManyAttempts(w, r, ttl)
		return false
	}
	return true
}

func (a *API) markDispatched(r *http.Request, email string) {
	if a.limiter != nil {
		a.limiter.MarkDispatched(r.Context(), email)
	}
}

func (a *API) codeAttemptAllowed(w http.ResponseWriter, r *http.Request, email string) bool {
	if a.limiter == nil {
		return true
	}
	locked, ttl, err := a.limiter.NoteCodeAttempt(r.Context(), email)
	if err != nil {
		obs.LogEvent("warn", "code_attempt_counter_failed", map[string]any{"error": err.Error()})
		return true
	}
	if locked {
		tooManyAttempts(w, r, ttl)
		return false
	}
	return true
}

func tooManyAttempts(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(retryAfter / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, r, http.StatusTooManyRequests, "too many attempts, try again later")
}
