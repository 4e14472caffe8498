package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"campusid.org/internal/identity"
	"campusid.org/internal/obs"
)

// envelope is the uniform response shape: success flag, human-readable
// message and an optional payload.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, envelope{
		Success:   false,
		Message:   msg,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// handleIdentityError maps domain sentinels onto status codes. Anything
// unrecognized is logged and reported as a generic internal error.
func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput),
		errors.Is(err, identity.ErrCodeInvalid),
		errors.Is(err, identity.ErrInviteExpired),
		errors.Is(err, identity.ErrInviteConsumed):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrUnauthorized),
		errors.Is(err, identity.ErrUnauthenticated),
		errors.Is(err, identity.ErrMalformedToken),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrTokenRevoked),
		errors.Is(err, identity.ErrInviteSecret):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.LogEvent("error", "request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
