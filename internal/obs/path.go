package obs

import "strings"

// CanonicalPath collapses per-resource path segments so metric labels stay
// low-cardinality. Identifiers under /v1/admin are replaced with :id.
func CanonicalPath(raw string) string {
	if raw == "" {
		return "/"
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[3] == "permissions":
		return "/v1/admin/:id/permissions"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "invitations" && parts[4] == "revoke":
		return "/v1/admin/invitations/:id/revoke"
	}
	if raw == "" {
		return "/"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return raw
}
