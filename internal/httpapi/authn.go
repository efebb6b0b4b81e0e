package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"policygate.org/internal/audit"
	"policygate.org/internal/identity"
)

const authHeader = "Authorization"

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth decodes the bearer token and attaches the caller identity.
// Public paths pass through untouched.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.decoder == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		user, err := a.decoder.Decode(r.Header.Get(authHeader))
		if err != nil {
			if errors.Is(err, identity.ErrAuthentication) {
				writeError(w, r, http.StatusUnauthorized, "authentication failed")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := identity.WithUser(r.Context(), user)
		ctx = audit.WithRequestID(ctx, RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates management mutations on the admin AD group. The return
// value is the caller identity; ok=false means the response is written.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (identity.UserInfo, bool) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return identity.UserInfo{}, false
	}
	if !user.InGroup(a.adminGroup) {
		writeError(w, r, http.StatusForbidden, "administrator group membership required")
		return identity.UserInfo{}, false
	}
	return user, true
}

// requireUser returns the authenticated caller; any valid identity is
// enough for evaluation endpoints.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (identity.UserInfo, bool) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return identity.UserInfo{}, false
	}
	return user, true
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return strings.HasPrefix(path, "/metrics/")
}
