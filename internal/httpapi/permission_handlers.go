package httpapi

import (
	"net/http"
	"strings"
)

// handlePermissions resolves the caller's role in every application.
func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	decisions, err := a.evaluator.EvaluateAll(r.Context(), user)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"employee_id": user.EmployeeID,
		"permissions": decisions,
	})
}

// handlePermissionResource resolves the caller's role in one application.
func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	appID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	if appID == "" || strings.Contains(appID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	decision, err := a.evaluator.EvaluateOne(r.Context(), user, appID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"employee_id":    user.EmployeeID,
		"application_id": decision.ApplicationID,
		"role":           decision.Role,
	})
}
