package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"policygate.org/internal/registry"
)

type createApplicationRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
}

type updateApplicationRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	OwnerID     *string `json:"owner_id"`
}

type createRoleMappingRequest struct {
	Environment string `json:"environment"`
	ADGroup     string `json:"ad_group"`
	Role        string `json:"role"`
}

type updateRoleMappingRequest struct {
	Environment *string `json:"environment"`
	ADGroup     *string `json:"ad_group"`
	Role        *string `json:"role"`
}

func (a *API) handleApplications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireUser(w, r); !ok {
			return
		}
		apps, err := a.registry.ListApplications(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
	case http.MethodPost:
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		var req createApplicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		app, err := a.registry.CreateApplication(r.Context(), registry.Application{
			ID:          req.ID,
			Name:        req.Name,
			Description: req.Description,
			OwnerID:     req.OwnerID,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/applications/%s", app.ID))
		writeJSON(w, http.StatusCreated, app)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleApplicationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/applications/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	appID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleApplication(w, r, appID)
	case len(parts) == 2 && parts[1] == "role-mappings":
		a.handleApplicationMappings(w, r, appID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleApplication(w http.ResponseWriter, r *http.Request, appID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireUser(w, r); !ok {
			return
		}
		app, err := a.registry.GetApplication(r.Context(), appID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
	case http.MethodPatch:
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		var req updateApplicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		app, err := a.registry.UpdateApplication(r.Context(), appID, registry.ApplicationUpdate{
			Name:        req.Name,
			Description: req.Description,
			OwnerID:     req.OwnerID,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
	case http.MethodDelete:
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		if err := a.registry.DeleteApplication(r.Context(), appID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleApplicationMappings(w http.ResponseWriter, r *http.Request, appID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireUser(w, r); !ok {
			return
		}
		mappings, err := a.registry.ListRoleMappings(r.Context(), appID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"role_mappings": mappings})
	case http.MethodPost:
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		var req createRoleMappingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		m, err := a.registry.CreateRoleMapping(r.Context(), registry.RoleMapping{
			ApplicationID: appID,
			Environment:   req.Environment,
			ADGroup:       req.ADGroup,
			Role:          registry.Role(req.Role),
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/role-mappings/%d", m.ID))
		writeJSON(w, http.StatusCreated, m)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleMappingResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/role-mappings/"), "/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireUser(w, r); !ok {
			return
		}
		m, err := a.registry.GetRoleMapping(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case http.MethodPatch:
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		var req updateRoleMappingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var upd registry.RoleMappingUpdate
		upd.Environment = req.Environment
		upd.ADGroup = req.ADGroup
		if req.Role != nil {
			role := registry.Role(*req.Role)
			upd.Role = &role
		}
		m, err := a.registry.UpdateRoleMapping(r.Context(), id, upd)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case http.MethodDelete:
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		if err := a.registry.DeleteRoleMapping(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// handleSync forces a full snapshot push to the engine.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	if err := a.registry.Sync(r.Context()); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "synced"})
}
