package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"policygate.org/internal/audit"
	"policygate.org/internal/policies"
)

type validatePolicyRequest struct {
	// ID is optional; when set, the module's package declaration is
	// checked against the policy's namespace as well.
	ID     string `json:"id"`
	Source string `json:"source"`
}

type uploadPolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

type evaluatePolicyRequest struct {
	Input json.RawMessage `json:"input"`
}

func (a *API) handlePolicyValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	var req validatePolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.policyMgr.Validate(r.Context(), req.ID, req.Source); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (a *API) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireUser(w, r); !ok {
			return
		}
		list, err := a.policyMgr.List(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"policies": list})
	case http.MethodPost:
		user, ok := a.requireAdmin(w, r)
		if !ok {
			return
		}
		var req uploadPolicyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.policyMgr.Upload(r.Context(), policies.UploadRequest{
			ID:          req.ID,
			Name:        req.Name,
			Description: req.Description,
			CreatorID:   user.EmployeeID,
			Source:      req.Source,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.Record(r.Context(), "policy.upload", map[string]any{
			"policy_id":     p.ID,
			"version":       p.Version,
			"engine_loaded": p.EngineLoaded,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/policies/%s", p.ID))
		writeJSON(w, http.StatusCreated, p)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePolicyResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/policies/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	policyID := parts[0]

	switch {
	case len(parts) == 1:
		a.getPolicy(w, r, policyID)
	case len(parts) == 2 && parts[1] == "versions":
		a.listPolicyVersions(w, r, policyID)
	case len(parts) == 2 && parts[1] == "source":
		a.getPolicySource(w, r, policyID)
	case len(parts) == 2 && parts[1] == "reload":
		a.reloadPolicy(w, r, policyID)
	case len(parts) == 2 && parts[1] == "evaluate":
		a.evaluatePolicy(w, r, policyID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getPolicy(w http.ResponseWriter, r *http.Request, policyID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	p, err := a.policyMgr.Get(r.Context(), policyID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listPolicyVersions(w http.ResponseWriter, r *http.Request, policyID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	versions, err := a.policyMgr.ListVersions(r.Context(), policyID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (a *API) getPolicySource(w http.ResponseWriter, r *http.Request, policyID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, r, http.StatusBadRequest, "version must be a positive integer")
			return
		}
		version = v
	}
	source, err := a.policyMgr.GetSource(r.Context(), policyID, version)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(source))
}

func (a *API) reloadPolicy(w http.ResponseWriter, r *http.Request, policyID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	p, err := a.policyMgr.Reload(r.Context(), policyID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), "policy.reload", map[string]any{
		"policy_id": p.ID,
		"version":   p.Version,
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) evaluatePolicy(w http.ResponseWriter, r *http.Request, policyID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	var req evaluatePolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var input any
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &input); err != nil {
			writeError(w, r, http.StatusBadRequest, "input must be valid JSON")
			return
		}
	}
	result, err := a.policyMgr.Evaluate(r.Context(), policyID, input)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}
