// Package httpapi is the HTTP management and evaluation surface.
package httpapi

import (
	"net/http"
	"time"

	"policygate.org/internal/eval"
	"policygate.org/internal/health"
	"policygate.org/internal/identity"
	"policygate.org/internal/obs"
	"policygate.org/internal/policies"
	"policygate.org/internal/registry"
)

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	registry   *registry.Service
	evaluator  *eval.Evaluator
	policyMgr  *policies.Manager
	healthAgg  *health.Aggregator
	decoder    *identity.Decoder
	adminGroup string
	version    string
}

// Config carries the API's collaborators.
type Config struct {
	Registry   *registry.Service
	Evaluator  *eval.Evaluator
	Policies   *policies.Manager
	Health     *health.Aggregator
	Decoder    *identity.Decoder
	AdminGroup string
	Version    string
}

// New wires routes and returns the API.
func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		registry:   cfg.Registry,
		evaluator:  cfg.Evaluator,
		policyMgr:  cfg.Policies,
		healthAgg:  cfg.Health,
		decoder:    cfg.Decoder,
		adminGroup: cfg.AdminGroup,
		version:    cfg.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/applications", a.handleApplications)
	a.mux.HandleFunc("/v1/applications/", a.handleApplicationResource)
	a.mux.HandleFunc("/v1/role-mappings/", a.handleRoleMappingResource)
	a.mux.HandleFunc("/v1/sync", a.handleSync)

	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermissionResource)

	a.mux.HandleFunc("/v1/policies", a.handlePolicies)
	a.mux.HandleFunc("/v1/policies/validate", a.handlePolicyValidate)
	a.mux.HandleFunc("/v1/policies/", a.handlePolicyResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "policygate-api",
		"version": a.version,
	})
}

// Ready reports aggregated dependency health. 503 while any dependency is
// down, so orchestrators stop routing traffic here.
func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.healthAgg == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	report := a.healthAgg.CheckAll(r.Context())
	code := http.StatusOK
	if report.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "policygate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
