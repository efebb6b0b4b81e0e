package httpapi

import (
	"net/http"
	"testing"

	"policygate.org/internal/policies"
	"policygate.org/internal/registry"
)

func TestPublicEndpointsNeedNoToken(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/metrics"} {
		resp := api.get(path, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/applications", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestMutationsRequireAdminGroup(t *testing.T) {
	api := newTestAPI(t)
	user := api.token("E1", "some-group")

	resp := api.post("/v1/applications", map[string]any{"id": "app-a", "name": "App A"}, user)
	expectStatus(t, resp, http.StatusForbidden)
}

func TestApplicationLifecycle(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	resp := api.post("/v1/applications", map[string]any{
		"id": "app-a", "name": "App A", "description": "first app",
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	app := decode[registry.Application](t, resp)
	if app.ID != "app-a" {
		t.Fatalf("unexpected application: %+v", app)
	}

	// Duplicate id conflicts.
	resp = api.post("/v1/applications", map[string]any{"id": "app-a", "name": "dup"}, admin)
	expectStatus(t, resp, http.StatusConflict)

	// Invalid id rejected.
	resp = api.post("/v1/applications", map[string]any{"id": "Bad ID!", "name": "x"}, admin)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = api.get("/v1/applications/app-a", nil, api.token("E2", "g"))
	expectStatus(t, resp, http.StatusOK)

	resp = api.get("/v1/applications/ghost", nil, admin)
	expectStatus(t, resp, http.StatusNotFound)

	resp = api.do(http.MethodDelete, "/v1/applications/app-a", nil, admin)
	expectStatus(t, resp, http.StatusNoContent)
}

func TestRoleMappingLifecycleAndEvaluation(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	resp := api.post("/v1/applications", map[string]any{"id": "app-a", "name": "App A"}, admin)
	expectStatus(t, resp, http.StatusCreated)

	resp = api.post("/v1/applications/app-a/role-mappings", map[string]any{
		"environment": "dev", "ad_group": "app-a-users", "role": "user",
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	mapping := decode[registry.RoleMapping](t, resp)
	if mapping.Environment != "DEV" {
		t.Fatalf("environment not normalized: %+v", mapping)
	}

	resp = api.post("/v1/applications/app-a/role-mappings", map[string]any{
		"environment": "prod", "ad_group": "app-a-ops", "role": "admin",
	}, admin)
	expectStatus(t, resp, http.StatusCreated)

	// Duplicate triple conflicts.
	resp = api.post("/v1/applications/app-a/role-mappings", map[string]any{
		"environment": "DEV", "ad_group": "app-a-users", "role": "admin",
	}, admin)
	expectStatus(t, resp, http.StatusConflict)

	// Bad role rejected.
	resp = api.post("/v1/applications/app-a/role-mappings", map[string]any{
		"environment": "DEV", "ad_group": "x", "role": "owner",
	}, admin)
	expectStatus(t, resp, http.StatusBadRequest)

	// Deleting the application is blocked while mappings exist.
	resp = api.do(http.MethodDelete, "/v1/applications/app-a", nil, admin)
	expectStatus(t, resp, http.StatusConflict)

	// Force a deterministic snapshot push, then evaluate.
	resp = api.post("/v1/sync", nil, admin)
	expectStatus(t, resp, http.StatusOK)

	// Caller holds both groups: admin in PROD beats user in DEV.
	caller := api.token("E9", "app-a-users", "app-a-ops")
	resp = api.get("/v1/permissions/app-a", nil, caller)
	expectStatus(t, resp, http.StatusOK)
	decision := decode[map[string]any](t, resp)
	if decision["role"] != "admin" {
		t.Fatalf("expected admin, got %v", decision["role"])
	}

	// A caller with no matching groups gets none.
	outsider := api.token("E10", "unrelated")
	resp = api.get("/v1/permissions/app-a", nil, outsider)
	expectStatus(t, resp, http.StatusOK)
	decision = decode[map[string]any](t, resp)
	if decision["role"] != "none" {
		t.Fatalf("expected none, got %v", decision["role"])
	}

	// EvaluateAll lists every application.
	resp = api.get("/v1/permissions", nil, caller)
	expectStatus(t, resp, http.StatusOK)
	all := decode[struct {
		Permissions []struct {
			ApplicationID string `json:"application_id"`
			Role          string `json:"role"`
		} `json:"permissions"`
	}](t, resp)
	if len(all.Permissions) != 1 || all.Permissions[0].Role != "admin" {
		t.Fatalf("unexpected permissions: %+v", all.Permissions)
	}
}

func TestPermissionsUnknownApplication(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/permissions/ghost", nil, api.token("E1", "g"))
	expectStatus(t, resp, http.StatusNotFound)
}

func TestEngineOutageSurfacesAs503(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	resp := api.post("/v1/applications", map[string]any{"id": "app-a", "name": "App A"}, admin)
	expectStatus(t, resp, http.StatusCreated)

	api.engine.setDown(true)

	resp = api.get("/v1/permissions/app-a", nil, api.token("E1", "g"))
	expectStatus(t, resp, http.StatusServiceUnavailable)

	resp = api.post("/v1/sync", nil, admin)
	expectStatus(t, resp, http.StatusServiceUnavailable)

	// Readiness degrades with the engine.
	resp = api.get("/readyz", nil, "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
}

func TestPolicyUploadAndEvaluate(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	source := "package custom.limits\n\nallow := input.amount < 100\n"
	resp := api.post("/v1/policies", map[string]any{
		"id": "limits", "name": "Limits", "description": "limit check", "source": source,
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	p := decode[policies.CustomPolicy](t, resp)
	if p.Version != 1 || !p.EngineLoaded || p.CreatorID != "E-admin" || p.Name != "Limits" {
		t.Fatalf("unexpected policy: %+v", p)
	}

	// Second upload becomes version 2.
	resp = api.post("/v1/policies", map[string]any{"id": "limits", "name": "Limits", "source": source}, admin)
	expectStatus(t, resp, http.StatusCreated)
	p2 := decode[policies.CustomPolicy](t, resp)
	if p2.Version != 2 {
		t.Fatalf("expected version 2, got %d", p2.Version)
	}

	resp = api.get("/v1/policies/limits/versions", nil, api.token("E1", "g"))
	expectStatus(t, resp, http.StatusOK)
	versions := decode[struct {
		Versions []policies.CustomPolicy `json:"versions"`
	}](t, resp)
	if len(versions.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions.Versions))
	}

	api.engine.results["custom/limits"] = `{"allow":true}`
	resp = api.post("/v1/policies/limits/evaluate", map[string]any{
		"input": map[string]any{"amount": 10},
	}, api.token("E1", "g"))
	expectStatus(t, resp, http.StatusOK)
	result := decode[map[string]any](t, resp)
	inner, ok := result["result"].(map[string]any)
	if !ok || inner["allow"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPolicyValidateEndpoint(t *testing.T) {
	api := newTestAPI(t)
	user := api.token("E1", "g")

	resp := api.post("/v1/policies/validate", map[string]any{"source": "package ok"}, user)
	expectStatus(t, resp, http.StatusOK)

	resp = api.post("/v1/policies/validate", map[string]any{"source": "package x\nBROKEN"}, user)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	body := decode[map[string]any](t, resp)
	if body["diagnostics"] == nil {
		t.Fatalf("expected diagnostics in response: %+v", body)
	}

	// With an id the module must declare that policy's package.
	resp = api.post("/v1/policies/validate", map[string]any{
		"id": "limits", "source": "package custom.other\n\nallow := true\n",
	}, user)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestPolicyUploadRejectsForeignPackage(t *testing.T) {
	api := newTestAPI(t)

	// A module aimed at the base evaluation package must never load.
	resp := api.post("/v1/policies", map[string]any{
		"id":     "limits",
		"name":   "Limits",
		"source": "package permissions\n\ncandidate_roles contains \"admin\" if true\n",
	}, api.adminToken())
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	body := decode[map[string]any](t, resp)
	if body["diagnostics"] == nil {
		t.Fatalf("expected diagnostics in response: %+v", body)
	}

	api.engine.mu.Lock()
	_, loaded := api.engine.modules["custom/limits"]
	api.engine.mu.Unlock()
	if loaded {
		t.Fatal("rejected module must not reach the engine")
	}
}

func TestMalformedEngineResponseIsInternalError(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	resp := api.post("/v1/applications", map[string]any{"id": "app-a", "name": "App A"}, admin)
	expectStatus(t, resp, http.StatusCreated)

	api.engine.setBadResponse(true)

	resp = api.get("/v1/permissions/app-a", nil, api.token("E1", "g"))
	expectStatus(t, resp, http.StatusInternalServerError)
}

func TestPolicyUploadRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/policies", map[string]any{
		"id": "limits", "source": "package custom.limits",
	}, api.token("E1", "g"))
	expectStatus(t, resp, http.StatusForbidden)
}

func TestPolicyReloadRepairsOutage(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()
	source := "package custom.limits\n\nallow := true\n"

	// Upload baseline, then simulate losing only the final engine load by
	// uploading during an outage window after validation works again.
	resp := api.post("/v1/policies", map[string]any{"id": "limits", "name": "Limits", "source": source}, admin)
	expectStatus(t, resp, http.StatusCreated)

	// Engine restart loses the module.
	api.engine.mu.Lock()
	delete(api.engine.modules, "custom/limits")
	api.engine.mu.Unlock()

	resp = api.post("/v1/policies/limits/reload", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	p := decode[policies.CustomPolicy](t, resp)
	if !p.EngineLoaded {
		t.Fatalf("reload must mark policy loaded: %+v", p)
	}

	api.engine.mu.Lock()
	_, present := api.engine.modules["custom/limits"]
	api.engine.mu.Unlock()
	if !present {
		t.Fatal("engine module not restored")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodDelete, "/v1/permissions", nil, api.token("E1", "g"))
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	if allow := resp.Header.Get("Allow"); allow == "" {
		t.Fatal("expected Allow header")
	}
}
