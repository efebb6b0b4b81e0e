package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"policygate.org/internal/blob"
	"policygate.org/internal/eval"
	"policygate.org/internal/health"
	"policygate.org/internal/identity"
	"policygate.org/internal/opa"
	"policygate.org/internal/policies"
	"policygate.org/internal/registry"
)

const testSecret = "test-secret"

// stubEngine is an in-memory policy engine: it remembers pushed data and
// modules, answers candidate-role queries from the pushed snapshot, and can
// be switched into outage mode.
type stubEngine struct {
	mu          sync.Mutex
	snapshot    registry.Snapshot
	modules     map[string]string
	results     map[string]string
	down        bool
	badResponse bool
}

func newStubEngine() *stubEngine {
	return &stubEngine{modules: map[string]string{}, results: map[string]string{}}
}

func (e *stubEngine) PushData(_ context.Context, path string, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.down {
		return opa.ErrUnreachable
	}
	if path == registry.DataPath {
		e.snapshot = data.(registry.Snapshot)
	}
	return nil
}

func (e *stubEngine) PushPolicy(_ context.Context, id, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.down {
		return opa.ErrUnreachable
	}
	e.modules[id] = source
	return nil
}

func (e *stubEngine) DeletePolicy(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.modules, id)
	return nil
}

func (e *stubEngine) CompileCheck(_ context.Context, _ string, source string) (opa.Diagnostics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.down {
		return nil, opa.ErrUnreachable
	}
	if strings.Contains(source, "BROKEN") {
		return opa.Diagnostics{"rego_parse_error: unexpected token"}, nil
	}
	return nil, nil
}

func (e *stubEngine) Query(_ context.Context, path string, input any, out any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.down {
		return opa.ErrUnreachable
	}
	if e.badResponse {
		return fmt.Errorf("decode result: %w", opa.ErrBadResponse)
	}
	if path == eval.QueryPath {
		payload, _ := json.Marshal(input)
		var in struct {
			AppID    string   `json:"app_id"`
			ADGroups []string `json:"ad_groups"`
		}
		_ = json.Unmarshal(payload, &in)

		seen := map[string]bool{}
		var roles []string
		for _, groups := range e.snapshot[in.AppID] {
			for _, g := range in.ADGroups {
				if role, ok := groups[g]; ok && !seen[role] {
					seen[role] = true
					roles = append(roles, role)
				}
			}
		}
		data, _ := json.Marshal(roles)
		return json.Unmarshal(data, out)
	}
	if result, ok := e.results[path]; ok {
		return json.Unmarshal([]byte(result), out)
	}
	return nil
}

func (e *stubEngine) setDown(down bool) {
	e.mu.Lock()
	e.down = down
	e.mu.Unlock()
}

func (e *stubEngine) setBadResponse(bad bool) {
	e.mu.Lock()
	e.badResponse = bad
	e.mu.Unlock()
}

func (e *stubEngine) isDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.down
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	engine  *stubEngine
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	engine := newStubEngine()
	store := registry.NewMemoryStore()
	synchronizer := registry.NewSynchronizer(store, engine, 1, time.Millisecond)
	svc := registry.NewService(store, synchronizer)

	mgr := policies.NewManager(policies.NewMemoryMetadataStore(), blob.NewMemoryStore(), engine)
	evaluator := eval.New(engine, store)
	agg := health.New(time.Second,
		health.Probe{Name: "database", Check: func(context.Context) error { return nil }},
		health.Probe{Name: "policy_engine", Check: func(ctx context.Context) error {
			if engine.isDown() {
				return errors.New("engine down")
			}
			return nil
		}},
	)

	api := New(Config{
		Registry:   svc,
		Evaluator:  evaluator,
		Policies:   mgr,
		Health:     agg,
		Decoder:    identity.NewDecoder(testSecret, "HS256", true),
		AdminGroup: "infodir-admin",
		Version:    "test",
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		engine:  engine,
	}
}

func (c *apiClient) token(employeeID string, groups ...string) string {
	c.t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"employee_id": employeeID,
		"ad_groups":   groups,
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		c.t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (c *apiClient) adminToken() string {
	return c.token("E-admin", "infodir-admin")
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		defer r.Body.Close()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		t.Fatalf("expected status %d, got %d: %s", want, r.StatusCode, buf.String())
	}
}
