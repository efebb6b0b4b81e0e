package eval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"policygate.org/internal/identity"
	"policygate.org/internal/opa"
	"policygate.org/internal/registry"
)

// snapshotEngine mimics the engine's candidate_roles rule against an
// in-memory role-mapping snapshot.
type snapshotEngine struct {
	snap registry.Snapshot
	fail error
}

func (f *snapshotEngine) Query(_ context.Context, path string, input any, out any) error {
	if f.fail != nil {
		return f.fail
	}
	if path != QueryPath {
		return errors.New("unexpected query path " + path)
	}
	in := input.(queryInput)
	seen := map[string]bool{}
	var roles []string
	for _, groups := range f.snap[in.AppID] {
		for _, g := range in.ADGroups {
			if role, ok := groups[g]; ok && !seen[role] {
				seen[role] = true
				roles = append(roles, role)
			}
		}
	}
	*out.(*[]string) = roles
	return nil
}

func seededApps(t *testing.T, ids ...string) *registry.MemoryStore {
	t.Helper()
	store := registry.NewMemoryStore()
	for _, id := range ids {
		if _, err := store.CreateApplication(context.Background(), registry.Application{ID: id, Name: id}); err != nil {
			t.Fatalf("seed app %s: %v", id, err)
		}
	}
	return store
}

func TestReducePrecedence(t *testing.T) {
	cases := []struct {
		in   []string
		want registry.Role
	}{
		{nil, registry.RoleNone},
		{[]string{"user"}, registry.RoleUser},
		{[]string{"admin"}, registry.RoleAdmin},
		{[]string{"user", "admin"}, registry.RoleAdmin},
		{[]string{"admin", "user"}, registry.RoleAdmin},
		{[]string{"owner", "user"}, registry.RoleUser},
		{[]string{"garbage"}, registry.RoleNone},
	}
	for _, tc := range cases {
		if got := Reduce(tc.in); got != tc.want {
			t.Fatalf("Reduce(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestEvaluateOneAdminWinsAcrossEnvironments(t *testing.T) {
	// User in DEV and admin in PROD of the same application resolves to
	// admin for the application.
	engine := &snapshotEngine{snap: registry.Snapshot{
		"app-a": {
			"DEV":  {"app-a-users": "user"},
			"PROD": {"app-a-ops": "admin"},
		},
	}}
	ev := New(engine, seededApps(t, "app-a"))

	user := identity.UserInfo{EmployeeID: "E1", ADGroups: []string{"app-a-users", "app-a-ops"}}
	d, err := ev.EvaluateOne(context.Background(), user, "app-a")
	if err != nil {
		t.Fatalf("EvaluateOne: %v", err)
	}
	if d.Role != registry.RoleAdmin {
		t.Fatalf("expected admin, got %s", d.Role)
	}
}

func TestEvaluateOneNoMatch(t *testing.T) {
	engine := &snapshotEngine{snap: registry.Snapshot{
		"app-a": {"DEV": {"other-group": "admin"}},
	}}
	ev := New(engine, seededApps(t, "app-a"))

	user := identity.UserInfo{EmployeeID: "E1", ADGroups: []string{"unrelated"}}
	d, err := ev.EvaluateOne(context.Background(), user, "app-a")
	if err != nil {
		t.Fatalf("EvaluateOne: %v", err)
	}
	if d.Role != registry.RoleNone {
		t.Fatalf("expected none, got %s", d.Role)
	}
}

func TestEvaluateOneUnknownApplication(t *testing.T) {
	ev := New(&snapshotEngine{}, seededApps(t))

	_, err := ev.EvaluateOne(context.Background(), identity.UserInfo{EmployeeID: "E1"}, "ghost")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvaluateAll(t *testing.T) {
	engine := &snapshotEngine{snap: registry.Snapshot{
		"app-a": {"DEV": {"devs": "user"}},
		"app-b": {"PROD": {"ops": "admin"}},
	}}
	ev := New(engine, seededApps(t, "app-a", "app-b", "app-c"))

	user := identity.UserInfo{EmployeeID: "E1", ADGroups: []string{"devs", "ops"}}
	decisions, err := ev.EvaluateAll(context.Background(), user)
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}

	byApp := map[string]registry.Role{}
	for _, d := range decisions {
		byApp[d.ApplicationID] = d.Role
	}
	if byApp["app-a"] != registry.RoleUser {
		t.Fatalf("app-a: got %s", byApp["app-a"])
	}
	if byApp["app-b"] != registry.RoleAdmin {
		t.Fatalf("app-b: got %s", byApp["app-b"])
	}
	if byApp["app-c"] != registry.RoleNone {
		t.Fatalf("app-c: got %s", byApp["app-c"])
	}
}

func TestEvaluateEngineFailure(t *testing.T) {
	engine := &snapshotEngine{fail: errors.New("connection refused")}
	ev := New(engine, seededApps(t, "app-a"))

	_, err := ev.EvaluateOne(context.Background(), identity.UserInfo{EmployeeID: "E1"}, "app-a")
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected ErrEvaluation, got %v", err)
	}
}

func TestEvaluateKeepsEngineCause(t *testing.T) {
	engine := &snapshotEngine{fail: fmt.Errorf("decode result: %w", opa.ErrBadResponse)}
	ev := New(engine, seededApps(t, "app-a"))

	_, err := ev.EvaluateOne(context.Background(), identity.UserInfo{EmployeeID: "E1"}, "app-a")
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected ErrEvaluation, got %v", err)
	}
	if !errors.Is(err, opa.ErrBadResponse) {
		t.Fatalf("engine cause lost from the chain: %v", err)
	}
}
