package registry

import (
	"context"
	"errors"
	"testing"
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, nil), store
}

func mustCreateApp(t *testing.T, svc *Service, id string) Application {
	t.Helper()
	app, err := svc.CreateApplication(context.Background(), Application{ID: id, Name: id + " name"})
	if err != nil {
		t.Fatalf("CreateApplication(%s): %v", id, err)
	}
	return app
}

func TestCreateApplicationValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		app  Application
	}{
		{"empty id", Application{Name: "x"}},
		{"bad id chars", Application{ID: "App A!", Name: "x"}},
		{"missing name", Application{ID: "app-a"}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateApplication(ctx, tc.app); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestCreateApplicationConflict(t *testing.T) {
	svc, _ := newTestService()
	mustCreateApp(t, svc, "app-a")

	_, err := svc.CreateApplication(context.Background(), Application{ID: "app-a", Name: "dup"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDeleteApplicationBlockedByMappings(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	mustCreateApp(t, svc, "app-a")

	if _, err := svc.CreateRoleMapping(ctx, RoleMapping{
		ApplicationID: "app-a", Environment: "dev", ADGroup: "g", Role: RoleUser,
	}); err != nil {
		t.Fatalf("CreateRoleMapping: %v", err)
	}

	if err := svc.DeleteApplication(ctx, "app-a"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mappings, err := svc.ListRoleMappings(ctx, "app-a")
	if err != nil {
		t.Fatalf("ListRoleMappings: %v", err)
	}
	if err := svc.DeleteRoleMapping(ctx, mappings[0].ID); err != nil {
		t.Fatalf("DeleteRoleMapping: %v", err)
	}
	if err := svc.DeleteApplication(ctx, "app-a"); err != nil {
		t.Fatalf("DeleteApplication after cleanup: %v", err)
	}
}

func TestCreateRoleMappingNormalizesAndValidates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	mustCreateApp(t, svc, "app-a")

	m, err := svc.CreateRoleMapping(ctx, RoleMapping{
		ApplicationID: " App-A ", Environment: " dev ", ADGroup: " app-a-users ", Role: RoleUser,
	})
	if err != nil {
		t.Fatalf("CreateRoleMapping: %v", err)
	}
	if m.ApplicationID != "app-a" || m.Environment != "DEV" || m.ADGroup != "app-a-users" {
		t.Fatalf("normalization failed: %+v", m)
	}

	_, err = svc.CreateRoleMapping(ctx, RoleMapping{
		ApplicationID: "app-a", Environment: "dev", ADGroup: "x", Role: Role("owner"),
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad role, got %v", err)
	}

	_, err = svc.CreateRoleMapping(ctx, RoleMapping{
		ApplicationID: "app-a", Environment: "dev", ADGroup: "x", Role: RoleNone,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("role none must not be storable, got %v", err)
	}
}

func TestCreateRoleMappingUniqueTriple(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	mustCreateApp(t, svc, "app-a")

	base := RoleMapping{ApplicationID: "app-a", Environment: "DEV", ADGroup: "g", Role: RoleUser}
	if _, err := svc.CreateRoleMapping(ctx, base); err != nil {
		t.Fatalf("first create: %v", err)
	}
	base.Role = RoleAdmin
	if _, err := svc.CreateRoleMapping(ctx, base); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate triple, got %v", err)
	}
}

func TestCreateRoleMappingUnknownApplication(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateRoleMapping(context.Background(), RoleMapping{
		ApplicationID: "ghost", Environment: "DEV", ADGroup: "g", Role: RoleUser,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRoleMappingConflictOnCollision(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	mustCreateApp(t, svc, "app-a")

	first, _ := svc.CreateRoleMapping(ctx, RoleMapping{
		ApplicationID: "app-a", Environment: "DEV", ADGroup: "g1", Role: RoleUser,
	})
	second, _ := svc.CreateRoleMapping(ctx, RoleMapping{
		ApplicationID: "app-a", Environment: "DEV", ADGroup: "g2", Role: RoleUser,
	})

	collide := "g1"
	_, err := svc.UpdateRoleMapping(ctx, second.ID, RoleMappingUpdate{ADGroup: &collide})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	role := RoleAdmin
	updated, err := svc.UpdateRoleMapping(ctx, first.ID, RoleMappingUpdate{Role: &role})
	if err != nil {
		t.Fatalf("UpdateRoleMapping: %v", err)
	}
	if updated.Role != RoleAdmin {
		t.Fatalf("role not updated: %+v", updated)
	}
}

func TestRoleRank(t *testing.T) {
	if RoleAdmin.Rank() <= RoleUser.Rank() || RoleUser.Rank() <= RoleNone.Rank() {
		t.Fatal("role ordering must be admin > user > none")
	}
}
