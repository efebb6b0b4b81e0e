package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	apps     map[string]Application
	mappings map[int64]RoleMapping
	nextID   int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:     make(map[string]Application),
		mappings: make(map[int64]RoleMapping),
		nextID:   1,
	}
}

func (s *MemoryStore) CreateApplication(_ context.Context, app Application) (Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[app.ID]; ok {
		return Application{}, fmt.Errorf("%w: application %q exists", ErrConflict, app.ID)
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	s.apps[app.ID] = app
	return app, nil
}

func (s *MemoryStore) GetApplication(_ context.Context, id string) (Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return Application{}, fmt.Errorf("%w: application %q", ErrNotFound, id)
	}
	return app, nil
}

func (s *MemoryStore) ListApplications(_ context.Context) ([]Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Application, 0, len(s.apps))
	for _, app := range s.apps {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateApplication(_ context.Context, id string, upd ApplicationUpdate) (Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[id]
	if !ok {
		return Application{}, fmt.Errorf("%w: application %q", ErrNotFound, id)
	}
	if upd.Name != nil {
		app.Name = *upd.Name
	}
	if upd.Description != nil {
		app.Description = *upd.Description
	}
	if upd.OwnerID != nil {
		app.OwnerID = *upd.OwnerID
	}
	app.UpdatedAt = time.Now().UTC()
	s.apps[id] = app
	return app, nil
}

func (s *MemoryStore) DeleteApplication(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[id]; !ok {
		return fmt.Errorf("%w: application %q", ErrNotFound, id)
	}
	for _, m := range s.mappings {
		if m.ApplicationID == id {
			return fmt.Errorf("%w: application %q still has role mappings", ErrConflict, id)
		}
	}
	delete(s.apps, id)
	return nil
}

func (s *MemoryStore) CreateRoleMapping(_ context.Context, m RoleMapping) (RoleMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[m.ApplicationID]; !ok {
		return RoleMapping{}, fmt.Errorf("%w: application %q", ErrNotFound, m.ApplicationID)
	}
	for _, existing := range s.mappings {
		if existing.ApplicationID == m.ApplicationID &&
			existing.Environment == m.Environment &&
			existing.ADGroup == m.ADGroup {
			return RoleMapping{}, fmt.Errorf("%w: mapping for %s/%s/%s exists",
				ErrConflict, m.ApplicationID, m.Environment, m.ADGroup)
		}
	}
	now := time.Now().UTC()
	m.ID = s.nextID
	s.nextID++
	m.CreatedAt = now
	m.UpdatedAt = now
	s.mappings[m.ID] = m
	return m, nil
}

func (s *MemoryStore) GetRoleMapping(_ context.Context, id int64) (RoleMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[id]
	if !ok {
		return RoleMapping{}, fmt.Errorf("%w: role mapping %d", ErrNotFound, id)
	}
	return m, nil
}

func (s *MemoryStore) ListRoleMappings(_ context.Context, applicationID string) ([]RoleMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.apps[applicationID]; !ok {
		return nil, fmt.Errorf("%w: application %q", ErrNotFound, applicationID)
	}
	var out []RoleMapping
	for _, m := range s.mappings {
		if m.ApplicationID == applicationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListAllRoleMappings(_ context.Context) ([]RoleMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RoleMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateRoleMapping(_ context.Context, id int64, upd RoleMappingUpdate) (RoleMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[id]
	if !ok {
		return RoleMapping{}, fmt.Errorf("%w: role mapping %d", ErrNotFound, id)
	}
	next := m
	if upd.Environment != nil {
		next.Environment = *upd.Environment
	}
	if upd.ADGroup != nil {
		next.ADGroup = *upd.ADGroup
	}
	if upd.Role != nil {
		next.Role = *upd.Role
	}
	for _, existing := range s.mappings {
		if existing.ID != id &&
			existing.ApplicationID == next.ApplicationID &&
			existing.Environment == next.Environment &&
			existing.ADGroup == next.ADGroup {
			return RoleMapping{}, fmt.Errorf("%w: mapping for %s/%s/%s exists",
				ErrConflict, next.ApplicationID, next.Environment, next.ADGroup)
		}
	}
	next.UpdatedAt = time.Now().UTC()
	s.mappings[id] = next
	return next, nil
}

func (s *MemoryStore) DeleteRoleMapping(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[id]; !ok {
		return fmt.Errorf("%w: role mapping %d", ErrNotFound, id)
	}
	delete(s.mappings, id)
	return nil
}
