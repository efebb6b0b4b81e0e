package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"policygate.org/internal/audit"
	"policygate.org/internal/obs"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// Syncer triggers a snapshot push after mutations.
type Syncer interface {
	MarkDirty()
	Sync(ctx context.Context) error
}

// Service validates inputs, delegates to the Store and keeps the policy
// engine in sync. Mutations succeed even when the engine push fails; the
// failure is logged and a later sync reconciles.
type Service struct {
	store Store
	sync  Syncer
}

// NewService wires a Service. sync may be nil in tests that do not care
// about engine convergence.
func NewService(store Store, sync Syncer) *Service {
	return &Service{store: store, sync: sync}
}

func (s *Service) CreateApplication(ctx context.Context, app Application) (Application, error) {
	app.ID = strings.TrimSpace(strings.ToLower(app.ID))
	app.Name = strings.TrimSpace(app.Name)
	app.Description = strings.TrimSpace(app.Description)
	app.OwnerID = strings.TrimSpace(app.OwnerID)

	if !idPattern.MatchString(app.ID) {
		return Application{}, fmt.Errorf("%w: application id %q", ErrInvalidInput, app.ID)
	}
	if app.Name == "" {
		return Application{}, fmt.Errorf("%w: application name is required", ErrInvalidInput)
	}

	created, err := s.store.CreateApplication(ctx, app)
	if err != nil {
		return Application{}, err
	}
	audit.Record(ctx, "application.create", map[string]any{"application_id": created.ID})
	return created, nil
}

func (s *Service) GetApplication(ctx context.Context, id string) (Application, error) {
	return s.store.GetApplication(ctx, strings.TrimSpace(id))
}

func (s *Service) ListApplications(ctx context.Context) ([]Application, error) {
	return s.store.ListApplications(ctx)
}

func (s *Service) UpdateApplication(ctx context.Context, id string, upd ApplicationUpdate) (Application, error) {
	id = strings.TrimSpace(id)
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return Application{}, fmt.Errorf("%w: application name cannot be empty", ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	updated, err := s.store.UpdateApplication(ctx, id, upd)
	if err != nil {
		return Application{}, err
	}
	audit.Record(ctx, "application.update", map[string]any{"application_id": id})
	return updated, nil
}

// DeleteApplication removes an application with no remaining role mappings.
// ErrConflict is returned while mappings still reference it.
func (s *Service) DeleteApplication(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.store.DeleteApplication(ctx, id); err != nil {
		return err
	}
	audit.Record(ctx, "application.delete", map[string]any{"application_id": id})
	return nil
}

func (s *Service) CreateRoleMapping(ctx context.Context, m RoleMapping) (RoleMapping, error) {
	m.ApplicationID = strings.TrimSpace(strings.ToLower(m.ApplicationID))
	m.Environment = strings.TrimSpace(strings.ToUpper(m.Environment))
	m.ADGroup = strings.TrimSpace(m.ADGroup)

	if m.ApplicationID == "" {
		return RoleMapping{}, fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	if m.Environment == "" {
		return RoleMapping{}, fmt.Errorf("%w: environment is required", ErrInvalidInput)
	}
	if m.ADGroup == "" {
		return RoleMapping{}, fmt.Errorf("%w: ad group is required", ErrInvalidInput)
	}
	if !m.Role.Valid() {
		return RoleMapping{}, fmt.Errorf("%w: role %q", ErrInvalidInput, m.Role)
	}

	created, err := s.store.CreateRoleMapping(ctx, m)
	if err != nil {
		return RoleMapping{}, err
	}
	audit.Record(ctx, "role_mapping.create", map[string]any{
		"application_id": created.ApplicationID,
		"environment":    created.Environment,
		"ad_group":       created.ADGroup,
		"role":           string(created.Role),
	})
	s.triggerSync(ctx)
	return created, nil
}

func (s *Service) GetRoleMapping(ctx context.Context, id int64) (RoleMapping, error) {
	return s.store.GetRoleMapping(ctx, id)
}

func (s *Service) ListRoleMappings(ctx context.Context, applicationID string) ([]RoleMapping, error) {
	return s.store.ListRoleMappings(ctx, strings.TrimSpace(applicationID))
}

func (s *Service) UpdateRoleMapping(ctx context.Context, id int64, upd RoleMappingUpdate) (RoleMapping, error) {
	if upd.Environment != nil {
		env := strings.TrimSpace(strings.ToUpper(*upd.Environment))
		if env == "" {
			return RoleMapping{}, fmt.Errorf("%w: environment cannot be empty", ErrInvalidInput)
		}
		upd.Environment = &env
	}
	if upd.ADGroup != nil {
		group := strings.TrimSpace(*upd.ADGroup)
		if group == "" {
			return RoleMapping{}, fmt.Errorf("%w: ad group cannot be empty", ErrInvalidInput)
		}
		upd.ADGroup = &group
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return RoleMapping{}, fmt.Errorf("%w: role %q", ErrInvalidInput, *upd.Role)
	}

	updated, err := s.store.UpdateRoleMapping(ctx, id, upd)
	if err != nil {
		return RoleMapping{}, err
	}
	audit.Record(ctx, "role_mapping.update", map[string]any{"role_mapping_id": id})
	s.triggerSync(ctx)
	return updated, nil
}

func (s *Service) DeleteRoleMapping(ctx context.Context, id int64) error {
	if err := s.store.DeleteRoleMapping(ctx, id); err != nil {
		return err
	}
	audit.Record(ctx, "role_mapping.delete", map[string]any{"role_mapping_id": id})
	s.triggerSync(ctx)
	return nil
}

// Sync forces a full snapshot push, e.g. at startup or from the admin API.
func (s *Service) Sync(ctx context.Context) error {
	if s.sync == nil {
		return nil
	}
	return s.sync.Sync(ctx)
}

// triggerSync pushes in the background so request latency does not pay for
// engine round-trips. The context is detached: cancelling the request must
// not abort a push already owed to the engine.
func (s *Service) triggerSync(ctx context.Context) {
	if s.sync == nil {
		return
	}
	s.sync.MarkDirty()
	detached := context.WithoutCancel(ctx)
	go func() {
		if err := s.sync.Sync(detached); err != nil {
			obs.LogEvent("error", "background snapshot sync failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()
}
