package registry

import "context"

// Store is the persistence contract for applications and role mappings.
// Implementations must return ErrNotFound, ErrConflict and ErrInvalidInput
// as appropriate so callers can map them to transport errors.
type Store interface {
	CreateApplication(ctx context.Context, app Application) (Application, error)
	GetApplication(ctx context.Context, id string) (Application, error)
	ListApplications(ctx context.Context) ([]Application, error)
	UpdateApplication(ctx context.Context, id string, upd ApplicationUpdate) (Application, error)
	// DeleteApplication fails with ErrConflict while role mappings still
	// reference the application.
	DeleteApplication(ctx context.Context, id string) error

	CreateRoleMapping(ctx context.Context, m RoleMapping) (RoleMapping, error)
	GetRoleMapping(ctx context.Context, id int64) (RoleMapping, error)
	ListRoleMappings(ctx context.Context, applicationID string) ([]RoleMapping, error)
	ListAllRoleMappings(ctx context.Context) ([]RoleMapping, error)
	UpdateRoleMapping(ctx context.Context, id int64, upd RoleMappingUpdate) (RoleMapping, error)
	DeleteRoleMapping(ctx context.Context, id int64) error
}
