package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"policygate.org/internal/registry"
)

var _ registry.Store = (*Store)(nil)

func (s *Store) CreateApplication(ctx context.Context, app registry.Application) (registry.Application, error) {
	if s.db == nil {
		return registry.Application{}, errors.New("database connection unavailable")
	}
	var (
		out   registry.Application
		desc  sql.NullString
		owner sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into applications (id, name, description, owner_id)
		values ($1, $2, $3, $4)
		returning id, name, description, owner_id, created_at, updated_at
	`, app.ID, app.Name, nullIfEmpty(app.Description), nullIfEmpty(app.OwnerID))
	if err := row.Scan(&out.ID, &out.Name, &desc, &owner, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return registry.Application{}, registry.ErrConflict
		}
		return registry.Application{}, err
	}
	if desc.Valid {
		out.Description = desc.String
	}
	if owner.Valid {
		out.OwnerID = owner.String
	}
	return out, nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (registry.Application, error) {
	if s.db == nil {
		return registry.Application{}, errors.New("database connection unavailable")
	}
	var (
		out   registry.Application
		desc  sql.NullString
		owner sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, owner_id, created_at, updated_at
		from applications
		where id = $1
	`, id)
	if err := row.Scan(&out.ID, &out.Name, &desc, &owner, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Application{}, registry.ErrNotFound
		}
		return registry.Application{}, err
	}
	if desc.Valid {
		out.Description = desc.String
	}
	if owner.Valid {
		out.OwnerID = owner.String
	}
	return out, nil
}

func (s *Store) ListApplications(ctx context.Context) ([]registry.Application, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, owner_id, created_at, updated_at
		from applications
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []registry.Application
	for rows.Next() {
		var (
			app   registry.Application
			desc  sql.NullString
			owner sql.NullString
		)
		if err := rows.Scan(&app.ID, &app.Name, &desc, &owner, &app.CreatedAt, &app.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			app.Description = desc.String
		}
		if owner.Valid {
			app.OwnerID = owner.String
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

func (s *Store) UpdateApplication(ctx context.Context, id string, upd registry.ApplicationUpdate) (registry.Application, error) {
	if s.db == nil {
		return registry.Application{}, errors.New("database connection unavailable")
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if upd.OwnerID != nil {
		setClauses = append(setClauses, fmt.Sprintf("owner_id = $%d", idx))
		args = append(args, nullIfEmpty(*upd.OwnerID))
		idx++
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update applications set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return registry.Application{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return registry.Application{}, err
		}
		if aff == 0 {
			return registry.Application{}, registry.ErrNotFound
		}
	}
	return s.GetApplication(ctx, id)
}

func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from applications where id = $1`, id)
	if err != nil {
		// FK restrict: role mappings still reference the application.
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return registry.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *Store) CreateRoleMapping(ctx context.Context, m registry.RoleMapping) (registry.RoleMapping, error) {
	if s.db == nil {
		return registry.RoleMapping{}, errors.New("database connection unavailable")
	}
	var out registry.RoleMapping
	row := s.db.QueryRowContext(ctx, `
		insert into role_mappings (application_id, environment, ad_group, role)
		values ($1, $2, $3, $4)
		returning id, application_id, environment, ad_group, role, created_at, updated_at
	`, m.ApplicationID, m.Environment, m.ADGroup, string(m.Role))
	if err := row.Scan(&out.ID, &out.ApplicationID, &out.Environment, &out.ADGroup, &out.Role, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return registry.RoleMapping{}, registry.ErrConflict
			case pgErrForeignKeyViolation:
				return registry.RoleMapping{}, registry.ErrNotFound
			}
		}
		return registry.RoleMapping{}, err
	}
	return out, nil
}

func (s *Store) GetRoleMapping(ctx context.Context, id int64) (registry.RoleMapping, error) {
	if s.db == nil {
		return registry.RoleMapping{}, errors.New("database connection unavailable")
	}
	var out registry.RoleMapping
	row := s.db.QueryRowContext(ctx, `
		select id, application_id, environment, ad_group, role, created_at, updated_at
		from role_mappings
		where id = $1
	`, id)
	if err := row.Scan(&out.ID, &out.ApplicationID, &out.Environment, &out.ADGroup, &out.Role, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.RoleMapping{}, registry.ErrNotFound
		}
		return registry.RoleMapping{}, err
	}
	return out, nil
}

func (s *Store) ListRoleMappings(ctx context.Context, applicationID string) ([]registry.RoleMapping, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if _, err := s.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	return s.queryMappings(ctx, `
		select id, application_id, environment, ad_group, role, created_at, updated_at
		from role_mappings
		where application_id = $1
		order by id
	`, applicationID)
}

func (s *Store) ListAllRoleMappings(ctx context.Context) ([]registry.RoleMapping, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return s.queryMappings(ctx, `
		select id, application_id, environment, ad_group, role, created_at, updated_at
		from role_mappings
		order by id
	`)
}

func (s *Store) queryMappings(ctx context.Context, query string, args ...any) ([]registry.RoleMapping, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []registry.RoleMapping
	for rows.Next() {
		var m registry.RoleMapping
		if err := rows.Scan(&m.ID, &m.ApplicationID, &m.Environment, &m.ADGroup, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) UpdateRoleMapping(ctx context.Context, id int64, upd registry.RoleMappingUpdate) (registry.RoleMapping, error) {
	if s.db == nil {
		return registry.RoleMapping{}, errors.New("database connection unavailable")
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Environment != nil {
		setClauses = append(setClauses, fmt.Sprintf("environment = $%d", idx))
		args = append(args, *upd.Environment)
		idx++
	}
	if upd.ADGroup != nil {
		setClauses = append(setClauses, fmt.Sprintf("ad_group = $%d", idx))
		args = append(args, *upd.ADGroup)
		idx++
	}
	if upd.Role != nil {
		setClauses = append(setClauses, fmt.Sprintf("role = $%d", idx))
		args = append(args, string(*upd.Role))
		idx++
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update role_mappings set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return registry.RoleMapping{}, registry.ErrConflict
			}
			return registry.RoleMapping{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return registry.RoleMapping{}, err
		}
		if aff == 0 {
			return registry.RoleMapping{}, registry.ErrNotFound
		}
	}
	return s.GetRoleMapping(ctx, id)
}

func (s *Store) DeleteRoleMapping(ctx context.Context, id int64) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from role_mappings where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return registry.ErrNotFound
	}
	return nil
}
