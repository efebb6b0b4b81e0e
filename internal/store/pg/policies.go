package pg

import (
	"context"
	"database/sql"
	"errors"

	"policygate.org/internal/policies"
)

var _ policies.MetadataStore = (*Store)(nil)

// CreateVersion inserts a policy version exactly as given. The caller picks
// the version number after storing the source blob; a concurrent upload
// that picked the same number loses on the (id, version) primary key and
// gets ErrConflict.
func (s *Store) CreateVersion(ctx context.Context, p policies.CustomPolicy) (policies.CustomPolicy, error) {
	if s.db == nil {
		return policies.CustomPolicy{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into custom_policies (id, version, name, description, creator_id, storage_key, engine_loaded)
		values ($1, $2, $3, $4, $5, $6, false)
		returning id, version, name, description, creator_id, storage_key, engine_loaded, created_at
	`, p.ID, p.Version, p.Name, nullIfEmpty(p.Description), p.CreatorID, p.StorageKey)
	out, err := scanPolicyRow(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return policies.CustomPolicy{}, policies.ErrConflict
		}
		return policies.CustomPolicy{}, err
	}
	return out, nil
}

func (s *Store) GetLatest(ctx context.Context, id string) (policies.CustomPolicy, error) {
	if s.db == nil {
		return policies.CustomPolicy{}, errors.New("database connection unavailable")
	}
	return s.scanPolicy(s.db.QueryRowContext(ctx, `
		select id, version, name, description, creator_id, storage_key, engine_loaded, created_at
		from custom_policies
		where id = $1
		order by version desc
		limit 1
	`, id))
}

func (s *Store) GetVersion(ctx context.Context, id string, version int) (policies.CustomPolicy, error) {
	if s.db == nil {
		return policies.CustomPolicy{}, errors.New("database connection unavailable")
	}
	return s.scanPolicy(s.db.QueryRowContext(ctx, `
		select id, version, name, description, creator_id, storage_key, engine_loaded, created_at
		from custom_policies
		where id = $1 and version = $2
	`, id, version))
}

func (s *Store) ListLatest(ctx context.Context) ([]policies.CustomPolicy, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return s.queryPolicies(ctx, `
		select distinct on (id)
		       id, version, name, description, creator_id, storage_key, engine_loaded, created_at
		from custom_policies
		order by id, version desc
	`)
}

func (s *Store) ListVersions(ctx context.Context, id string) ([]policies.CustomPolicy, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	out, err := s.queryPolicies(ctx, `
		select id, version, name, description, creator_id, storage_key, engine_loaded, created_at
		from custom_policies
		where id = $1
		order by version
	`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, policies.ErrNotFound
	}
	return out, nil
}

func (s *Store) MarkLoaded(ctx context.Context, id string, version int, loaded bool) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update custom_policies set engine_loaded = $3 where id = $1 and version = $2
	`, id, version, loaded)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return policies.ErrNotFound
	}
	return nil
}

func (s *Store) scanPolicy(row *sql.Row) (policies.CustomPolicy, error) {
	out, err := scanPolicyRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policies.CustomPolicy{}, policies.ErrNotFound
	}
	return out, err
}

func scanPolicyRow(row *sql.Row) (policies.CustomPolicy, error) {
	var (
		out  policies.CustomPolicy
		desc sql.NullString
	)
	if err := row.Scan(&out.ID, &out.Version, &out.Name, &desc, &out.CreatorID, &out.StorageKey, &out.EngineLoaded, &out.CreatedAt); err != nil {
		return policies.CustomPolicy{}, err
	}
	if desc.Valid {
		out.Description = desc.String
	}
	return out, nil
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]policies.CustomPolicy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []policies.CustomPolicy
	for rows.Next() {
		var (
			p    policies.CustomPolicy
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Version, &p.Name, &desc, &p.CreatorID, &p.StorageKey, &p.EngineLoaded, &p.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			p.Description = desc.String
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
