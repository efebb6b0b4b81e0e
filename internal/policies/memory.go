package policies

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryMetadataStore is an in-memory MetadataStore for tests and local
// development.
type MemoryMetadataStore struct {
	mu       sync.RWMutex
	versions map[string][]CustomPolicy // id -> versions ascending
}

// NewMemoryMetadataStore returns an empty MemoryMetadataStore.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{versions: make(map[string][]CustomPolicy)}
}

func (s *MemoryMetadataStore) CreateVersion(_ context.Context, p CustomPolicy) (CustomPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.versions[p.ID] {
		if existing.Version == p.Version {
			return CustomPolicy{}, fmt.Errorf("%w: policy %q version %d", ErrConflict, p.ID, p.Version)
		}
	}
	p.CreatedAt = time.Now().UTC()
	s.versions[p.ID] = append(s.versions[p.ID], p)
	sort.Slice(s.versions[p.ID], func(i, j int) bool {
		return s.versions[p.ID][i].Version < s.versions[p.ID][j].Version
	})
	return p, nil
}

func (s *MemoryMetadataStore) GetLatest(_ context.Context, id string) (CustomPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[id]
	if len(versions) == 0 {
		return CustomPolicy{}, fmt.Errorf("%w: policy %q", ErrNotFound, id)
	}
	return versions[len(versions)-1], nil
}

func (s *MemoryMetadataStore) GetVersion(_ context.Context, id string, version int) (CustomPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.versions[id] {
		if p.Version == version {
			return p, nil
		}
	}
	return CustomPolicy{}, fmt.Errorf("%w: policy %q version %d", ErrNotFound, id, version)
}

func (s *MemoryMetadataStore) ListLatest(_ context.Context) ([]CustomPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CustomPolicy, 0, len(s.versions))
	for _, versions := range s.versions {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryMetadataStore) ListVersions(_ context.Context, id string) ([]CustomPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: policy %q", ErrNotFound, id)
	}
	out := make([]CustomPolicy, len(versions))
	copy(out, versions)
	return out, nil
}

func (s *MemoryMetadataStore) MarkLoaded(_ context.Context, id string, version int, loaded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.versions[id]
	for i := range versions {
		if versions[i].Version == version {
			versions[i].EngineLoaded = loaded
			return nil
		}
	}
	return fmt.Errorf("%w: policy %q version %d", ErrNotFound, id, version)
}
