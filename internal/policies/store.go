package policies

import "context"

// MetadataStore persists policy version records. CreateVersion inserts the
// record exactly as given and returns ErrConflict when (id, version) already
// exists; the caller picks the version number after the blob write, so a
// stored record never points at a missing object.
type MetadataStore interface {
	CreateVersion(ctx context.Context, p CustomPolicy) (CustomPolicy, error)
	GetLatest(ctx context.Context, id string) (CustomPolicy, error)
	GetVersion(ctx context.Context, id string, version int) (CustomPolicy, error)
	ListLatest(ctx context.Context) ([]CustomPolicy, error)
	ListVersions(ctx context.Context, id string) ([]CustomPolicy, error)
	MarkLoaded(ctx context.Context, id string, version int, loaded bool) error
}
