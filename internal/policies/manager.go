package policies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"policygate.org/internal/ids"
	"policygate.org/internal/obs"
	"policygate.org/internal/opa"
)

var policyIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// Engine is the subset of the policy engine the manager uses.
type Engine interface {
	PushPolicy(ctx context.Context, id, source string) error
	DeletePolicy(ctx context.Context, id string) error
	CompileCheck(ctx context.Context, scratchID, source string) (opa.Diagnostics, error)
	Query(ctx context.Context, path string, input any, out any) error
}

// UploadRequest is the input for storing a new policy version.
type UploadRequest struct {
	ID          string
	Name        string
	Description string
	CreatorID   string
	Source      string
}

// Manager runs the policy lifecycle: validate against the engine, persist
// the source to blob storage, record the version, load into the engine.
//
// The first three steps are the durability boundary. When the final engine
// load fails, the version exists with EngineLoaded=false and Reload is the
// repair path; evaluation of an unloaded policy fails with ErrNotLoaded.
type Manager struct {
	meta   MetadataStore
	blobs  BlobStore
	engine Engine
}

// BlobStore is the artifact storage capability the manager uses.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// NewManager wires a Manager.
func NewManager(meta MetadataStore, blobs BlobStore, engine Engine) *Manager {
	return &Manager{meta: meta, blobs: blobs, engine: engine}
}

// Validate compiles source against the engine without storing anything.
// A *ValidationError is returned for rejected modules. When id is non-empty
// the module must also declare the policy's own package, custom.<id>: the
// engine namespaces modules by their package declaration, not by module id,
// so without this check a module declaring another package would merge its
// rules into that package's documents.
func (m *Manager) Validate(ctx context.Context, id, source string) error {
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%w: empty policy source", ErrInvalidInput)
	}
	diags, err := m.engine.CompileCheck(ctx, ids.NewScratch("scratch"), source)
	if err != nil {
		return err
	}
	if len(diags) > 0 {
		return &ValidationError{Diagnostics: diags}
	}
	if id = strings.TrimSpace(strings.ToLower(id)); id != "" {
		return checkModulePackage(id, source)
	}
	return nil
}

// checkModulePackage requires the module to declare package custom.<id>,
// in dotted or bracket form.
func checkModulePackage(id, source string) error {
	got := modulePackage(source)
	if got == "custom."+id || got == fmt.Sprintf("custom[%q]", id) {
		return nil
	}
	return &ValidationError{Diagnostics: []string{
		fmt.Sprintf("module must declare package custom.%s, found package %q", id, got),
	}}
}

// modulePackage returns the package path declared by a Rego module.
func modulePackage(source string) string {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "package ") {
			fields := strings.Fields(strings.TrimPrefix(line, "package "))
			if len(fields) > 0 {
				return fields[0]
			}
			return ""
		}
	}
	return ""
}

// Upload stores a new version of the policy. The source is written to blob
// storage before the metadata insert, so a version record always points at
// an existing object. On success the returned record has EngineLoaded=true;
// when only the engine load failed, the record is returned with
// EngineLoaded=false alongside a nil error, and the fault is logged.
func (m *Manager) Upload(ctx context.Context, req UploadRequest) (CustomPolicy, error) {
	req.ID = strings.TrimSpace(strings.ToLower(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	req.CreatorID = strings.TrimSpace(req.CreatorID)
	req.Description = strings.TrimSpace(req.Description)

	if !policyIDPattern.MatchString(req.ID) {
		return CustomPolicy{}, fmt.Errorf("%w: policy id %q", ErrInvalidInput, req.ID)
	}
	if req.Name == "" {
		return CustomPolicy{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if req.CreatorID == "" {
		return CustomPolicy{}, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}
	if err := m.Validate(ctx, req.ID, req.Source); err != nil {
		return CustomPolicy{}, err
	}

	record, err := m.storeVersion(ctx, req)
	if err != nil {
		return CustomPolicy{}, err
	}

	if err := m.engine.PushPolicy(ctx, record.Namespace(), req.Source); err != nil {
		obs.LogEvent("error", "policy stored but engine load failed", map[string]any{
			"policy_id": record.ID,
			"version":   record.Version,
			"error":     err.Error(),
		})
		return record, nil
	}

	if err := m.meta.MarkLoaded(ctx, record.ID, record.Version, true); err != nil {
		return record, err
	}
	record.EngineLoaded = true
	return record, nil
}

// storeVersion writes the source blob under the next version's key and then
// inserts the metadata row. A concurrent upload of the same id loses the
// (id, version) primary key race and retries with a fresh number; the
// loser's earlier blob write is orphaned, never referenced.
func (m *Manager) storeVersion(ctx context.Context, req UploadRequest) (CustomPolicy, error) {
	for attempt := 0; attempt < 3; attempt++ {
		version := 1
		latest, err := m.meta.GetLatest(ctx, req.ID)
		switch {
		case err == nil:
			version = latest.Version + 1
		case errors.Is(err, ErrNotFound):
		default:
			return CustomPolicy{}, err
		}

		key := StorageKey(req.ID, version)
		if err := m.blobs.Put(ctx, key, []byte(req.Source)); err != nil {
			return CustomPolicy{}, fmt.Errorf("policies: store source: %w", err)
		}

		record, err := m.meta.CreateVersion(ctx, CustomPolicy{
			ID:          req.ID,
			Version:     version,
			Name:        req.Name,
			Description: req.Description,
			CreatorID:   req.CreatorID,
			StorageKey:  key,
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return CustomPolicy{}, err
		}
		return record, nil
	}
	return CustomPolicy{}, fmt.Errorf("%w: concurrent uploads of %q", ErrConflict, req.ID)
}

// Get returns the latest version of a policy.
func (m *Manager) Get(ctx context.Context, id string) (CustomPolicy, error) {
	return m.meta.GetLatest(ctx, strings.TrimSpace(strings.ToLower(id)))
}

// List returns the latest version of every policy.
func (m *Manager) List(ctx context.Context) ([]CustomPolicy, error) {
	return m.meta.ListLatest(ctx)
}

// ListVersions returns every stored version of a policy, oldest first.
func (m *Manager) ListVersions(ctx context.Context, id string) ([]CustomPolicy, error) {
	return m.meta.ListVersions(ctx, strings.TrimSpace(strings.ToLower(id)))
}

// GetSource returns the Rego source of one stored version. version 0 means
// latest.
func (m *Manager) GetSource(ctx context.Context, id string, version int) (string, error) {
	id = strings.TrimSpace(strings.ToLower(id))
	var record CustomPolicy
	var err error
	if version == 0 {
		record, err = m.meta.GetLatest(ctx, id)
	} else {
		record, err = m.meta.GetVersion(ctx, id, version)
	}
	if err != nil {
		return "", err
	}
	data, err := m.blobs.Get(ctx, record.StorageKey)
	if err != nil {
		return "", fmt.Errorf("policies: fetch source: %w", err)
	}
	return string(data), nil
}

// Reload pushes the latest stored version back into the engine. This is the
// repair path after an engine outage left a version with EngineLoaded=false,
// and the recovery tool after an engine restart lost all modules.
func (m *Manager) Reload(ctx context.Context, id string) (CustomPolicy, error) {
	id = strings.TrimSpace(strings.ToLower(id))
	record, err := m.meta.GetLatest(ctx, id)
	if err != nil {
		return CustomPolicy{}, err
	}
	data, err := m.blobs.Get(ctx, record.StorageKey)
	if err != nil {
		return CustomPolicy{}, fmt.Errorf("policies: fetch source: %w", err)
	}
	if err := m.engine.PushPolicy(ctx, record.Namespace(), string(data)); err != nil {
		return CustomPolicy{}, err
	}
	if err := m.meta.MarkLoaded(ctx, record.ID, record.Version, true); err != nil {
		return CustomPolicy{}, err
	}
	record.EngineLoaded = true
	return record, nil
}

// ReloadAll repushes every latest policy version, e.g. after an engine
// restart. Individual failures are logged and the count of repaired
// policies is returned.
func (m *Manager) ReloadAll(ctx context.Context) (int, error) {
	latest, err := m.meta.ListLatest(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, record := range latest {
		if _, err := m.Reload(ctx, record.ID); err != nil {
			obs.LogEvent("error", "policy reload failed", map[string]any{
				"policy_id": record.ID,
				"error":     err.Error(),
			})
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Evaluate queries the latest version of the policy with input and returns
// the engine's raw result document. ErrNotLoaded is returned while the
// engine does not hold the policy.
func (m *Manager) Evaluate(ctx context.Context, id string, input any) (json.RawMessage, error) {
	id = strings.TrimSpace(strings.ToLower(id))
	record, err := m.meta.GetLatest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.EngineLoaded {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}
	var result json.RawMessage
	if err := m.engine.Query(ctx, record.Namespace(), input, &result); err != nil {
		return nil, err
	}
	return result, nil
}
