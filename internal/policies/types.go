// Package policies manages user-supplied Rego policies: validation,
// versioned storage and engine loading.
package policies

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("policies: not found")
	ErrConflict     = errors.New("policies: conflict")
	ErrInvalidInput = errors.New("policies: invalid input")
	// ErrNotLoaded means the policy is stored but the engine does not
	// currently hold it; Reload repairs that.
	ErrNotLoaded = errors.New("policies: policy not loaded in engine")
)

// ValidationError carries engine compiler diagnostics for a rejected module.
type ValidationError struct {
	Diagnostics []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policies: validation failed: %s", strings.Join(e.Diagnostics, "; "))
}

// CustomPolicy is one stored version of a user-supplied policy.
type CustomPolicy struct {
	ID           string    `json:"id"`
	Version      int       `json:"version"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatorID    string    `json:"creator_id"`
	StorageKey   string    `json:"storage_key"`
	EngineLoaded bool      `json:"engine_loaded"`
	CreatedAt    time.Time `json:"created_at"`
}

// Namespace is the engine module id and data path the policy lives under.
func (p CustomPolicy) Namespace() string {
	return EngineNamespace(p.ID)
}

// EngineNamespace maps a policy id to its engine module id and data path.
// The module id alone carries no isolation in the engine; the package
// declaration does, which is why Upload requires the source to declare
// custom.<id>.
func EngineNamespace(id string) string {
	return "custom/" + id
}

// StorageKey maps a policy version to its object-store key.
func StorageKey(id string, version int) string {
	return fmt.Sprintf("%s/%d.rego", id, version)
}
