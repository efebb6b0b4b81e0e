// Package registry manages applications and their AD-group role mappings,
// and keeps the policy engine's view of them up to date.
package registry

import "time"

// Role is the permission level a mapping grants within one environment.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleNone  Role = "none"
)

// Rank orders roles by strength. Higher wins when multiple environments
// disagree.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is a grantable role. RoleNone is an evaluation
// result, never stored.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Application is a registered system that permissions are evaluated for.
type Application struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleMapping grants a role to an AD group within one environment of an
// application. (ApplicationID, Environment, ADGroup) is unique.
type RoleMapping struct {
	ID            int64     `json:"id"`
	ApplicationID string    `json:"application_id"`
	Environment   string    `json:"environment"`
	ADGroup       string    `json:"ad_group"`
	Role          Role      `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ApplicationUpdate carries optional field changes; nil means keep.
type ApplicationUpdate struct {
	Name        *string
	Description *string
	OwnerID     *string
}

// RoleMappingUpdate carries optional field changes; nil means keep.
type RoleMappingUpdate struct {
	Environment *string
	ADGroup     *string
	Role        *Role
}
