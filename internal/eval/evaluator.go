// Package eval resolves effective permissions by combining engine query
// results across environments.
package eval

import (
	"context"
	"errors"
	"fmt"

	"policygate.org/internal/identity"
	"policygate.org/internal/registry"
)

// QueryPath is the engine document queried for candidate roles.
const QueryPath = "permissions/candidate_roles"

// ErrEvaluation reports that the engine could not answer a permission query.
var ErrEvaluation = errors.New("eval: permission evaluation failed")

// Engine is the query capability the evaluator needs.
type Engine interface {
	Query(ctx context.Context, path string, input any, out any) error
}

// AppLister enumerates registered applications for EvaluateAll.
type AppLister interface {
	ListApplications(ctx context.Context) ([]registry.Application, error)
	GetApplication(ctx context.Context, id string) (registry.Application, error)
}

// Decision is the resolved permission for one application.
type Decision struct {
	ApplicationID string        `json:"application_id"`
	Role          registry.Role `json:"role"`
}

// Evaluator answers "what can this caller do in application X".
//
// The engine returns the set of roles the caller's AD groups grant across
// every environment of the application; the evaluator reduces that set with
// admin > user > none precedence. A caller who is admin anywhere in the
// application is admin for the application.
type Evaluator struct {
	engine Engine
	apps   AppLister
}

// New builds an Evaluator.
func New(engine Engine, apps AppLister) *Evaluator {
	return &Evaluator{engine: engine, apps: apps}
}

type queryInput struct {
	AppID    string   `json:"app_id"`
	ADGroups []string `json:"ad_groups"`
}

// EvaluateOne resolves the caller's role for a single application.
// registry.ErrNotFound is returned for unknown applications.
func (e *Evaluator) EvaluateOne(ctx context.Context, user identity.UserInfo, applicationID string) (Decision, error) {
	if _, err := e.apps.GetApplication(ctx, applicationID); err != nil {
		return Decision{}, err
	}
	role, err := e.queryRole(ctx, user, applicationID)
	if err != nil {
		return Decision{}, err
	}
	return Decision{ApplicationID: applicationID, Role: role}, nil
}

// EvaluateAll resolves the caller's role for every registered application.
// Applications that grant nothing appear with RoleNone.
func (e *Evaluator) EvaluateAll(ctx context.Context, user identity.UserInfo) ([]Decision, error) {
	apps, err := e.apps.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Decision, 0, len(apps))
	for _, app := range apps {
		role, err := e.queryRole(ctx, user, app.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Decision{ApplicationID: app.ID, Role: role})
	}
	return out, nil
}

func (e *Evaluator) queryRole(ctx context.Context, user identity.UserInfo, applicationID string) (registry.Role, error) {
	var candidates []string
	input := queryInput{AppID: applicationID, ADGroups: user.ADGroups}
	// The cause stays in the chain so callers can tell an unreachable
	// engine apart from a malformed response.
	if err := e.engine.Query(ctx, QueryPath, input, &candidates); err != nil {
		return registry.RoleNone, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	return Reduce(candidates), nil
}

// Reduce picks the strongest role out of a candidate set. Unknown role
// strings are ignored rather than rejected: a snapshot from a newer writer
// must not break evaluation.
func Reduce(candidates []string) registry.Role {
	best := registry.RoleNone
	for _, c := range candidates {
		r := registry.Role(c)
		if !r.Valid() {
			continue
		}
		if r.Rank() > best.Rank() {
			best = r
		}
	}
	return best
}
