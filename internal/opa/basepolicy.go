package opa

import (
	"context"
	_ "embed"
	"fmt"
)

// BasePolicyID is the engine module id of the built-in evaluation policy.
const BasePolicyID = "permissions"

//go:embed policy/permissions.rego
var basePolicySource string

// EnsureBasePolicy installs (or refreshes) the built-in evaluation policy.
// Safe to call on every startup; the upload is idempotent.
func (c *Client) EnsureBasePolicy(ctx context.Context) error {
	if err := c.PushPolicy(ctx, BasePolicyID, basePolicySource); err != nil {
		return fmt.Errorf("install base policy: %w", err)
	}
	return nil
}
