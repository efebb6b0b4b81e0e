// Package identity decodes caller identity from JWT bearer tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthentication covers every token decoding or verification failure.
var ErrAuthentication = errors.New("identity: authentication failed")

// UserInfo is the caller identity extracted from a token.
type UserInfo struct {
	EmployeeID string   `json:"employee_id"`
	Email      string   `json:"email,omitempty"`
	Name       string   `json:"name,omitempty"`
	ADGroups   []string `json:"ad_groups"`
}

// InGroup reports whether the caller belongs to the given AD group.
// Comparison is case-insensitive; directory exports are not consistent
// about casing.
func (u UserInfo) InGroup(group string) bool {
	for _, g := range u.ADGroups {
		if strings.EqualFold(g, group) {
			return true
		}
	}
	return false
}

// Decoder extracts UserInfo from JWT bearer tokens. When Verify is off the
// signature is ignored but expiry is still enforced.
type Decoder struct {
	secret []byte
	method string
	verify bool
}

// NewDecoder builds a Decoder. method names the expected signing algorithm
// (e.g. "HS256") and is only consulted when verify is on.
func NewDecoder(secret, method string, verify bool) *Decoder {
	if method == "" {
		method = "HS256"
	}
	return &Decoder{secret: []byte(secret), method: method, verify: verify}
}

type tokenClaims struct {
	EmployeeID string   `json:"employee_id"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	ADGroups   []string `json:"ad_groups"`
	jwt.RegisteredClaims
}

// Decode parses raw (with or without a "Bearer " prefix) and returns the
// caller identity. Any failure is wrapped in ErrAuthentication.
func (d *Decoder) Decode(raw string) (UserInfo, error) {
	raw = strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(raw, "Bearer "); ok {
		raw = strings.TrimSpace(after)
	}
	if raw == "" {
		return UserInfo{}, fmt.Errorf("%w: empty token", ErrAuthentication)
	}

	claims := &tokenClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{d.method}))

	if d.verify {
		_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return d.secret, nil
		})
		if err != nil {
			return UserInfo{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
	} else {
		_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
		if err != nil {
			return UserInfo{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
			return UserInfo{}, fmt.Errorf("%w: token expired", ErrAuthentication)
		}
	}

	if claims.EmployeeID == "" {
		claims.EmployeeID = claims.Subject
	}
	if claims.EmployeeID == "" {
		return UserInfo{}, fmt.Errorf("%w: token carries no subject", ErrAuthentication)
	}

	return UserInfo{
		EmployeeID: claims.EmployeeID,
		Email:      claims.Email,
		Name:       claims.Name,
		ADGroups:   claims.ADGroups,
	}, nil
}

type ctxKey struct{}

// WithUser attaches the caller identity to the context.
func WithUser(ctx context.Context, u UserInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the caller identity, if one was attached.
func FromContext(ctx context.Context) (UserInfo, bool) {
	u, ok := ctx.Value(ctxKey{}).(UserInfo)
	return u, ok
}
