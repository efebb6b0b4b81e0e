package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestDecodeVerified(t *testing.T) {
	d := NewDecoder("topsecret", "HS256", true)
	raw := signToken(t, "topsecret", jwt.MapClaims{
		"employee_id": "E123",
		"email":       "jan@example.com",
		"ad_groups":   []string{"app-a-users", "infodir-admin"},
		"exp":         time.Now().Add(time.Hour).Unix(),
	})

	u, err := d.Decode("Bearer " + raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if u.EmployeeID != "E123" {
		t.Fatalf("unexpected employee id: %s", u.EmployeeID)
	}
	if !u.InGroup("INFODIR-ADMIN") {
		t.Fatal("expected case-insensitive group membership")
	}
	if u.InGroup("other") {
		t.Fatal("unexpected group membership")
	}
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	d := NewDecoder("topsecret", "HS256", true)
	raw := signToken(t, "wrong", jwt.MapClaims{
		"employee_id": "E123",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})

	_, err := d.Decode(raw)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestDecodeUnverifiedStillChecksExpiry(t *testing.T) {
	d := NewDecoder("", "HS256", false)
	raw := signToken(t, "whatever", jwt.MapClaims{
		"employee_id": "E123",
		"exp":         time.Now().Add(-time.Minute).Unix(),
	})

	_, err := d.Decode(raw)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for expired token, got %v", err)
	}
}

func TestDecodeUnverifiedIgnoresSignature(t *testing.T) {
	d := NewDecoder("", "HS256", false)
	raw := signToken(t, "some-other-key", jwt.MapClaims{
		"sub": "E900",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	u, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if u.EmployeeID != "E900" {
		t.Fatalf("expected sub fallback, got %s", u.EmployeeID)
	}
}

func TestDecodeEmptyToken(t *testing.T) {
	d := NewDecoder("s", "HS256", true)
	if _, err := d.Decode("Bearer "); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	u := UserInfo{EmployeeID: "E1", ADGroups: []string{"g"}}
	ctx := WithUser(t.Context(), u)

	got, ok := FromContext(ctx)
	if !ok || got.EmployeeID != "E1" {
		t.Fatalf("unexpected identity: %+v ok=%v", got, ok)
	}
	if _, ok := FromContext(t.Context()); ok {
		t.Fatal("expected no identity on fresh context")
	}
}
