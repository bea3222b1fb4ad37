package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims Claims, secret []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseJWTValid(t *testing.T) {
	secret := []byte("test-secret")
	token := signToken(t, Claims{
		TenantID: "tenant-1",
		Role:     "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, secret)

	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	identity := claims.Identity()
	if identity.TenantID != "tenant-1" || identity.Role != RoleOperator || identity.Subject != "user-1" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestParseJWTExpired(t *testing.T) {
	secret := []byte("test-secret")
	token := signToken(t, Claims{
		TenantID: "tenant-1",
		Role:     "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, secret)

	_, err := ParseJWT(token, secret)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseJWTRejectsMissingTenantAndUnknownRole(t *testing.T) {
	secret := []byte("test-secret")

	noTenant := signToken(t, Claims{Role: "operator"}, secret)
	if _, err := ParseJWT(noTenant, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("missing tenant: expected ErrInvalidToken, got %v", err)
	}

	badRole := signToken(t, Claims{TenantID: "tenant-1", Role: "superuser"}, secret)
	if _, err := ParseJWT(badRole, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown role: expected ErrInvalidToken, got %v", err)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), "tenant-1", RoleViewer, "user-9")
	if TenantIDFromContext(ctx) != "tenant-1" {
		t.Fatal("tenant id lost")
	}
	if RoleFromContext(ctx) != RoleViewer {
		t.Fatal("role lost")
	}
	if SubjectFromContext(ctx) != "user-9" {
		t.Fatal("subject lost")
	}
	if got := IdentityFromContext(context.Background()); got != (Identity{}) {
		t.Fatalf("expected zero identity, got %+v", got)
	}
}
