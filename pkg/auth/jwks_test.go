package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// createTestToken creates an unsigned JWT for development mode.
func createTestToken(claims *Claims) string {
	headerJSON, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	claimsJSON, _ := json.Marshal(claims)
	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON) + "."
}

func newDevClient(t *testing.T) *JWKSClient {
	t.Helper()
	client, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: false})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestJWKSClient_ValidateToken_DevMode(t *testing.T) {
	client := newDevClient(t)

	token := createTestToken(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "curator-1",
			Issuer:    "https://auth.example.org",
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "curator@example.org",
		Roles: []string{RoleContentAdmin},
	})

	claims, err := client.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "curator-1" {
		t.Errorf("expected Subject 'curator-1', got %q", claims.Subject)
	}
	if claims.Email != "curator@example.org" {
		t.Errorf("expected Email 'curator@example.org', got %q", claims.Email)
	}
	if !claims.HasRole(RoleContentAdmin) {
		t.Errorf("expected CONTENT_ADMIN role, got %v", claims.Roles)
	}
}

func TestJWKSClient_ValidateToken_InvalidFormat(t *testing.T) {
	client := newDevClient(t)

	for _, token := range []string{"", "not-a-valid-token", "eyJhbGciOiJub25lIn0.!!!invalid!!!."} {
		if _, err := client.ValidateToken(token); err == nil {
			t.Errorf("expected error for token %q", token)
		}
	}
}

func TestJWKSClient_ValidateToken_WrongAudience(t *testing.T) {
	client := newDevClient(t)

	token := createTestToken(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "curator-1",
			Audience: jwt.ClaimStrings{"some-other-service"},
		},
	})

	_, err := client.ValidateToken(token)
	if !errors.Is(err, ErrInvalidAudience) {
		t.Errorf("expected ErrInvalidAudience, got %v", err)
	}
}

func TestJWKSClient_ValidateToken_MissingAudience(t *testing.T) {
	client := newDevClient(t)

	token := createTestToken(&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "curator-1"}})

	_, err := client.ValidateToken(token)
	if !errors.Is(err, ErrInvalidAudience) {
		t.Errorf("expected ErrInvalidAudience, got %v", err)
	}
}

func TestClaims_HasRole(t *testing.T) {
	claims := &Claims{Roles: []string{RoleStakeholder}}

	if !claims.HasRole(RoleContentAdmin, RoleStakeholder) {
		t.Error("expected match on any listed role")
	}
	if claims.HasRole(RoleContentAdmin) {
		t.Error("stakeholder must not satisfy CONTENT_ADMIN")
	}

	var nilClaims *Claims
	if nilClaims.HasRole(RoleStakeholder) {
		t.Error("nil claims must not hold any role")
	}
}
