package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type mockJWKSClient struct {
	claims    *Claims
	err       error
	lastToken string
}

func (m *mockJWKSClient) ValidateToken(tokenString string) (*Claims, error) {
	m.lastToken = tokenString
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

func (m *mockJWKSClient) Close() {}

func TestAuthService_ValidateRequest_AuthHeader(t *testing.T) {
	jwks := &mockJWKSClient{claims: &Claims{Email: "a@example.org"}}
	service := NewAuthService(jwks, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
	req.Header.Set("Authorization", "Bearer header-token")

	claims, token, err := service.ValidateRequest(req)
	if err != nil {
		t.Fatalf("ValidateRequest failed: %v", err)
	}
	if token != "header-token" {
		t.Errorf("expected token 'header-token', got %q", token)
	}
	if claims.Email != "a@example.org" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestAuthService_ValidateRequest_CookieTakesPrecedence(t *testing.T) {
	jwks := &mockJWKSClient{claims: &Claims{}}
	service := NewAuthService(jwks, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-token"})
	req.Header.Set("Authorization", "Bearer header-token")

	_, token, err := service.ValidateRequest(req)
	if err != nil {
		t.Fatalf("ValidateRequest failed: %v", err)
	}
	if token != "cookie-token" || jwks.lastToken != "cookie-token" {
		t.Errorf("expected cookie token to win, got %q", token)
	}
}

func TestAuthService_ValidateRequest_Errors(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"missing", "", ErrMissingAuthorization},
		{"basic scheme", "Basic dXNlcjpwYXNz", ErrInvalidAuthFormat},
		{"bearer without token", "Bearer ", ErrInvalidAuthFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewAuthService(&mockJWKSClient{claims: &Claims{}}, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			_, _, err := service.ValidateRequest(req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuthService_ValidateRequest_InvalidToken(t *testing.T) {
	tokenErr := errors.New("token validation failed: expired")
	service := NewAuthService(&mockJWKSClient{err: tokenErr}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
	req.Header.Set("Authorization", "Bearer stale")

	_, _, err := service.ValidateRequest(req)
	if !errors.Is(err, tokenErr) {
		t.Errorf("expected token error, got %v", err)
	}
}

func TestAuthService_RequireRole(t *testing.T) {
	service := NewAuthService(&mockJWKSClient{}, zap.NewNop())

	if err := service.RequireRole(&Claims{Roles: []string{RoleContentAdmin}}, RoleContentAdmin); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
	if err := service.RequireRole(&Claims{Roles: []string{RoleStakeholder}}, RoleContentAdmin); !errors.Is(err, ErrInsufficientRole) {
		t.Errorf("expected ErrInsufficientRole, got %v", err)
	}
}
