package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/avdeyev/chatline/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "chatline",
		Audience: "chatline-web",
		TTL:      time.Hour,
	}
	return NewService(st, cfg)
}

func TestRegisterRejectsInvalidUsername(t *testing.T) {
	svc := newTestAuthService(t)

	for _, username := range []string{"ab", "  a  ", strings.Repeat("a", 40)} {
		if _, err := svc.Register(context.Background(), username, "password"); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("username %q: expected ErrInvalidUsername, got %v", username, err)
		}
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := newTestAuthService(t)

	if _, err := svc.Register(context.Background(), "alice", "12345"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestRegisterTrimsUsernameAndRejectsDuplicate(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.Register(ctx, "  alice  ", "password")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "alice" {
		t.Fatalf("expected trimmed username, got %q", claims.Username)
	}
	if claims.UserID <= 0 {
		t.Fatalf("expected positive user id, got %d", claims.UserID)
	}

	if _, err := svc.Register(ctx, "alice", "password"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "password"); err != nil {
		t.Fatalf("register: %v", err)
	}

	token, err := svc.Login(ctx, "alice", "password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ValidateToken(token); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestValidateTokenChecksAudience(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("test-secret"), Issuer: "chatline", Audience: "chatline-web", TTL: time.Hour}
	other := &JWTConfig{Secret: []byte("test-secret"), Issuer: "chatline", Audience: "elsewhere", TTL: time.Hour}

	token, err := GenerateToken(other, 1, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatal("expected rejection for wrong audience")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	signed := &JWTConfig{Secret: []byte("other-secret"), Issuer: "chatline", Audience: "chatline-web", TTL: time.Hour}
	cfg := &JWTConfig{Secret: []byte("test-secret"), Issuer: "chatline", Audience: "chatline-web", TTL: time.Hour}

	token, err := GenerateToken(signed, 1, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatal("expected rejection for wrong signature")
	}
}
