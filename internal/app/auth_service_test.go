package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"triagechat/internal/pkg/jwtutil"
	"triagechat/internal/repository"
	"triagechat/internal/testutil"
)

func TestRegisterAndLogin(t *testing.T) {
	db := testutil.DB(t)
	svc := NewAuthService(repository.NewUserRepository(db), "secret", time.Hour)
	ctx := context.Background()

	registered, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered.User.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", registered.User.Email)
	}
	claims, err := jwtutil.ParseToken("secret", registered.Token)
	if err != nil || claims.UserID != registered.User.ID {
		t.Fatalf("unexpected token claims: %+v %v", claims, err)
	}

	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: "password123"}); !errors.Is(err, ErrUsernameExists) {
		t.Fatalf("expected ErrUsernameExists, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "alice@example.com", Password: "password123"}); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "carol", Email: "c@example.com", Password: "short"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if _, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "password123"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Username: "nobody", Password: "password123"}); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}
