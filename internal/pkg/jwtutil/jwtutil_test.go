package jwtutil

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("secret", time.Minute, 42, "alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Fatalf("unexpected claims: got=%+v", claims)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", time.Minute, 1, "bob")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := ParseToken("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken("secret", -time.Minute, 1, "bob")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := ParseToken("secret", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
