package jwtutil

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	token, err := GenerateAccessToken(NewClaims("user-1", "a@b.fr", "CLIENT", time.Minute), key)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := ParseAccessToken(token, &key.PublicKey)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "CLIENT" || claims.Email != "a@b.fr" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseAccessToken_Rejects(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	expired, err := GenerateAccessToken(NewClaims("user-1", "", "ADMIN", -time.Minute), key)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if _, err := ParseAccessToken(expired, &key.PublicKey); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	foreign, err := GenerateAccessToken(NewClaims("user-1", "", "ADMIN", time.Minute), other)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if _, err := ParseAccessToken(foreign, &key.PublicKey); err == nil {
		t.Fatal("expected token signed by another key to be rejected")
	}
}
