package session

import (
	"context"
	"strings"
	"testing"
	"time"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv(secretEnvVariable, "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("user-42", 3, ProviderGoogle, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.TokenVersion != 3 {
		t.Fatalf("unexpected token version: %d", claims.TokenVersion)
	}
	if claims.Provider != ProviderGoogle {
		t.Fatalf("unexpected provider: %s", claims.Provider)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("user-42", 1, ProviderPassword, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]
	if _, err := ParseAndValidate(tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	setSecret(t)

	if _, err := GenerateToken("user-42", 1, ProviderGoogle, -time.Minute); err == nil {
		t.Fatal("expected negative ttl to be rejected")
	}
}

func TestGenerateRequiresSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-42", 1, ProviderGoogle, time.Hour); err == nil {
		t.Fatal("expected missing secret error")
	}
}

func TestParseProvider(t *testing.T) {
	if p, err := ParseProvider(" Google "); err != nil || p != ProviderGoogle {
		t.Fatalf("ParseProvider(google): %v %v", p, err)
	}
	if p, err := ParseProvider("password"); err != nil || p != ProviderPassword {
		t.Fatalf("ParseProvider(password): %v %v", p, err)
	}
	if _, err := ParseProvider("github"); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", 5)
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	version, ok := TokenVersionFromContext(ctx)
	if !ok || version != 5 {
		t.Fatalf("unexpected token version: %d, ok=%v", version, ok)
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("expected empty context to have no user")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}
