// internal/auth/token_test.go
package auth

import (
	"testing"
	"time"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	Init()

	token, err := CreateAdminToken("operator", time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := VerifyAdminToken(token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestAdminTokenNoExpiry(t *testing.T) {
	Init()
	token, err := CreateAdminToken("operator", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := VerifyAdminToken(token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestAdminTokenRejectedAfterKeyRotation(t *testing.T) {
	Init()
	token, err := CreateAdminToken("operator", time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A restart generates fresh keys; old tokens must stop working.
	Init()
	if err := VerifyAdminToken(token); err == nil {
		t.Fatal("token from a previous key pair accepted")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	Init()
	if err := VerifyAdminToken("not-a-jwt"); err == nil {
		t.Fatal("garbage accepted")
	}
}
