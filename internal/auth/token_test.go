package auth

import (
	"strings"
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	m := NewMinter("test-secret")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tokenID, err := m.Mint(1001, now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if tokenID == "" {
		t.Fatal("Mint returned empty token_id")
	}

	uid, err := m.Verify(tokenID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if uid != 1001 {
		t.Fatalf("Verify userID = %d, want 1001", uid)
	}
}

func TestMintIsUnique(t *testing.T) {
	m := NewMinter("test-secret")
	now := time.Now()

	a, err := m.Mint(42, now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	b, err := m.Mint(42, now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if a == b {
		t.Fatal("Mint produced identical token_id for two logins of the same user")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minted := NewMinter("secret-a")
	tokenID, err := minted.Mint(7, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	verifier := NewMinter("secret-b")
	if _, err := verifier.Verify(tokenID); err == nil {
		t.Fatal("Verify accepted a token signed with a different secret")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := NewMinter("test-secret")
	if _, err := m.Verify("not-a-jwt"); err == nil {
		t.Fatal("Verify accepted a malformed token_id")
	}
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	m := NewMinter("test-secret")
	// A token using "alg": "none" must never be accepted regardless of payload.
	forged := "eyJhbGciOiJub25lIn0.eyJ1aWQiOjF9."
	if _, err := m.Verify(forged); err == nil {
		t.Fatal("Verify accepted an unsigned (alg=none) token")
	}
	if !strings.Contains(forged, ".") {
		t.Fatal("test fixture malformed")
	}
}
