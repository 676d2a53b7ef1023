package auth

import (
	"bytes"
	"testing"
	"time"
)

func TestDeriveKey_SeparatesPurposes(t *testing.T) {
	a := DeriveKey("secret", PurposeAccess)
	s := DeriveKey("secret", PurposeShare)
	if len(a) != 32 || len(s) != 32 {
		t.Fatalf("unexpected key lengths %d %d", len(a), len(s))
	}
	if bytes.Equal(a, s) {
		t.Fatalf("expected distinct keys per purpose")
	}
	if !bytes.Equal(a, DeriveKey("secret", PurposeAccess)) {
		t.Fatalf("expected derivation to be deterministic")
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	key := DeriveKey("secret", PurposeAccess)
	tok, exp, err := SignAccessToken("user-1", key, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if exp <= time.Now().Unix() {
		t.Fatalf("expected future expiry, got %d", exp)
	}

	uid, err := ParseAccessToken(tok, key)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if uid != "user-1" {
		t.Fatalf("unexpected subject %q", uid)
	}

	if _, err := ParseAccessToken(tok, DeriveKey("other", PurposeAccess)); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
	}
}

func TestAccessToken_Expired(t *testing.T) {
	key := DeriveKey("secret", PurposeAccess)
	tok, _, err := SignAccessToken("user-1", key, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(tok, key); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestShareTokens_ScopedToChat(t *testing.T) {
	st := NewShareTokens("secret", time.Hour)
	tok, exp, err := st.Issue(42, "cs_test_1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expected future expiry")
	}

	chatID, err := st.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if chatID != 42 {
		t.Fatalf("expected chat 42, got %d", chatID)
	}
}

func TestShareTokens_RejectsAccessToken(t *testing.T) {
	st := NewShareTokens("secret", time.Hour)
	access, _, err := SignAccessToken("user-1", DeriveKey("secret", PurposeAccess), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := st.Verify(access); err != ErrInvalidToken {
		t.Fatalf("expected access token to be rejected, got %v", err)
	}
}
