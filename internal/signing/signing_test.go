package signing

import (
	"fmt"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	secret := []byte("topsecret")
	s := NewSigner(secret)
	future := time.Now().Add(time.Hour).Unix()
	futureStr := fmt.Sprintf("%d", future)

	sig := s.Sign("scan123", future)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate("scan123", futureStr, sig) {
		t.Fatalf("expected signature to validate")
	}
	if s.Validate("wrong", futureStr, sig) {
		t.Fatalf("expected validation to fail for wrong scan id")
	}
	if s.Validate("scan123", "42", sig) {
		t.Fatalf("expected validation to fail for tampered expiry")
	}
}

func TestSignerRejectsExpiredLink(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	past := time.Now().Add(-time.Minute).Unix()
	sig := s.Sign("scan123", past)
	if s.Validate("scan123", fmt.Sprintf("%d", past), sig) {
		t.Fatalf("expected expired link to be rejected")
	}
}
