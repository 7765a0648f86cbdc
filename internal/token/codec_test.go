package token

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec(testSecret, "identra-test", opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestIssueAndVerify(t *testing.T) {
	c := newTestCodec(t)

	signed, exp, err := c.Issue("acct-42", KindAccess, 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	claims, err := c.Verify(signed, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "acct-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.TokenUse != KindAccess {
		t.Fatalf("unexpected kind: %s", claims.TokenUse)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	c := newTestCodec(t)

	access, _, err := c.Issue("acct-42", KindAccess, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Verify(access, KindRefresh); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}

	refresh, _, err := c.Issue("acct-42", KindRefresh, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Verify(refresh, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Now()
	c := newTestCodec(t, WithClock(func() time.Time { return now }))

	signed, _, err := c.Issue("acct-42", KindAccess, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Verify(signed, KindAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewCodec("ffffffffffffffffffffffffffffffff", "identra-test")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	signed, _, err := other.Issue("acct-42", KindAccess, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Verify(signed, KindAccess); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	c := newTestCodec(t)
	for _, raw := range []string{"", "  ", "not-a-token", "a.b", "a.b.c.d"} {
		if _, err := c.Verify(raw, KindAccess); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Verify(%q): expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestNewCodecRejectsWeakSecret(t *testing.T) {
	if _, err := NewCodec("short", "identra"); err == nil {
		t.Fatal("expected error for short secret")
	}
	if _, err := NewCodec(testSecret, "  "); err == nil {
		t.Fatal("expected error for blank issuer")
	}
}

func TestIssueValidatesInput(t *testing.T) {
	c := newTestCodec(t)
	if _, _, err := c.Issue("", KindAccess, time.Minute); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, _, err := c.Issue("acct-42", KindAccess, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
