package signature_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/signature"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := signature.Sign("secret", `{"hello":"world"}`, now)

	err := signature.Verify("secret", `{"hello":"world"}`, header, now, signature.DefaultTolerance)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := signature.Sign("secret", `{"amount":10}`, now)

	err := signature.Verify("secret", `{"amount":100}`, header, now, signature.DefaultTolerance)
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := signature.Sign("secret", "payload", now)

	err := signature.Verify("rotated", "payload", header, now, signature.DefaultTolerance)
	if !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid after secret rotation, got %v", err)
	}
}

func TestVerify_OutsideTolerance(t *testing.T) {
	signedAt := time.Unix(1_700_000_000, 0)
	header := signature.Sign("secret", "payload", signedAt)

	later := signedAt.Add(6 * time.Minute)
	err := signature.Verify("secret", "payload", header, later, signature.DefaultTolerance)
	if !errors.Is(err, domain.ErrSignatureExpired) {
		t.Fatalf("expected ErrSignatureExpired, got %v", err)
	}

	// Tolerance <= 0 disables the timestamp check entirely.
	if err := signature.Verify("secret", "payload", header, later, 0); err != nil {
		t.Fatalf("expected skew to be ignored with zero tolerance, got %v", err)
	}
}

func TestVerify_MalformedHeader(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, header := range []string{"", "garbage", "t=abc,v1=00", "v1=00", "t=123"} {
		err := signature.Verify("secret", "payload", header, now, signature.DefaultTolerance)
		if !errors.Is(err, domain.ErrSignatureInvalid) {
			t.Fatalf("header %q: expected ErrSignatureInvalid, got %v", header, err)
		}
	}
}

func TestSign_HeaderShape(t *testing.T) {
	header := signature.Sign("secret", "payload", time.Unix(42, 0))
	if !strings.HasPrefix(header, "t=42,v1=") {
		t.Fatalf("unexpected header shape: %q", header)
	}
}

func TestGenerateSecret_Unique(t *testing.T) {
	a, err := signature.GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, err := signature.GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected distinct secrets")
	}
	if len(a) < 40 {
		t.Fatalf("secret unexpectedly short: %d chars", len(a))
	}
}
