// Package signature implements the webhook payload signing scheme:
//
//	X-Webhook-Signature: t=<unix>,v1=<hex HMAC-SHA256 of "<unix>.<payload>">
//
// Verification binds the digest to the timestamp so a captured signature
// cannot be replayed outside the tolerance window.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// DefaultTolerance is the maximum allowed clock skew between the signing
// timestamp and verification time.
const DefaultTolerance = 5 * time.Minute

// Sign computes the signature header value for payload at time t.
func Sign(secret, payload string, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, digest(secret, payload, ts))
}

// Verify parses a signature header, checks the timestamp against tolerance
// around now, recomputes the digest, and compares in constant time.
// A tolerance <= 0 disables the timestamp check.
func Verify(secret, payload, header string, now time.Time, tolerance time.Duration) error {
	ts, v1, err := parseHeader(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		skew := now.Unix() - ts
		if skew < 0 {
			skew = -skew
		}
		if time.Duration(skew)*time.Second > tolerance {
			return domain.ErrSignatureExpired
		}
	}

	expected := digest(secret, payload, ts)
	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// GenerateSecret returns a 32-byte URL-safe random signing secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func digest(secret, payload string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseHeader extracts the t= and v1= pairs from a signature header.
func parseHeader(header string) (ts int64, v1 string, err error) {
	for _, pair := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			return 0, "", domain.ErrSignatureInvalid
		}
		switch key {
		case "t":
			ts, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", domain.ErrSignatureInvalid
			}
		case "v1":
			v1 = value
		}
	}
	if ts == 0 || v1 == "" {
		return 0, "", domain.ErrSignatureInvalid
	}
	return ts, v1, nil
}
