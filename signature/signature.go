// Package signature signs and verifies JSON webhook deliveries. A signature
// is the base64url HMAC-SHA256 of `RFC3339Nano(timestamp) + "." +
// canonicalJSON(body)`.
package signature

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// Header names carried by signed deliveries.
const (
	HeaderSignature = "Webhook-Signature"
	HeaderTimestamp = "Webhook-Timestamp"
)

// Material captures the inputs needed to validate a signed request.
type Material struct {
	Signature     string
	Timestamp     time.Time
	CanonicalBody []byte
	Method        string
	Path          string
	Headers       http.Header
}

// Verifier validates the authenticity of incoming requests.
type Verifier interface {
	Verify(ctx context.Context, material Material) error
}

// VerifierFunc lifts bare functions into [Verifier].
type VerifierFunc func(ctx context.Context, material Material) error

// Verify delegates to the wrapped function.
func (f VerifierFunc) Verify(ctx context.Context, material Material) error {
	return f(ctx, material)
}

// HMACVerifier validates signatures produced by [HMACSigner].
type HMACVerifier struct {
	Key []byte
}

// Verify implements [Verifier] by recomputing the expected HMAC signature.
func (v HMACVerifier) Verify(_ context.Context, material Material) error {
	if len(v.Key) == 0 {
		return errors.New("signature: HMACVerifier requires a non-empty key")
	}
	expected := computeMAC(v.Key, BuildSigningPayload(material.Timestamp, material.CanonicalBody))
	decoded, err := base64.RawURLEncoding.DecodeString(material.Signature)
	if err != nil {
		return fmt.Errorf("signature: decode signature: %w", err)
	}
	if !hmac.Equal(decoded, expected) {
		return errors.New("signature: invalid signature")
	}
	return nil
}

// HMACSigner produces signatures accepted by [HMACVerifier].
type HMACSigner struct {
	Key []byte
}

// Sign canonicalizes body and signs it together with ts.
func (s HMACSigner) Sign(ts time.Time, body []byte) (string, error) {
	if len(s.Key) == 0 {
		return "", errors.New("signature: HMACSigner requires a non-empty key")
	}
	canonicalBody, err := CanonicalizeJSONBody(body)
	if err != nil {
		return "", fmt.Errorf("signature: canonicalize body: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(computeMAC(s.Key, BuildSigningPayload(ts, canonicalBody))), nil
}

func computeMAC(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// VerifyRequest checks the signature headers of a delivery received by r.
// The body stays readable for later handlers.
func VerifyRequest(r *http.Request, v Verifier, now time.Time, maxSkew time.Duration) error {
	sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if sig == "" || timestampHeader == "" {
		return errors.New("signature: signature and timestamp headers are required")
	}
	ts, err := ParseTimestamp(timestampHeader)
	if err != nil {
		return fmt.Errorf("signature: timestamp must be RFC3339: %w", err)
	}
	if maxSkew > 0 && AbsDuration(now.Sub(ts)) > maxSkew {
		return fmt.Errorf("signature: timestamp skew exceeds %s", maxSkew)
	}
	raw, err := ReadAndBufferBody(r)
	if err != nil {
		return fmt.Errorf("signature: read body: %w", err)
	}
	canonicalBody, err := CanonicalizeJSONBody(raw)
	if err != nil {
		return fmt.Errorf("signature: body must be valid JSON: %w", err)
	}
	return v.Verify(r.Context(), Material{
		Signature:     sig,
		Timestamp:     ts.UTC(),
		CanonicalBody: canonicalBody,
		Method:        r.Method,
		Path:          r.URL.Path,
		Headers:       r.Header.Clone(),
	})
}

// ReadAndBufferBody reads the request body while keeping it accessible for later handlers.
func ReadAndBufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// CanonicalizeJSONBody normalizes arbitrary JSON into canonical form for signing.
func CanonicalizeJSONBody(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("signature: multiple JSON documents in body")
	}
	return canonicaljson.Marshal(payload)
}

// ParseTimestamp accepts values in RFC3339 or RFC3339Nano format.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("signature: empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

// AbsDuration returns the absolute value of the supplied duration.
func AbsDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// BuildSigningPayload constructs the canonical string that is HMAC-signed.
func BuildSigningPayload(ts time.Time, canonicalBody []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(ts.UTC().Format(time.RFC3339Nano))
	buf.WriteByte('.')
	buf.Write(canonicalBody)
	return buf.Bytes()
}
