package reason

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestRegistryIsTotal(t *testing.T) {
	t.Parallel()

	seen := make(map[Code]bool)
	for _, code := range Codes() {
		if seen[code] {
			t.Fatalf("code %s declared twice", code)
		}
		seen[code] = true

		m, ok := Lookup(code)
		if !ok {
			t.Fatalf("code %s has no registry row", code)
		}
		if m.Code != code {
			t.Fatalf("row for %s carries code %s", code, m.Code)
		}
		if m.HTTPStatus < 400 || m.HTTPStatus > 599 {
			t.Fatalf("code %s maps to non-error status %d", code, m.HTTPStatus)
		}
		if m.Message == "" || m.SpecReference == "" {
			t.Fatalf("code %s has an incomplete row: %+v", code, m)
		}
		layer := code.Layer()
		if layer != LayerTAP && layer != LayerAP2 && layer != LayerUCP && layer != LayerX402 {
			t.Fatalf("code %s has unknown prefix %q", code, layer)
		}
	}
	if len(seen) != len(All()) {
		t.Fatalf("registry has %d rows for %d codes", len(All()), len(seen))
	}
}

func TestRegistryStatuses(t *testing.T) {
	t.Parallel()

	tests := map[Code]int{
		TAPNonceReplayed:      http.StatusConflict,
		AP2PaymentExceedsCart: http.StatusUnprocessableEntity,
		AP2RateLimited:        http.StatusTooManyRequests,
		UCPSessionNotFound:    http.StatusNotFound,
		X402ChallengeExpired:  http.StatusPaymentRequired,
	}
	for code, want := range tests {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("%s: expected status %d got %d", code, want, got)
		}
	}
}

func TestGetPanicsOnUnknownCode(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown code")
		}
	}()
	Get(Code("nope_unknown"))
}

func TestAllIsSorted(t *testing.T) {
	t.Parallel()

	rows := All()
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Code >= rows[i].Code {
			t.Fatalf("rows not sorted at %d: %s >= %s", i, rows[i-1].Code, rows[i].Code)
		}
	}
}

func TestDecision(t *testing.T) {
	t.Parallel()

	var zero Decision
	if zero.Accepted {
		t.Fatalf("zero decision must reject")
	}
	if _, ok := Accept().Mapping(); ok {
		t.Fatalf("accepted decision has no mapping")
	}
	m, ok := Reject(TAPSignatureExpired).Mapping()
	if !ok || m.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("unexpected mapping %+v", m)
	}
}

func TestErrorMatching(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", NewError(UCPSessionNotFound, ""))
	if !errors.Is(err, &Error{Code: UCPSessionNotFound}) {
		t.Fatalf("expected errors.Is to match by code")
	}
	code, ok := CodeOf(err)
	if !ok || code != UCPSessionNotFound {
		t.Fatalf("unexpected code %s", code)
	}
	if !strings.Contains(err.Error(), "Checkout session not found") {
		t.Fatalf("expected registry message, got %q", err.Error())
	}
	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatalf("plain errors carry no code")
	}
}

func TestMapLegacyString(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		in   string
		want Code
		ok   bool
	}{
		"current code passes through": {in: "ap2_subject_mismatch", want: AP2SubjectMismatch, ok: true},
		"legacy identifier":           {in: " Nonce_Reused ", want: TAPNonceReplayed, ok: true},
		"erc3009 timing":              {in: "authorization_expired", want: X402AuthorizationExpired, ok: true},
		"unknown":                     {in: "something_else"},
		"empty":                       {in: ""},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, ok := MapLegacyString(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("expected (%s,%v) got (%s,%v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}

func TestMapException(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		kind, message string
		want Code
		ok   bool
	}{
		"signature":  {kind: "SignatureError", message: "bad bytes", want: AP2SignatureInvalid, ok: true},
		"expired":    {kind: "ValueError", message: "mandate expired at noon", want: AP2MandateExpired, ok: true},
		"domain":     {kind: "LookupError", message: "unknown domain", want: AP2DomainNotAuthorized, ok: true},
		"rate limit": {kind: "Throttle", message: "Rate Limit hit", want: AP2RateLimited, ok: true},
		"identity":   {kind: "IdentityError", message: "no such agent", want: AP2IdentityNotResolved, ok: true},
		"auth":       {kind: "Error", message: "unauthenticated", want: AP2IdentityNotResolved, ok: true},
		"no match":   {kind: "RuntimeError", message: "boom"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, ok := MapException(tt.kind, tt.message)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("expected (%s,%v) got (%s,%v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}
