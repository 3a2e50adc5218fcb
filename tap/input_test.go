package tap

import (
	"testing"
	"time"
)

func TestParseSignatureInput(t *testing.T) {
	t.Parallel()

	header := `sig2=("@authority" "@path");created=1735689600;expires=1735689900;keyid="poqkLGiym";alg="ed25519";nonce="e8N7S2MFd";tag="agent-payer-auth"`
	in, err := ParseSignatureInput(header)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.Label != "sig2" {
		t.Fatalf("expected label sig2 got %q", in.Label)
	}
	if !in.Covers("@authority") || !in.Covers("@path") {
		t.Fatalf("expected covered components, got %v", in.CoveredComponents)
	}
	if in.Window() != 5*time.Minute {
		t.Fatalf("expected 5m window got %s", in.Window())
	}
	if in.KeyID != "poqkLGiym" || in.Nonce != "e8N7S2MFd" || in.Tag != TagPayerAuth || in.Algorithm != AlgEd25519 {
		t.Fatalf("unexpected params %+v", in)
	}
	want := `("@authority" "@path");created=1735689600;expires=1735689900;keyid="poqkLGiym";alg="ed25519";nonce="e8N7S2MFd";tag="agent-payer-auth"`
	if in.Params() != want {
		t.Fatalf("expected params %q got %q", want, in.Params())
	}
}

func TestParseSignature(t *testing.T) {
	t.Parallel()

	sigs, err := ParseSignature(`sig1=:AQID:`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := sigs["sig1"]; len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected signature bytes %v", got)
	}
	if _, err := ParseSignature(`sig1=("a")`); err == nil {
		t.Fatalf("expected inner list to be rejected")
	}
}

func TestSignatureBase(t *testing.T) {
	t.Parallel()

	in, err := ParseSignatureInput(`sig1=("@authority" "@path");created=1;expires=2;keyid="k";nonce="n"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	base, err := SignatureBase(*in, Request{Authority: "Shop.Example", Path: "/pay"})
	if err != nil {
		t.Fatalf("base: %v", err)
	}
	want := "\"@authority\": shop.example\n\"@path\": /pay\n\"@signature-params\": (\"@authority\" \"@path\");created=1;expires=2;keyid=\"k\";nonce=\"n\""
	if string(base) != want {
		t.Fatalf("unexpected base:\n%s", base)
	}

	in.CoveredComponents = append(in.CoveredComponents, "@query-param")
	if _, err := SignatureBase(*in, Request{Authority: "a", Path: "/"}); err == nil {
		t.Fatalf("expected unsupported component error")
	}
}
