package tap

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sumup/agentpay/reason"
	"github.com/sumup/agentpay/replay"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	priv     ed25519.PrivateKey
	keys     *Ed25519KeyRing
	verifier *Verifier
	store    *replay.MemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys := NewEd25519KeyRing()
	if err := keys.Add("agent-key-1", pub); err != nil {
		t.Fatalf("add key: %v", err)
	}
	clock := func() time.Time { return testNow }
	store := replay.NewMemoryStore(replay.WithClock(clock))
	v, err := NewVerifier(Config{Keys: keys, Replay: store}, append([]Option{WithClock(clock)}, opts...)...)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return &fixture{priv: priv, keys: keys, verifier: v, store: store}
}

func baseRequest() Request {
	return Request{
		Authority: "merchant.example",
		Path:      "/checkout_sessions",
		Method:    http.MethodPost,
		Version:   "1.0",
	}
}

func baseInput() SignatureInput {
	return SignatureInput{
		Label:             "sig1",
		CoveredComponents: []string{ComponentAuthority, ComponentPath},
		Created:           testNow.Add(-time.Minute),
		Expires:           testNow.Add(4 * time.Minute),
		Nonce:             "nonce-1",
		KeyID:             "agent-key-1",
		Tag:               TagBrowserAuth,
	}
}

func (f *fixture) sign(t *testing.T, in SignatureInput, req Request) Request {
	t.Helper()
	sigInput, sig, err := SignEd25519(f.priv, in, req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.SignatureInput = sigInput
	req.Signature = sig
	return req
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.sign(t, baseInput(), baseRequest())

	res := f.verifier.Verify(context.Background(), req)
	if !res.Accepted {
		t.Fatalf("expected acceptance, got %s", res.Reason)
	}
	if res.SignatureInput == nil || res.SignatureInput.KeyID != "agent-key-1" {
		t.Fatalf("expected parsed signature input, got %+v", res.SignatureInput)
	}
	if res.Version != "1.0" {
		t.Fatalf("expected version to be echoed, got %q", res.Version)
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutateInput func(*SignatureInput)
		mutateReq   func(*Request)
		want        reason.Code
	}{
		"missing signature header": {
			mutateReq: func(r *Request) { r.Signature = "" },
			want:      reason.TAPHeaderMissing,
		},
		"unparseable signature input": {
			mutateReq: func(r *Request) { r.SignatureInput = "sig1=not a list" },
			want:      reason.TAPHeaderMissing,
		},
		"missing nonce parameter": {
			mutateReq: func(r *Request) {
				r.SignatureInput = `sig1=("@authority" "@path");created=1;expires=2;keyid="agent-key-1"`
			},
			want: reason.TAPHeaderMissing,
		},
		"path not covered": {
			mutateInput: func(in *SignatureInput) { in.CoveredComponents = []string{ComponentAuthority} },
			want:        reason.TAPRequiredComponentsMissing,
		},
		"tag not allowed": {
			mutateInput: func(in *SignatureInput) { in.Tag = "other-tag" },
			want:        reason.TAPTagInvalid,
		},
		"label mismatch": {
			mutateReq: func(r *Request) { r.Signature = strings.Replace(r.Signature, "sig1=", "sig2=", 1) },
			want:      reason.TAPLabelMismatch,
		},
		"created in the future": {
			mutateInput: func(in *SignatureInput) {
				in.Created = testNow.Add(time.Minute)
				in.Expires = testNow.Add(2 * time.Minute)
			},
			want: reason.TAPCreatedNotInPast,
		},
		"window too large": {
			mutateInput: func(in *SignatureInput) { in.Expires = in.Created.Add(DefaultMaxWindow + time.Second) },
			want:        reason.TAPWindowTooLarge,
		},
		"expired": {
			mutateInput: func(in *SignatureInput) {
				in.Created = testNow.Add(-5 * time.Minute)
				in.Expires = testNow.Add(-time.Second)
			},
			want: reason.TAPSignatureExpired,
		},
		"unsupported algorithm": {
			mutateInput: func(in *SignatureInput) { in.Algorithm = "hmac-sha256" },
			want:        reason.TAPAlgorithmUnsupported,
		},
		"tampered path": {
			mutateReq: func(r *Request) { r.Path = "/other" },
			want:      reason.TAPSignatureInvalid,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			in := baseInput()
			if tt.mutateInput != nil {
				tt.mutateInput(&in)
			}
			req := f.sign(t, in, baseRequest())
			if tt.mutateReq != nil {
				tt.mutateReq(&req)
			}

			res := f.verifier.Verify(context.Background(), req)
			if res.Accepted {
				t.Fatalf("expected rejection")
			}
			if res.Reason != tt.want {
				t.Fatalf("expected %s got %s", tt.want, res.Reason)
			}
		})
	}
}

func TestVerifyBoundaryTimes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	in := baseInput()
	in.Created = testNow
	in.Expires = testNow
	req := f.sign(t, in, baseRequest())

	if res := f.verifier.Verify(context.Background(), req); !res.Accepted {
		t.Fatalf("created == now == expires must be accepted, got %s", res.Reason)
	}
}

func TestVerifyNonceReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.sign(t, baseInput(), baseRequest())

	if res := f.verifier.Verify(context.Background(), req); !res.Accepted {
		t.Fatalf("first use rejected: %s", res.Reason)
	}
	res := f.verifier.Verify(context.Background(), req)
	if res.Reason != reason.TAPNonceReplayed {
		t.Fatalf("expected %s got %s", reason.TAPNonceReplayed, res.Reason)
	}
	if status := reason.HTTPStatus(res.Reason); status != http.StatusConflict {
		t.Fatalf("expected 409 got %d", status)
	}
}

func TestVerifyNonceReplayedRegardlessOfSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.sign(t, baseInput(), baseRequest())
	req.Path = "/tampered"

	if res := f.verifier.Verify(context.Background(), req); res.Reason != reason.TAPSignatureInvalid {
		t.Fatalf("expected invalid signature first, got %s", res.Reason)
	}
	if res := f.verifier.Verify(context.Background(), req); res.Reason != reason.TAPNonceReplayed {
		t.Fatalf("expected replay on second use, got %s", res.Reason)
	}
}

func TestVerifyMalformedRequestDoesNotBurnNonce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	in := baseInput()
	in.Tag = "other-tag"
	bad := f.sign(t, in, baseRequest())
	if res := f.verifier.Verify(context.Background(), bad); res.Reason != reason.TAPTagInvalid {
		t.Fatalf("expected tag rejection got %s", res.Reason)
	}

	good := f.sign(t, baseInput(), baseRequest())
	if res := f.verifier.Verify(context.Background(), good); !res.Accepted {
		t.Fatalf("nonce must still be usable, got %s", res.Reason)
	}
}

func TestVerifyConcurrentReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := f.sign(t, baseInput(), baseRequest())

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.verifier.Verify(context.Background(), req).Accepted {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	if accepted.Load() != 1 {
		t.Fatalf("expected exactly one acceptance got %d", accepted.Load())
	}
}

func TestVerifyReplayStoreFailureRejects(t *testing.T) {
	t.Parallel()

	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	keys := NewEd25519KeyRing()
	_ = keys.Add("agent-key-1", pub)
	failing := replay.StoreFunc(func(context.Context, string, time.Duration) (bool, error) {
		return false, errors.New("connection refused")
	})
	v, err := NewVerifier(Config{Keys: keys, Replay: failing}, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	f := &fixture{priv: priv}
	req := f.sign(t, baseInput(), baseRequest())

	res := v.Verify(context.Background(), req)
	if res.Accepted || res.Reason != reason.TAPReplayStoreUnavailable {
		t.Fatalf("expected fail-closed rejection got %+v", res.Decision)
	}
}

func TestVerifyCoveredHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	in := baseInput()
	in.CoveredComponents = append(in.CoveredComponents, ComponentMethod, "content-type")
	req := baseRequest()
	req.Header = http.Header{"Content-Type": []string{"application/json"}}
	req = f.sign(t, in, req)

	if res := f.verifier.Verify(context.Background(), req); !res.Accepted {
		t.Fatalf("expected acceptance got %s", res.Reason)
	}
}

func TestVerifyMissingCoveredHeaderDoesNotBurnNonce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	in := baseInput()
	in.CoveredComponents = append(in.CoveredComponents, "content-type")
	req := baseRequest()
	req.Header = http.Header{"Content-Type": []string{"application/json"}}
	good := f.sign(t, in, req)

	stripped := good
	stripped.Header = http.Header{}
	if res := f.verifier.Verify(context.Background(), stripped); res.Reason != reason.TAPSignatureInvalid {
		t.Fatalf("expected %s got %s", reason.TAPSignatureInvalid, res.Reason)
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected no nonce to be recorded got %d", f.store.Len())
	}
	if res := f.verifier.Verify(context.Background(), good); !res.Accepted {
		t.Fatalf("nonce must still be usable, got %s", res.Reason)
	}
}

func TestNewVerifierRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected error for missing collaborators")
	}
}
