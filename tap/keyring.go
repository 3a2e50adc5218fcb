package tap

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// Ed25519KeyRing is a [KeyVerifier] over a directory of Ed25519 public keys.
type Ed25519KeyRing struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewEd25519KeyRing builds an empty key ring.
func NewEd25519KeyRing() *Ed25519KeyRing {
	return &Ed25519KeyRing{keys: make(map[string]ed25519.PublicKey)}
}

// Add registers key under keyID, replacing any previous key.
func (k *Ed25519KeyRing) Add(keyID string, key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("tap: key %q has length %d", keyID, len(key))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[keyID] = key
	return nil
}

// AddBase64 registers a standard or URL base64 encoded public key.
func (k *Ed25519KeyRing) AddBase64(keyID, encoded string) error {
	encoded = strings.TrimRight(strings.TrimSpace(encoded), "=")
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("tap: decode key %q: %w", keyID, err)
		}
	}
	return k.Add(keyID, ed25519.PublicKey(raw))
}

// VerifySignature implements [KeyVerifier].
func (k *Ed25519KeyRing) VerifySignature(message, signature []byte, keyID, algorithm string) bool {
	if algorithm != "" && algorithm != AlgEd25519 {
		return false
	}
	k.mu.RLock()
	key, ok := k.keys[keyID]
	k.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(key, message, signature)
}

// SignEd25519 produces Signature-Input and Signature header values for req.
// It is used by agent clients and tests.
func SignEd25519(key ed25519.PrivateKey, in SignatureInput, req Request) (signatureInput, signature string, err error) {
	if in.Label == "" {
		in.Label = "sig1"
	}
	if in.Algorithm == "" {
		in.Algorithm = AlgEd25519
	}
	signatureInput, in, err = FormatSignatureInput(in)
	if err != nil {
		return "", "", err
	}
	base, err := SignatureBase(in, req)
	if err != nil {
		return "", "", err
	}
	signature, err = FormatSignature(in.Label, ed25519.Sign(key, base))
	if err != nil {
		return "", "", err
	}
	return signatureInput, signature, nil
}
