package ap2

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sumup/agentpay/signature"
)

// CanonicalizationMode selects how a mandate is serialized before signing.
type CanonicalizationMode string

const (
	// CanonicalizationJCS is RFC 8785 JSON canonicalization.
	CanonicalizationJCS CanonicalizationMode = "jcs"
	// CanonicalizationJSON is compact encoding/json output with sorted keys.
	CanonicalizationJSON CanonicalizationMode = "json"
)

// ErrUnsupportedCanonicalization is returned for unknown modes.
var ErrUnsupportedCanonicalization = errors.New("ap2: unsupported canonicalization mode")

// Supported reports whether mode is known. The empty mode means JCS.
func (m CanonicalizationMode) Supported() bool {
	switch m {
	case "", CanonicalizationJCS, CanonicalizationJSON:
		return true
	}
	return false
}

// SigningBytes returns the bytes covered by a mandate's proof: the mandate
// with proof.signature removed, canonicalized per mode.
func SigningBytes(m Mandate, mode CanonicalizationMode) ([]byte, error) {
	if !mode.Supported() {
		return nil, ErrUnsupportedCanonicalization
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("ap2: marshal mandate: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("ap2: decode mandate: %w", err)
	}
	if proof, ok := doc["proof"].(map[string]any); ok {
		delete(proof, "signature")
	}
	stripped, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("ap2: marshal mandate: %w", err)
	}
	if mode == CanonicalizationJSON {
		return stripped, nil
	}
	return signature.CanonicalizeJSONBody(stripped)
}

// DecodeSignature accepts standard or URL-safe base64, padded or not.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if s == "" {
		return nil, errors.New("ap2: empty signature")
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// AuditHash binds a payment to its cart, intent and amount: the hex SHA-256
// of cart mandate id, intent mandate id and the decimal amount, concatenated.
func AuditHash(cartID, intentID string, amountMinor int64) string {
	sum := sha256.Sum256([]byte(cartID + intentID + strconv.FormatInt(amountMinor, 10)))
	return hex.EncodeToString(sum[:])
}

// SignEd25519 fills m's proof with an Ed25519 signature over its signing
// bytes. It is used by agent clients and tests.
func SignEd25519(m Mandate, mode CanonicalizationMode, key ed25519.PrivateKey, keyID string, created time.Time) error {
	base := m.Base()
	base.Proof = Proof{KeyID: keyID, Created: created.UTC(), Algorithm: "ed25519"}
	msg, err := SigningBytes(m, mode)
	if err != nil {
		return err
	}
	base.Proof.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(key, msg))
	return nil
}
