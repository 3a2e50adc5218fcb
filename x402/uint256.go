package x402

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Uint256 is an unsigned 256-bit integer. It accepts JSON numbers, decimal
// strings and 0x-prefixed hex strings, and always marshals as a decimal
// string.
type Uint256 struct {
	v *big.Int
}

// NewUint256 copies x. It returns an error when x is negative or too large.
func NewUint256(x *big.Int) (Uint256, error) {
	if x == nil {
		return Uint256{}, nil
	}
	if x.Sign() < 0 || x.Cmp(maxUint256) > 0 {
		return Uint256{}, fmt.Errorf("x402: %s is out of uint256 range", x)
	}
	return Uint256{v: new(big.Int).Set(x)}, nil
}

// Uint256FromInt64 converts a non-negative int64; negative input yields zero.
func Uint256FromInt64(x int64) Uint256 {
	if x < 0 {
		return Uint256{}
	}
	return Uint256{v: big.NewInt(x)}
}

// ParseUint256 parses a decimal or 0x-prefixed hex string.
func ParseUint256(s string) (Uint256, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" {
		return Uint256{}, fmt.Errorf("x402: empty integer")
	}
	x, ok := new(big.Int).SetString(s, base)
	if !ok {
		return Uint256{}, fmt.Errorf("x402: %q is not an integer", s)
	}
	return NewUint256(x)
}

// Big returns a copy of the value.
func (u Uint256) Big() *big.Int {
	if u.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(u.v)
}

// Cmp compares u and o.
func (u Uint256) Cmp(o Uint256) int {
	return u.Big().Cmp(o.Big())
}

func (u Uint256) String() string {
	return u.Big().String()
}

// MarshalJSON encodes u as a decimal string.
func (u Uint256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON accepts a JSON string or number.
func (u *Uint256) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = Uint256{}
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	parsed, err := ParseUint256(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
