// Package evm binds x402 payments to EVM chains: EIP-712 hashing and
// signing of ERC-3009 TransferWithAuthorization messages, payload signature
// recovery, and a facilitator-backed chain executor.
package evm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/sumup/agentpay/x402"
)

// TokenDomain is the EIP-712 domain of an ERC-3009 token contract.
type TokenDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var transferTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// TransferWithAuthorizationHash returns the EIP-712 digest signed by the
// payer.
func TransferWithAuthorizationHash(d TokenDomain, a *x402.ERC3009Authorization) ([]byte, error) {
	if d.ChainID == nil {
		return nil, errors.New("evm: chain id is required")
	}
	if !common.IsHexAddress(a.From) || !common.IsHexAddress(a.To) {
		return nil, errors.New("evm: authorization addresses must be hex addresses")
	}
	nonce, err := hexutil.Decode(a.Nonce)
	if err != nil || len(nonce) != common.HashLength {
		return nil, errors.New("evm: authorization nonce must be 32 bytes")
	}
	typedData := apitypes.TypedData{
		Types:       transferTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        common.HexToAddress(a.From).Hex(),
			"to":          common.HexToAddress(a.To).Hex(),
			"value":       (*math.HexOrDecimal256)(a.Value.Big()),
			"validAfter":  (*math.HexOrDecimal256)(a.ValidAfter.Big()),
			"validBefore": (*math.HexOrDecimal256)(a.ValidBefore.Big()),
			"nonce":       common.BytesToHash(nonce).Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("evm: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct("TransferWithAuthorization", typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("evm: hash message: %w", err)
	}
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// SignAuthorization fills in V, R and S of a. This is the payer side of the
// exchange and is used by clients and tests.
func SignAuthorization(key *ecdsa.PrivateKey, d TokenDomain, a *x402.ERC3009Authorization) error {
	digest, err := TransferWithAuthorizationHash(d, a)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return fmt.Errorf("evm: sign authorization: %w", err)
	}
	a.R = hexutil.Encode(sig[:32])
	a.S = hexutil.Encode(sig[32:64])
	a.V = sig[64] + 27
	return nil
}

// RecoverAuthorizer returns the address that signed a.
func RecoverAuthorizer(d TokenDomain, a *x402.ERC3009Authorization) (common.Address, error) {
	digest, err := TransferWithAuthorizationHash(d, a)
	if err != nil {
		return common.Address{}, err
	}
	r, err := hexutil.Decode(a.R)
	if err != nil || len(r) != 32 {
		return common.Address{}, errors.New("evm: r must be 32 bytes")
	}
	s, err := hexutil.Decode(a.S)
	if err != nil || len(s) != 32 {
		return common.Address{}, errors.New("evm: s must be 32 bytes")
	}
	v := a.V
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, fmt.Errorf("evm: invalid recovery id %d", a.V)
	}
	sig := make([]byte, 0, crypto.SignatureLength)
	sig = append(sig, r...)
	sig = append(sig, s...)
	sig = append(sig, v)
	return recoverAddress(digest, sig)
}

// SignPayload signs a payload that carries no transfer authorization with an
// EIP-191 personal signature over [x402.SigningBytes].
func SignPayload(key *ecdsa.PrivateKey, p *x402.PaymentPayload) error {
	msg, err := x402.SigningBytes(p)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return fmt.Errorf("evm: sign payload: %w", err)
	}
	sig[64] += 27
	p.Signature = hexutil.Encode(sig)
	return nil
}

// RecoverPayloadSigner returns the address behind p.Signature.
func RecoverPayloadSigner(p *x402.PaymentPayload) (common.Address, error) {
	sig, err := hexutil.Decode(p.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("evm: signature must be 65 hex bytes")
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	msg, err := x402.SigningBytes(p)
	if err != nil {
		return common.Address{}, err
	}
	return recoverAddress(accounts.TextHash(msg), sig)
}

func recoverAddress(digest, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
