package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sumup/agentpay/x402"
)

// Network is the EIP-712 domain data of the settlement token on one
// network. The verifying contract is taken from the challenge.
type Network struct {
	TokenName    string
	TokenVersion string
	ChainID      int64
}

// Verifier implements [x402.PayloadVerifier] for EVM payers.
//
// A payload carrying an ERC-3009 authorization must bind to the challenge
// (to is the payee, value is the amount, from is the payer, nonce is the
// challenge nonce) and be signed by from. Any other payload must carry a personal signature from the payer
// over [x402.SigningBytes].
type Verifier struct {
	networks map[string]Network
}

// NewVerifier builds a verifier for the given networks, keyed by the
// challenge network name.
func NewVerifier(networks map[string]Network) *Verifier {
	cp := make(map[string]Network, len(networks))
	for name, n := range networks {
		cp[name] = n
	}
	return &Verifier{networks: cp}
}

// VerifyPayload implements [x402.PayloadVerifier].
func (v *Verifier) VerifyPayload(_ context.Context, c *x402.Challenge, p *x402.PaymentPayload) error {
	if !common.IsHexAddress(p.PayerAddress) {
		return fmt.Errorf("%w: payer is not an address", x402.ErrSignatureInvalid)
	}
	payer := common.HexToAddress(p.PayerAddress)

	if p.Authorization == nil {
		signer, err := RecoverPayloadSigner(p)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrSignatureInvalid, err)
		}
		if signer != payer {
			return x402.ErrSignatureInvalid
		}
		return nil
	}

	a := p.Authorization
	amount, err := x402.ParseUint256(c.Amount)
	if err != nil {
		return x402.ErrAuthorizationMismatch
	}
	if !sameAddress(a.To, c.PayeeAddress) || !sameAddress(a.From, p.PayerAddress) || a.Value.Cmp(amount) != 0 {
		return x402.ErrAuthorizationMismatch
	}
	// The authorization nonce is the challenge nonce, so an authorization
	// signed for one challenge cannot answer another.
	if !strings.EqualFold(a.Nonce, c.Nonce) {
		return x402.ErrAuthorizationMismatch
	}

	network, ok := v.networks[c.Network]
	if !ok {
		return fmt.Errorf("%w: unsupported network %q", x402.ErrSignatureInvalid, c.Network)
	}
	signer, err := RecoverAuthorizer(TokenDomain{
		Name:              network.TokenName,
		Version:           network.TokenVersion,
		ChainID:           big.NewInt(network.ChainID),
		VerifyingContract: common.HexToAddress(c.TokenAddress),
	}, a)
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrSignatureInvalid, err)
	}
	if signer != payer {
		return x402.ErrSignatureInvalid
	}
	return nil
}

func sameAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}
