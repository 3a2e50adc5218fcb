// Package x402 implements HTTP 402 challenge-response payments: challenge
// issuance, payload verification against the challenge, ERC-3009
// authorization timing, and a settlement state machine that hands verified
// transfers to a [ChainExecutor].
//
// The EVM-specific signature checks and facilitator client live in the evm
// subpackage; gRPC-gateway metadata plumbing lives in gateway.
package x402
