package reason

import (
	"fmt"
	"net/http"
	"sort"
)

// Mapping is one row of the registry.
type Mapping struct {
	Code          Code   `json:"code"`
	HTTPStatus    int    `json:"http_status"`
	Message       string `json:"message"`
	SpecReference string `json:"spec_reference"`
}

var table = map[Code]Mapping{
	TAPHeaderMissing:             row(TAPHeaderMissing, http.StatusUnauthorized, "Signature and Signature-Input headers are required and must parse", "TAP §4.2 step 1-2"),
	TAPRequiredComponentsMissing: row(TAPRequiredComponentsMissing, http.StatusUnauthorized, "Signature must cover @authority and @path", "TAP §4.2 step 3"),
	TAPTagInvalid:                row(TAPTagInvalid, http.StatusForbidden, "Signature tag is not allowed for this endpoint", "TAP §4.2 step 4"),
	TAPLabelMismatch:             row(TAPLabelMismatch, http.StatusUnauthorized, "Signature label does not match Signature-Input label", "TAP §4.2 step 5"),
	TAPCreatedNotInPast:          row(TAPCreatedNotInPast, http.StatusUnauthorized, "Signature created timestamp is in the future", "TAP §4.2 step 6"),
	TAPWindowTooLarge:            row(TAPWindowTooLarge, http.StatusUnauthorized, "Signature validity window exceeds the maximum", "TAP §4.2 step 7"),
	TAPSignatureExpired:          row(TAPSignatureExpired, http.StatusUnauthorized, "Signature has expired", "TAP §4.2 step 8"),
	TAPAlgorithmUnsupported:      row(TAPAlgorithmUnsupported, http.StatusUnauthorized, "Signature algorithm is not supported", "TAP §4.2 step 9"),
	TAPNonceReplayed:             row(TAPNonceReplayed, http.StatusConflict, "Signature nonce has already been used", "TAP §4.2 step 10"),
	TAPSignatureInvalid:          row(TAPSignatureInvalid, http.StatusUnauthorized, "Signature verification failed", "TAP §4.2 step 11"),
	TAPReplayStoreUnavailable:    row(TAPReplayStoreUnavailable, http.StatusServiceUnavailable, "Replay protection is unavailable", "TAP §4.2 step 10, §7"),

	AP2ChainIncomplete:             row(AP2ChainIncomplete, http.StatusBadRequest, "Intent, cart and payment mandates are all required", "AP2 §3 MandateChain"),
	AP2CanonicalizationUnsupported: row(AP2CanonicalizationUnsupported, http.StatusBadRequest, "Canonicalization mode is not supported", "AP2 §6"),
	AP2SignatureMalformed:          row(AP2SignatureMalformed, http.StatusBadRequest, "Mandate or its proof is malformed", "AP2 §4.3"),
	AP2SignatureInvalid:            row(AP2SignatureInvalid, http.StatusUnauthorized, "Mandate signature verification failed", "AP2 §4.3"),
	AP2MandateExpired:              row(AP2MandateExpired, http.StatusUnauthorized, "Mandate has expired", "AP2 §4.3"),
	AP2DomainInvalid:               row(AP2DomainInvalid, http.StatusBadRequest, "Mandate domain is not a valid domain name", "AP2 §4.3"),
	AP2MandateReplayed:             row(AP2MandateReplayed, http.StatusConflict, "Mandate nonce has already been used", "AP2 §4.3"),
	AP2ReplayStoreUnavailable:      row(AP2ReplayStoreUnavailable, http.StatusServiceUnavailable, "Replay protection is unavailable", "AP2 §4.3, §7"),
	AP2TypePurposeMismatch:         row(AP2TypePurposeMismatch, http.StatusBadRequest, "Mandate type does not match its purpose or position in the chain", "AP2 §4.3"),
	AP2SubjectMismatch:             row(AP2SubjectMismatch, http.StatusUnprocessableEntity, "Mandate subjects differ across the chain", "AP2 §3 MandateChain"),
	AP2AmountOverflow:              row(AP2AmountOverflow, http.StatusUnprocessableEntity, "Mandate amounts are negative or overflow", "AP2 §4.3"),
	AP2PaymentExceedsCart:          row(AP2PaymentExceedsCart, http.StatusUnprocessableEntity, "Payment amount exceeds the cart total", "AP2 §3 MandateChain"),
	AP2PaymentExceedsIntent:        row(AP2PaymentExceedsIntent, http.StatusUnprocessableEntity, "Payment amount exceeds the intent budget", "AP2 §3 MandateChain"),
	AP2AuditHashMismatch:           row(AP2AuditHashMismatch, http.StatusUnprocessableEntity, "Payment audit hash does not match cart, intent and amount", "AP2 §3 Payment"),
	AP2AgentPresenceMissing:        row(AP2AgentPresenceMissing, http.StatusBadRequest, "Payment mandate must declare agent presence", "AP2 §4.3"),
	AP2ModalityInvalid:             row(AP2ModalityInvalid, http.StatusBadRequest, "Transaction modality must be human_present or human_not_present", "AP2 §4.3"),
	AP2IdentityNotResolved:         row(AP2IdentityNotResolved, http.StatusForbidden, "Issuing agent identity could not be resolved", "AP2 §4.3"),
	AP2DomainNotAuthorized:         row(AP2DomainNotAuthorized, http.StatusForbidden, "Agent is not authorized for the merchant domain", "AP2 §4.3"),
	AP2RateLimited:                 row(AP2RateLimited, http.StatusTooManyRequests, "Agent has exceeded its rate limit", "AP2 §4.3"),
	AP2SecurityLock:                row(AP2SecurityLock, http.StatusLocked, "Transaction is locked by the agent security policy", "AP2 §4.3"),

	UCPSessionNotFound:  row(UCPSessionNotFound, http.StatusNotFound, "Checkout session not found", "UCP §4.4"),
	UCPSessionExpired:   row(UCPSessionExpired, http.StatusGone, "Checkout session has expired", "UCP §4.4"),
	UCPInvalidOperation: row(UCPInvalidOperation, http.StatusConflict, "Operation is not valid for the checkout session status", "UCP §4.4"),
	UCPEmptyCart:        row(UCPEmptyCart, http.StatusBadRequest, "Checkout requires at least one line item", "UCP §4.4"),
	UCPRequestInvalid:   row(UCPRequestInvalid, http.StatusBadRequest, "Checkout request is invalid", "UCP §4.4"),
	UCPLineItemInvalid:  row(UCPLineItemInvalid, http.StatusBadRequest, "Checkout line item is invalid", "UCP §3 CheckoutSession"),
	UCPAmountOverflow:   row(UCPAmountOverflow, http.StatusUnprocessableEntity, "Checkout total is out of range", "UCP §3 CheckoutSession"),

	X402PayloadMalformed:          row(X402PayloadMalformed, http.StatusBadRequest, "Payment payload is malformed", "x402 §6"),
	X402ChallengeNotFound:         row(X402ChallengeNotFound, http.StatusPaymentRequired, "Payment challenge not found", "x402 §4.5"),
	X402ChallengeAlreadyUsed:      row(X402ChallengeAlreadyUsed, http.StatusConflict, "Payment challenge has already been used", "x402 §3 X402Challenge"),
	X402PaymentIDMismatch:         row(X402PaymentIDMismatch, http.StatusBadRequest, "Payment id does not match the challenge", "x402 §4.5"),
	X402NonceMismatch:             row(X402NonceMismatch, http.StatusBadRequest, "Payment nonce does not match the challenge", "x402 §4.5"),
	X402AmountMismatch:            row(X402AmountMismatch, http.StatusPaymentRequired, "Payment amount does not match the challenge", "x402 §4.5"),
	X402ChallengeExpired:          row(X402ChallengeExpired, http.StatusPaymentRequired, "Payment challenge has expired", "x402 §4.5"),
	X402SignatureInvalid:          row(X402SignatureInvalid, http.StatusUnauthorized, "Payment signature verification failed", "x402 §4.5"),
	X402AuthorizationMismatch:     row(X402AuthorizationMismatch, http.StatusBadRequest, "Transfer authorization does not match the challenge", "x402 §3 ERC3009Authorization"),
	X402AuthorizationNotYetValid:  row(X402AuthorizationNotYetValid, http.StatusTooEarly, "Transfer authorization is not yet valid", "x402 §4.5 ERC-3009"),
	X402AuthorizationExpired:      row(X402AuthorizationExpired, http.StatusGone, "Transfer authorization has expired", "x402 §4.5 ERC-3009"),
	X402AuthorizationRangeInvalid: row(X402AuthorizationRangeInvalid, http.StatusBadRequest, "valid_after must be before valid_before", "x402 §4.5 ERC-3009"),
	X402SettlementFailed:          row(X402SettlementFailed, http.StatusBadGateway, "Payment settlement failed", "x402 §4.5"),
	X402SettlementNotFound:        row(X402SettlementNotFound, http.StatusNotFound, "Settlement not found", "x402 §4.5"),
}

func row(code Code, status int, message, ref string) Mapping {
	return Mapping{Code: code, HTTPStatus: status, Message: message, SpecReference: ref}
}

// Get returns the registry row for code. Every declared code has a row, so a
// miss is a programming error and panics.
func Get(code Code) Mapping {
	m, ok := table[code]
	if !ok {
		panic(fmt.Sprintf("reason: no registry entry for code %q", code))
	}
	return m
}

// Lookup is the non-panicking variant of [Get] for codes received from
// outside the process.
func Lookup(code Code) (Mapping, bool) {
	m, ok := table[code]
	return m, ok
}

// HTTPStatus is shorthand for Get(code).HTTPStatus.
func HTTPStatus(code Code) int {
	return Get(code).HTTPStatus
}

// All returns every row ordered by code.
func All() []Mapping {
	rows := make([]Mapping, 0, len(table))
	for _, m := range table {
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows
}
