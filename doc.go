// Package agentpay serves the agent payment stack over net/http.
//
// A request from a shopping agent passes four layers, each of which may
// reject it with a code from package reason:
//
//   - TAP: the agent proves its identity with an RFC 9421 HTTP message
//     signature. See [HandlerConfig].
//   - AP2: the agent presents intent, cart and payment mandates that must
//     agree with each other.
//   - UCP: the merchant's checkout session fixes the amount of record.
//   - x402: the merchant answers with a 402 challenge for that amount and
//     settles the signed payment payload exactly once.
//
// # Routes
//
// Merchant routes create and manage checkout sessions and are guarded by the
// optional [Authenticator]:
//
//	POST /checkout_sessions
//	POST /checkout_sessions/{id}
//	POST /checkout_sessions/{id}/escalate
//	POST /checkout_sessions/{id}/approve
//	POST /checkout_sessions/{id}/cancel
//
// Agent routes are guarded by the TAP identity verifier:
//
//	GET  /checkout_sessions/{id}
//	POST /checkout_sessions/{id}/pay
//	POST /ap2/mandates/verify
//	GET  /x402/settlements/{payment_id}
//
// GET /reason_codes lists the rejection registry.
//
// The mandate verification route records the mandate nonces exactly like the
// pay route does. A chain checked there cannot be presented to pay again; the
// agent signs fresh mandates for the payment.
//
// # Payment flow
//
// The first call to the pay route carries the mandate chain and receives
// 402 Payment Required with the challenge in the Payment-Required header.
// The agent signs it and repeats the call with a Payment-Signature header.
// The handler verifies and settles the payload, completes the session and
// returns the settlement summary in the Payment-Response header.
//
// Finalized settlements can be forwarded to a ledger with [WebhookSink].
package agentpay
