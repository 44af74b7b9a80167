// Package protocol implements the LQAP authentication engine for
// Vehicle-to-Grid networks.
//
// LQAP (Lightweight Quantum-resistant Authentication Protocol) binds four
// trust mechanisms into one per-session decision:
//
//   - hardware identity via PUF challenge-response verification
//   - post-quantum credentials via Winternitz one-time signatures over a
//     Merkle key tree, issued and verified by the credential authority
//   - privacy-preserving cross-domain verification via Schnorr possession
//     proofs bound to the session nonce
//   - a federated anomaly score that can veto an otherwise valid
//     authentication
//
// # Roles
//
// Four entity roles participate: electric vehicles (EV), charging stations
// (CS), edge nodes, and electric service providers (ESP). Edge nodes own
// enrollment and credential issuance for their domain; ESPs delimit
// administrative domains. A session is cross-domain when initiator and
// verifier belong to different domains, which inserts the possession-proof
// exchange into the flow.
//
// # Session flow
//
// Each authentication attempt is an independent Session advancing through
//
//	INIT -> PUF_CHALLENGED -> PUF_VERIFIED -> CREDENTIAL_VERIFIED
//	     -> [ZKP_VERIFIED] -> ANOMALY_CHECKED -> AUTHENTICATED | REJECTED
//
// with EXPIRED reachable from every non-terminal state once the session
// deadline passes. Transitions are strictly forward; replaying a message
// against a terminal session returns the recorded decision without side
// effects. Every terminal session emits exactly one audit record.
//
// # One-time key lifecycle
//
// The credential authority is the single owner of per-identity one-time
// key state. Claiming a leaf is atomic with respect to concurrent issuance
// for the same identity: no leaf index is ever issued twice, and a
// credential presenting a leaf recorded under a different issuance is
// rejected as reuse and reported for audit.
//
// # Concurrency
//
// Sessions are independent units of work; the only shared mutable state is
// the authority's leaf bookkeeping, serialized per identity. The anomaly
// gate is the one call that may block, bounded by a timeout with a
// configurable fail-open/fail-closed policy. Audit submission runs in the
// background and never blocks or reverses a decision.
package protocol
