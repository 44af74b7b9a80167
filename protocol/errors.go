package protocol

import "errors"

// Protocol error taxonomy. Cryptographic and identity failures are terminal
// for a session and never retried; operational conditions (key exhaustion,
// anomaly service timeout, deferred audit) are resolved locally.
var (
	// ErrEnrollment indicates too few stable challenge-response pairs were
	// obtained while enrolling a PUF.
	ErrEnrollment = errors.New("puf enrollment failed")

	// ErrPUFMismatch indicates a response exceeded the Hamming threshold.
	ErrPUFMismatch = errors.New("puf response mismatch")

	// ErrIdentityNotBound indicates credential issuance without a prior
	// successful PUF verification.
	ErrIdentityNotBound = errors.New("identity not bound to hardware")

	// ErrKeyExhausted indicates the identity's one-time key tree has no
	// unused leaves; the edge node must re-provision a new tree.
	ErrKeyExhausted = errors.New("one-time key tree exhausted")

	// ErrInvalidSignature indicates a one-time signature did not recover
	// the committed leaf public key.
	ErrInvalidSignature = errors.New("invalid one-time signature")

	// ErrInvalidPath indicates a Merkle authentication path that does not
	// reach the published root.
	ErrInvalidPath = errors.New("invalid merkle authentication path")

	// ErrExpired indicates a credential past its expiry timestamp.
	ErrExpired = errors.New("credential expired")

	// ErrLeafReuseDetected indicates a credential referencing a leaf that
	// was issued to a different credential: forgery or replay. Fatal to
	// the session and reported for audit.
	ErrLeafReuseDetected = errors.New("one-time leaf reuse detected")

	// ErrNonceMismatch indicates a possession proof bound to a different
	// session nonce.
	ErrNonceMismatch = errors.New("proof nonce mismatch")

	// ErrProofReplay indicates a possession proof presented more than once.
	ErrProofReplay = errors.New("proof already consumed")

	// ErrAnomalyServiceTimeout indicates the anomaly scorer did not answer
	// within the bounded wait; resolved by the fail-open/closed policy.
	ErrAnomalyServiceTimeout = errors.New("anomaly service timeout")

	// ErrAuditDeferred indicates the ledger rejected a record past the
	// retry budget and the record went to the durable fallback queue.
	ErrAuditDeferred = errors.New("audit record deferred to fallback queue")

	// ErrSessionExpired indicates the session deadline passed before a
	// decision was reached.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnknownIdentity indicates an identity absent from the registry.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrNotProvisioned indicates an identity with no one-time key tree.
	ErrNotProvisioned = errors.New("identity has no provisioned key tree")

	// ErrSessionNotFound indicates a message for a session id that does
	// not exist or was already disposed.
	ErrSessionNotFound = errors.New("session not found")
)

// ReasonCode is the coarse failure reason exposed to the authenticating
// party. Internal detail (which leaf, which check) stays in the audit
// trail to avoid leaking cryptographic state to a counterparty.
type ReasonCode string

const (
	ReasonNone           ReasonCode = ""
	ReasonPUFRejected    ReasonCode = "puf_rejected"
	ReasonBadCredential  ReasonCode = "bad_credential"
	ReasonBadProof       ReasonCode = "bad_proof"
	ReasonAnomalous      ReasonCode = "anomalous_behavior"
	ReasonSessionExpired ReasonCode = "session_expired"
	ReasonInternal       ReasonCode = "internal_error"
)

// ReasonFor maps an internal error to the coarse code a counterparty sees.
func ReasonFor(err error) ReasonCode {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrPUFMismatch), errors.Is(err, ErrIdentityNotBound):
		return ReasonPUFRejected
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrExpired), errors.Is(err, ErrLeafReuseDetected):
		return ReasonBadCredential
	case errors.Is(err, ErrNonceMismatch), errors.Is(err, ErrProofReplay):
		return ReasonBadProof
	case errors.Is(err, ErrSessionExpired):
		return ReasonSessionExpired
	default:
		return ReasonInternal
	}
}
