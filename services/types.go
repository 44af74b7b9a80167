package services

import (
	"log/slog"
	"time"

	"github.com/shafiqahmeddev/lqap-project/crypto"
	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// ServiceConfig contains configuration for the LQAP node service.
type ServiceConfig struct {
	ProtocolConfig *protocol.Config

	// NodeID identifies this edge node in logs and audit records.
	NodeID string

	// Domain is the administrative domain this node serves.
	Domain string

	HTTPAddr    string
	MetricsAddr string

	// LedgerURL is the external audit ledger. Empty selects the
	// in-memory ledger for local deployments.
	LedgerURL string

	// ScorerURL is the anomaly scoring service. Empty selects a static
	// zero-score source.
	ScorerURL string

	// AuditQueuePath is the SQLite file backing the audit fallback
	// queue. Empty selects an in-memory queue.
	AuditQueuePath string

	Log *slog.Logger
}

// EnrollmentRequest registers an identity and provisions its key tree.
// The device answers enrollment challenges over the device callback URL
// or, for simulated deployments, through an in-process oracle.
type EnrollmentRequest struct {
	IdentityID string `json:"identity_id"`
	Role       string `json:"role"`
	Domain     string `json:"domain"`
}

// EnrollmentResponse reports the enrollment outcome.
type EnrollmentResponse struct {
	IdentityID  string `json:"identity_id"`
	MerkleRoot  string `json:"merkle_root"`
	StablePairs int    `json:"stable_pairs"`
	Capacity    uint32 `json:"capacity"`
}

// SessionStartRequest opens an authentication session.
type SessionStartRequest struct {
	InitiatorID string `json:"initiator_id"`
	VerifierID  string `json:"verifier_id"`
}

// SessionStartResponse carries the session id, the PUF challenge the
// initiator must answer, and the nonce any cross-domain proof must bind.
type SessionStartResponse struct {
	SessionID    string           `json:"session_id"`
	PUFChallenge crypto.BitVector `json:"puf_challenge"`
	Nonce        []byte           `json:"nonce"`
	CrossDomain  bool             `json:"cross_domain"`
	Deadline     time.Time        `json:"deadline"`
}

// SessionStatusResponse reports a session's current state.
type SessionStatusResponse struct {
	SessionID string               `json:"session_id"`
	State     string               `json:"state"`
	Result    *protocol.AuthResult `json:"result,omitempty"`
}

// ErrorResponse is the coarse error body returned to counterparties.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Reason protocol.ReasonCode `json:"reason,omitempty"`
}
