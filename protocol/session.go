package protocol

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

// State is a session's position in the authentication flow.
type State int

const (
	StateInit State = iota
	StatePUFChallenged
	StatePUFVerified
	StateCredentialVerified
	StateZKPVerified
	StateAnomalyChecked
	StateAuthenticated
	StateRejected
	StateExpired
)

var stateNames = map[State]string{
	StateInit:               "INIT",
	StatePUFChallenged:      "PUF_CHALLENGED",
	StatePUFVerified:        "PUF_VERIFIED",
	StateCredentialVerified: "CREDENTIAL_VERIFIED",
	StateZKPVerified:        "ZKP_VERIFIED",
	StateAnomalyChecked:     "ANOMALY_CHECKED",
	StateAuthenticated:      "AUTHENTICATED",
	StateRejected:           "REJECTED",
	StateExpired:            "EXPIRED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateRejected || s == StateExpired
}

// transitions is the forward-only edge set of the session graph. REJECTED
// is reachable from every verifying state; EXPIRED is handled separately
// as the global deadline transition.
var transitions = map[State][]State{
	StateInit:               {StatePUFChallenged},
	StatePUFChallenged:      {StatePUFVerified, StateRejected},
	StatePUFVerified:        {StateCredentialVerified, StateRejected},
	StateCredentialVerified: {StateZKPVerified, StateAnomalyChecked, StateRejected},
	StateZKPVerified:        {StateAnomalyChecked, StateRejected},
	StateAnomalyChecked:     {StateAuthenticated, StateRejected},
}

// CanTransition reports whether from -> to is a legal edge. The deadline
// transition to EXPIRED is legal from any non-terminal state.
func CanTransition(from, to State) bool {
	if to == StateExpired {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one authentication attempt. Created on first message,
// disposed on terminal state or deadline expiry. All mutation happens
// under mu; within one session, component checks run strictly
// sequentially.
type Session struct {
	ID          string
	Initiator   Identity
	Verifier    Identity
	Nonce       []byte
	Challenge   crypto.BitVector
	CreatedAt   time.Time
	Deadline    time.Time
	CrossDomain bool

	mu      sync.Mutex
	state   State
	history []State
	result  *AuthResult
	audited bool
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns the ordered states the session has passed through.
func (s *Session) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.history))
	copy(out, s.history)
	return out
}

// advance moves the session along a legal edge. Callers hold s.mu.
func (s *Session) advance(to State) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("illegal transition %s -> %s", s.state, to)
	}
	s.state = to
	s.history = append(s.history, to)
	return nil
}

// Engine composes the PUF verifier, credential authority, cross-domain
// verifier, anomaly gate, and audit emitter into per-session
// authentication runs. Sessions are independent; the engine holds no
// mutable state shared between them beyond the authority's leaf
// bookkeeping.
type Engine struct {
	config    *Config
	puf       *PUFVerifier
	authority *Authority
	zkp       *ZKPVerifier
	gate      *AnomalyGate
	auditor   *AuditEmitter
	log       *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	identities map[string]Identity
	sessions   map[string]*Session
}

// NewEngine wires the authentication engine.
func NewEngine(config *Config, puf *PUFVerifier, authority *Authority, zkp *ZKPVerifier,
	gate *AnomalyGate, auditor *AuditEmitter, log *slog.Logger) *Engine {
	return &Engine{
		config:     config,
		puf:        puf,
		authority:  authority,
		zkp:        zkp,
		gate:       gate,
		auditor:    auditor,
		log:        log,
		now:        time.Now,
		identities: make(map[string]Identity),
		sessions:   make(map[string]*Session),
	}
}

// RegisterIdentity records an enrolled identity. Identities are immutable
// after enrollment; re-registration under the same id is rejected.
func (e *Engine) RegisterIdentity(identity Identity) error {
	if !identity.Role.Valid() {
		return fmt.Errorf("invalid role %q", identity.Role)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.identities[identity.ID]; exists {
		return fmt.Errorf("identity %s already registered", identity.ID)
	}
	e.identities[identity.ID] = identity
	return nil
}

// Identity returns a registered identity.
func (e *Engine) Identity(id string) (Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	identity, ok := e.identities[id]
	if !ok {
		return Identity{}, ErrUnknownIdentity
	}
	return identity, nil
}

// StartSession opens an authentication attempt between two registered
// identities and hands out the PUF challenge. The session enters
// PUF_CHALLENGED and carries a fresh nonce for cross-domain proof
// binding.
func (e *Engine) StartSession(initiatorID, verifierID string) (*Session, crypto.BitVector, error) {
	initiator, err := e.Identity(initiatorID)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := e.Identity(verifierID)
	if err != nil {
		return nil, nil, err
	}

	challenge, err := e.puf.Challenge(initiatorID)
	if err != nil {
		return nil, nil, err
	}

	nonce, err := crypto.RandomBits(256)
	if err != nil {
		return nil, nil, err
	}

	createdAt := e.now()
	session := &Session{
		ID:          uuid.NewString(),
		Initiator:   initiator,
		Verifier:    verifier,
		Nonce:       nonce,
		Challenge:   challenge,
		CreatedAt:   createdAt,
		Deadline:    createdAt.Add(e.config.SessionTTL),
		CrossDomain: !initiator.SameDomain(verifier),
		state:       StateInit,
		history:     []State{StateInit},
	}
	session.mu.Lock()
	if err := session.advance(StatePUFChallenged); err != nil {
		session.mu.Unlock()
		return nil, nil, err
	}
	session.mu.Unlock()

	e.mu.Lock()
	e.sessions[session.ID] = session
	e.mu.Unlock()

	e.log.Info("session started",
		"session", session.ID,
		"initiator", initiatorID,
		"verifier", verifierID,
		"cross_domain", session.CrossDomain)

	return session, challenge, nil
}

// Session returns a live session by id.
func (e *Engine) Session(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session, ok := e.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Authenticate drives a session from PUF_CHALLENGED to a terminal state.
// For an already-terminal session it returns the recorded decision
// without re-running any check or re-emitting audit.
func (e *Engine) Authenticate(ctx context.Context, sessionID string, req *AuthRequest) (*AuthResult, error) {
	session, err := e.Session(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.state.Terminal() {
		return session.result, nil
	}

	if deadline := e.checkDeadline(session); deadline != nil {
		return deadline, nil
	}

	// PUF challenge-response, bound to the challenge issued at session
	// start. A response to any other enrolled challenge is rejected.
	if !bytes.Equal(req.PUFChallenge, session.Challenge) {
		return e.reject(session, ErrPUFMismatch), nil
	}
	if err := e.puf.Verify(session.Initiator.ID, session.Challenge, req.PUFResponse); err != nil {
		return e.reject(session, err), nil
	}
	if err := session.advance(StatePUFVerified); err != nil {
		return nil, err
	}

	if deadline := e.checkDeadline(session); deadline != nil {
		return deadline, nil
	}

	// One-time credential.
	if req.Credential == nil || req.Credential.IdentityID != session.Initiator.ID {
		return e.reject(session, ErrInvalidSignature), nil
	}
	if err := e.authority.Verify(req.Credential, req.Signature, req.Message); err != nil {
		return e.reject(session, err), nil
	}
	if err := session.advance(StateCredentialVerified); err != nil {
		return nil, err
	}

	if deadline := e.checkDeadline(session); deadline != nil {
		return deadline, nil
	}

	// Cross-domain possession proof.
	if session.CrossDomain {
		if err := e.zkp.Verify(req.Proof, session.Initiator.ID, session.Nonce); err != nil {
			return e.reject(session, err), nil
		}
		if err := session.advance(StateZKPVerified); err != nil {
			return nil, err
		}

		if deadline := e.checkDeadline(session); deadline != nil {
			return deadline, nil
		}
	}

	// Anomaly veto, bounded by the session deadline.
	gateCtx, cancel := context.WithDeadline(ctx, session.Deadline)
	decision, gateErr := e.gate.Check(gateCtx, session.Initiator.ID)
	cancel()

	if deadline := e.checkDeadline(session); deadline != nil {
		return deadline, nil
	}
	if err := session.advance(StateAnomalyChecked); err != nil {
		return nil, err
	}

	if !decision.Allow {
		evidence := fmt.Sprintf("anomaly score %.2f over threshold %.2f",
			decision.Score, e.config.AnomalyThreshold)
		if decision.TimedOut {
			evidence = ErrAnomalyServiceTimeout.Error() + ", fail-closed policy applied"
		}
		return e.rejectWithReason(session, ReasonAnomalous, evidence), nil
	}
	if gateErr != nil && decision.TimedOut {
		e.log.Warn("anomaly gate timed out, fail-open admitted",
			"session", session.ID, "identity", session.Initiator.ID)
	}

	if err := session.advance(StateAuthenticated); err != nil {
		return nil, err
	}
	return e.finalize(session, DecisionAuthenticated, ReasonNone, "all checks passed"), nil
}

// checkDeadline forces the EXPIRED transition when the session deadline
// has passed. Returns the terminal result, or nil when time remains.
// Callers hold session.mu.
func (e *Engine) checkDeadline(session *Session) *AuthResult {
	if e.now().Before(session.Deadline) {
		return nil
	}
	_ = session.advance(StateExpired)
	return e.finalize(session, DecisionExpired, ReasonSessionExpired, ErrSessionExpired.Error())
}

// reject maps an internal failure to a terminal REJECTED result with a
// coarse reason code; the detailed cause goes to audit evidence only.
func (e *Engine) reject(session *Session, cause error) *AuthResult {
	return e.rejectWithReason(session, ReasonFor(cause), cause.Error())
}

func (e *Engine) rejectWithReason(session *Session, reason ReasonCode, evidence string) *AuthResult {
	_ = session.advance(StateRejected)
	return e.finalize(session, DecisionRejected, reason, evidence)
}

// finalize records the decision, emits exactly one audit record, and
// caches the result for idempotent replay. Callers hold session.mu.
func (e *Engine) finalize(session *Session, decision Decision, reason ReasonCode, evidence string) *AuthResult {
	record := AuditRecord{
		RecordID:    uuid.NewString(),
		SessionID:   session.ID,
		InitiatorID: session.Initiator.ID,
		VerifierID:  session.Verifier.ID,
		CrossDomain: session.CrossDomain,
		Decision:    decision,
		Evidence:    evidence,
		Timestamp:   e.now(),
	}
	record.SealEvidence()

	session.result = &AuthResult{
		SessionID:    session.ID,
		Decision:     decision,
		Reason:       reason,
		EvidenceHash: record.EvidenceHash,
	}

	if !session.audited {
		session.audited = true
		e.auditor.Emit(record)
	}

	e.log.Info("session finalized",
		"session", session.ID, "decision", decision, "reason", reason)

	return session.result
}

// ExpireSessions forces the deadline transition on every overdue session
// and disposes of terminal sessions older than one TTL. Returns how many
// sessions expired.
func (e *Engine) ExpireSessions() int {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	expired := 0
	cutoff := e.now().Add(-e.config.SessionTTL)
	for _, session := range sessions {
		session.mu.Lock()
		if !session.state.Terminal() && !e.now().Before(session.Deadline) {
			e.checkDeadline(session)
			expired++
		}
		disposable := session.state.Terminal() && session.Deadline.Before(cutoff)
		session.mu.Unlock()

		if disposable {
			e.mu.Lock()
			delete(e.sessions, session.ID)
			e.mu.Unlock()
		}
	}
	return expired
}

// Run sweeps expired sessions until the context is canceled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.ExpireSessions(); n > 0 {
				e.log.Info("expired sessions", "count", n)
			}
		}
	}
}
