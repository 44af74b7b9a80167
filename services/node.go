package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shafiqahmeddev/lqap-project/crypto"
	"github.com/shafiqahmeddev/lqap-project/metrics"
	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// Node is an LQAP edge node: it enrolls identities against their PUF
// hardware, issues one-time credentials, and runs authentication
// sessions for its domain.
type Node struct {
	config    *ServiceConfig
	registry  *IdentityRegistry
	puf       *protocol.PUFVerifier
	authority *protocol.Authority
	engine    *protocol.Engine
	auditor   *protocol.AuditEmitter
	log       *slog.Logger

	mu      sync.RWMutex
	devices map[string]protocol.PUFOracle
}

// NewNode wires an edge node from its configuration. The ledger, score
// source, and fallback queue are chosen from the config URLs; local
// deployments fall back to in-memory components.
func NewNode(config *ServiceConfig, registry *IdentityRegistry) (*Node, error) {
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("node", config.NodeID, "domain", config.Domain)

	var ledger protocol.Ledger
	if config.LedgerURL != "" {
		_, envelopeKey, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generating envelope key: %w", err)
		}
		ledger = NewHTTPLedger(config.LedgerURL, envelopeKey)
	} else {
		ledger = NewMemoryLedger()
	}

	var fallback protocol.FallbackQueue
	if config.AuditQueuePath != "" {
		queue, err := OpenAuditQueue(config.AuditQueuePath)
		if err != nil {
			return nil, fmt.Errorf("opening audit queue: %w", err)
		}
		fallback = queue
	} else {
		fallback = &MemoryAuditQueue{}
	}

	var source protocol.ScoreSource
	if config.ScorerURL != "" {
		source = NewHTTPScoreSource(config.ScorerURL)
	} else {
		source = &StaticScoreSource{}
	}

	return newNodeWith(config, registry, ledger, fallback, source, log), nil
}

// newNodeWith assembles a node from explicit components. Tests and the
// orchestrator wire in-process ledgers and scorers through here.
func newNodeWith(config *ServiceConfig, registry *IdentityRegistry,
	ledger protocol.Ledger, fallback protocol.FallbackQueue,
	source protocol.ScoreSource, log *slog.Logger) *Node {
	pufVerifier := protocol.NewPUFVerifier(config.ProtocolConfig)
	authority := protocol.NewAuthority(config.ProtocolConfig)
	zkp := protocol.NewZKPVerifier(authority)
	gate := protocol.NewAnomalyGate(config.ProtocolConfig, &meteredScoreSource{source}, log)
	auditor := protocol.NewAuditEmitter(config.ProtocolConfig, ledger, &meteredQueue{fallback}, log)

	return &Node{
		config:    config,
		registry:  registry,
		puf:       pufVerifier,
		authority: authority,
		engine:    protocol.NewEngine(config.ProtocolConfig, pufVerifier, authority, zkp, gate, auditor, log),
		auditor:   auditor,
		log:       log,
		devices:   make(map[string]protocol.PUFOracle),
	}
}

// AttachDevice makes a device's PUF oracle available for enrollment.
// Real deployments attach a hardware bridge; demos attach simulators.
func (n *Node) AttachDevice(identityID string, oracle protocol.PUFOracle) {
	n.mu.Lock()
	n.devices[identityID] = oracle
	n.mu.Unlock()
}

func (n *Node) device(identityID string) (protocol.PUFOracle, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	oracle, ok := n.devices[identityID]
	return oracle, ok
}

// Enroll registers an identity, samples its PUF to build the stability
// profile, and provisions its one-time key tree. The published Merkle
// root goes to the identity registry.
func (n *Node) Enroll(identity protocol.Identity) (*EnrollmentResponse, error) {
	oracle, ok := n.device(identity.ID)
	if !ok {
		return nil, fmt.Errorf("no device attached for %s", identity.ID)
	}
	if _, err := n.engine.Identity(identity.ID); err == nil {
		return nil, fmt.Errorf("identity %s already registered", identity.ID)
	}

	// Sample the hardware and provision keys before registering, so a
	// failed enrollment leaves the identity free to retry with a
	// replacement device.
	profile, err := n.puf.Enroll(identity, oracle)
	if err != nil {
		return nil, err
	}

	root, err := n.authority.Provision(identity.ID)
	if err != nil {
		return nil, err
	}

	if err := n.engine.RegisterIdentity(identity); err != nil {
		return nil, err
	}
	capacity := uint32(1) << n.config.ProtocolConfig.TreeHeight

	if err := n.registry.Save(&IdentityRecord{
		IdentityID: identity.ID,
		Role:       identity.Role,
		Domain:     identity.Domain,
		MerkleRoot: rootString(root),
		EnrolledAt: identity.EnrolledAt,
	}); err != nil {
		return nil, err
	}

	n.log.Info("identity enrolled",
		"identity", identity.ID, "role", identity.Role,
		"stable_pairs", len(profile.Pairs), "capacity", capacity)

	return &EnrollmentResponse{
		IdentityID:  identity.ID,
		MerkleRoot:  rootString(root),
		StablePairs: len(profile.Pairs),
		Capacity:    capacity,
	}, nil
}

// PUFChallenge hands out a fresh challenge for credential issuance.
func (n *Node) PUFChallenge(identityID string) (crypto.BitVector, error) {
	return n.puf.Challenge(identityID)
}

// IssueCredential verifies the PUF response and issues a one-time
// credential. On exhaustion the key tree is re-provisioned and the new
// root published, then issuance is retried once.
func (n *Node) IssueCredential(req *protocol.CredentialRequest) (*protocol.CredentialResponse, error) {
	pufErr := n.puf.Verify(req.IdentityID, req.PUFChallenge, req.PUFResponse)
	cred, secret, err := n.authority.Issue(req.IdentityID, pufErr == nil)
	if errors.Is(err, protocol.ErrKeyExhausted) {
		n.log.Warn("key tree exhausted, re-provisioning", "identity", req.IdentityID)
		if err := n.reprovision(req.IdentityID); err != nil {
			return nil, err
		}
		cred, secret, err = n.authority.Issue(req.IdentityID, pufErr == nil)
	}
	if err != nil {
		metrics.CredentialRejections.WithLabelValues(string(protocol.ReasonFor(err))).Inc()
		if pufErr != nil {
			n.log.Warn("credential refused", "identity", req.IdentityID, "err", pufErr)
		}
		return nil, err
	}

	metrics.CredentialsIssued.Inc()
	n.log.Info("credential issued", "identity", req.IdentityID, "leaf", cred.LeafIndex)
	return &protocol.CredentialResponse{Credential: cred, Secret: secret}, nil
}

// reprovision installs a fresh key tree and updates the registry record.
func (n *Node) reprovision(identityID string) error {
	root, err := n.authority.Provision(identityID)
	if err != nil {
		return err
	}
	record, ok := n.registry.Get(identityID)
	if !ok {
		return protocol.ErrUnknownIdentity
	}
	updated := *record
	updated.MerkleRoot = rootString(root)
	return n.registry.Save(&updated)
}

// StartSession opens an authentication session between two identities.
func (n *Node) StartSession(initiatorID, verifierID string) (*SessionStartResponse, error) {
	session, challenge, err := n.engine.StartSession(initiatorID, verifierID)
	if err != nil {
		return nil, err
	}
	metrics.SessionsStarted.Inc()
	return &SessionStartResponse{
		SessionID:    session.ID,
		PUFChallenge: challenge,
		Nonce:        session.Nonce,
		CrossDomain:  session.CrossDomain,
		Deadline:     session.Deadline,
	}, nil
}

// Authenticate drives a session to a terminal decision.
func (n *Node) Authenticate(ctx context.Context, sessionID string, req *protocol.AuthRequest) (*protocol.AuthResult, error) {
	start := time.Now()
	result, err := n.engine.Authenticate(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}
	metrics.SessionsDecided.WithLabelValues(string(result.Decision)).Inc()
	if result.Reason == protocol.ReasonBadCredential {
		metrics.CredentialRejections.WithLabelValues(string(result.Reason)).Inc()
	}
	metrics.AuthDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

// SessionStatus reports a session's state and, when terminal, its result.
func (n *Node) SessionStatus(sessionID string) (*SessionStatusResponse, error) {
	session, err := n.engine.Session(sessionID)
	if err != nil {
		return nil, err
	}
	status := &SessionStatusResponse{
		SessionID: session.ID,
		State:     session.State().String(),
	}
	if session.State().Terminal() {
		// Terminal replay is idempotent and carries no request payload.
		result, err := n.engine.Authenticate(context.Background(), sessionID, nil)
		if err == nil {
			status.Result = result
		}
	}
	return status, nil
}

// Run starts the session expiry sweep and blocks until ctx is canceled,
// then flushes outstanding audit submissions.
func (n *Node) Run(ctx context.Context) {
	n.engine.Run(ctx, n.config.ProtocolConfig.SessionTTL/2)
	n.auditor.Flush()
}

// ReplayDeferredAudit drains the fallback queue into the ledger.
func (n *Node) ReplayDeferredAudit(ctx context.Context) error {
	return n.auditor.ReplayDeferred(ctx)
}

// Engine exposes the protocol engine for in-process callers.
func (n *Node) Engine() *protocol.Engine {
	return n.engine
}

// meteredQueue counts fallback deferrals.
type meteredQueue struct {
	protocol.FallbackQueue
}

func (q *meteredQueue) Defer(record protocol.AuditRecord) error {
	err := q.FallbackQueue.Defer(record)
	if err == nil {
		metrics.AuditDeferred.Inc()
	}
	return err
}

// meteredScoreSource counts score lookups cut off by the gate deadline.
type meteredScoreSource struct {
	protocol.ScoreSource
}

func (s *meteredScoreSource) AnomalyScore(ctx context.Context, identityID string, window time.Duration) (float64, error) {
	score, err := s.ScoreSource.AnomalyScore(ctx, identityID, window)
	if err != nil && ctx.Err() != nil {
		metrics.AnomalyGateTimeouts.Inc()
	}
	return score, err
}
