package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testOracle is a deterministic PUF: the response is a keyed hash of the
// challenge, truncated to the response width, with flipBits random bit
// flips per call to model silicon noise.
type testOracle struct {
	secret   []byte
	bits     int
	flipBits int
	rng      *rand.Rand
}

func newTestOracle(secret string, flipBits int) *testOracle {
	return &testOracle{
		secret:   []byte(secret),
		bits:     128,
		flipBits: flipBits,
		rng:      rand.New(rand.NewSource(1)),
	}
}

func (o *testOracle) Respond(challenge crypto.BitVector) (crypto.BitVector, error) {
	h := sha3.New256()
	h.Write(o.secret)
	h.Write(challenge)
	resp := crypto.BitVector(h.Sum(nil)[:o.bits/8])
	for i := 0; i < o.flipBits; i++ {
		bit := o.rng.Intn(o.bits)
		resp[bit/8] ^= 1 << (7 - bit%8)
	}
	return resp, nil
}

// memoryLedger is an in-memory append-only store, idempotent on record
// id, with a programmable number of leading failures.
type memoryLedger struct {
	mu       sync.Mutex
	records  map[string]AuditRecord
	failures int
	appends  int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{records: make(map[string]AuditRecord)}
}

func (l *memoryLedger) Append(ctx context.Context, record AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appends++
	if l.failures > 0 {
		l.failures--
		return errors.New("ledger unavailable")
	}
	l.records[record.RecordID] = record
	return nil
}

func (l *memoryLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *memoryLedger) get(sessionID string) (AuditRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.SessionID == sessionID {
			return r, true
		}
	}
	return AuditRecord{}, false
}

// memoryQueue is an in-memory fallback queue.
type memoryQueue struct {
	mu      sync.Mutex
	records []AuditRecord
	fail    bool
}

func (q *memoryQueue) Defer(record AuditRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("queue unavailable")
	}
	q.records = append(q.records, record)
	return nil
}

func (q *memoryQueue) Pending() ([]AuditRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]AuditRecord, len(q.records))
	copy(out, q.records)
	return out, nil
}

func (q *memoryQueue) Remove(recordID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.records {
		if r.RecordID == recordID {
			q.records = append(q.records[:i], q.records[i+1:]...)
			return nil
		}
	}
	return nil
}

// stubScorer answers with a fixed score after an optional delay.
type stubScorer struct {
	score float64
	err   error
	delay time.Duration
}

func (s *stubScorer) AnomalyScore(ctx context.Context, identityID string, window time.Duration) (float64, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.score, s.err
}

// testEnv wires a full engine over in-memory components.
type testEnv struct {
	config    *Config
	puf       *PUFVerifier
	authority *Authority
	zkp       *ZKPVerifier
	auditor   *AuditEmitter
	engine    *Engine
	ledger    *memoryLedger
	queue     *memoryQueue
	scorer    *stubScorer
}

func newTestEnv(config *Config) *testEnv {
	if config == nil {
		config = DefaultConfig()
	}
	// Small trees and short waits keep tests fast.
	config.TreeHeight = 3
	config.AnomalyTimeout = 50 * time.Millisecond
	config.AuditBackoffBase = time.Millisecond

	log := testLogger()
	env := &testEnv{
		config:    config,
		puf:       NewPUFVerifier(config),
		authority: NewAuthority(config),
		ledger:    newMemoryLedger(),
		queue:     &memoryQueue{},
		scorer:    &stubScorer{score: 0.1},
	}
	env.zkp = NewZKPVerifier(env.authority)
	env.auditor = NewAuditEmitter(config, env.ledger, env.queue, log)
	env.engine = NewEngine(config, env.puf, env.authority, env.zkp,
		NewAnomalyGate(config, env.scorer, log), env.auditor, log)
	return env
}

// enroll registers an identity, enrolls its PUF, and provisions its key
// tree.
func (env *testEnv) enroll(id string, role Role, domain string) (Identity, *testOracle, error) {
	identity := Identity{ID: id, Role: role, Domain: domain, EnrolledAt: time.Now()}
	oracle := newTestOracle(id, 0)
	if err := env.engine.RegisterIdentity(identity); err != nil {
		return identity, oracle, err
	}
	if _, err := env.puf.Enroll(identity, oracle); err != nil {
		return identity, oracle, err
	}
	if _, err := env.authority.Provision(id); err != nil {
		return identity, oracle, err
	}
	return identity, oracle, nil
}

// issue runs the PUF handshake and obtains a credential plus its secret.
func (env *testEnv) issue(id string, oracle *testOracle) (*Credential, []byte, error) {
	challenge, err := env.puf.Challenge(id)
	if err != nil {
		return nil, nil, err
	}
	response, err := oracle.Respond(challenge)
	if err != nil {
		return nil, nil, err
	}
	if err := env.puf.Verify(id, challenge, response); err != nil {
		return nil, nil, err
	}
	return env.authority.Issue(id, true)
}

// authRequest assembles a complete authentication request for a session.
func (env *testEnv) authRequest(id string, oracle *testOracle, challenge crypto.BitVector,
	cred *Credential, secret []byte, nonce []byte, crossDomain bool) (*AuthRequest, error) {
	response, err := oracle.Respond(challenge)
	if err != nil {
		return nil, err
	}
	message := []byte("session transcript " + id)
	sig, err := crypto.OTSSignWithSecret(secret, message)
	if err != nil {
		return nil, err
	}
	req := &AuthRequest{
		InitiatorID:  id,
		PUFChallenge: challenge,
		PUFResponse:  response,
		Credential:   cred,
		Signature:    sig,
		Message:      message,
	}
	if crossDomain {
		proof, err := Prove(secret, nonce)
		if err != nil {
			return nil, err
		}
		req.Proof = proof
	}
	return req, nil
}
