package protocol

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// Decision is the terminal outcome of a session.
type Decision string

const (
	DecisionAuthenticated Decision = "authenticated"
	DecisionRejected      Decision = "rejected"
	DecisionExpired       Decision = "expired"
)

// AuditRecord captures a terminal decision for the external ledger.
// Append-only once emitted. Internal evidence (exact failing check, leaf
// index) lives here and in the ledger, never in the counterparty reply.
type AuditRecord struct {
	RecordID    string    `json:"record_id"`
	SessionID   string    `json:"session_id"`
	InitiatorID string    `json:"initiator_id"`
	VerifierID  string    `json:"verifier_id"`
	CrossDomain bool      `json:"cross_domain"`
	Decision    Decision  `json:"decision"`
	Evidence    string    `json:"evidence"`
	Timestamp   time.Time `json:"timestamp"`

	EvidenceHash string `json:"evidence_hash"`
}

// SealEvidence computes the decision evidence hash over the record's
// identifying fields. Called once before emission.
func (r *AuditRecord) SealEvidence() {
	h := sha3.New256()
	payload, _ := json.Marshal(struct {
		SessionID string   `json:"session_id"`
		Decision  Decision `json:"decision"`
		Evidence  string   `json:"evidence"`
	}{r.SessionID, r.Decision, r.Evidence})
	h.Write(payload)
	r.EvidenceHash = hex.EncodeToString(h.Sum(nil))
}

// Ledger is the external append-only store. Append must be idempotent on
// the record id so retries are safe.
type Ledger interface {
	Append(ctx context.Context, record AuditRecord) error
}

// FallbackQueue is durable local storage for records the ledger refused
// past the retry budget. Drained when the ledger recovers.
type FallbackQueue interface {
	Defer(record AuditRecord) error
	Pending() ([]AuditRecord, error)
	Remove(recordID string) error
}

// AuditEmitter submits audit records to the ledger with bounded
// exponential backoff, parking them in the fallback queue when the budget
// is exhausted. Emission runs in the background: authentication decisions
// are never blocked or reversed by ledger trouble.
type AuditEmitter struct {
	config   *Config
	ledger   Ledger
	fallback FallbackQueue
	log      *slog.Logger

	mu       sync.Mutex
	inflight sync.WaitGroup
	deferred int
}

// NewAuditEmitter creates an emitter over a ledger and fallback queue.
func NewAuditEmitter(config *Config, ledger Ledger, fallback FallbackQueue, log *slog.Logger) *AuditEmitter {
	return &AuditEmitter{
		config:   config,
		ledger:   ledger,
		fallback: fallback,
		log:      log,
	}
}

// Emit dispatches a record for background submission and returns
// immediately.
func (e *AuditEmitter) Emit(record AuditRecord) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.submit(context.Background(), record)
	}()
}

// submit retries Append with doubling backoff, then defers to the queue.
func (e *AuditEmitter) submit(ctx context.Context, record AuditRecord) {
	backoff := e.config.AuditBackoffBase
	for attempt := 1; attempt <= e.config.AuditMaxAttempts; attempt++ {
		err := e.ledger.Append(ctx, record)
		if err == nil {
			return
		}
		e.log.Warn("ledger append failed",
			"record", record.RecordID, "attempt", attempt, "err", err)

		if attempt == e.config.AuditMaxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}

	if err := e.fallback.Defer(record); err != nil {
		// Both the ledger and the durable queue failed; the record only
		// survives in logs now.
		e.log.Error("audit record lost", "record", record.RecordID, "err", err)
		return
	}
	e.mu.Lock()
	e.deferred++
	e.mu.Unlock()
	e.log.Warn("audit deferred to fallback queue", "record", record.RecordID)
}

// Flush blocks until all dispatched records have been submitted or
// deferred. Used at shutdown and in tests.
func (e *AuditEmitter) Flush() {
	e.inflight.Wait()
}

// DeferredCount reports how many records went to the fallback queue.
func (e *AuditEmitter) DeferredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deferred
}

// ReplayDeferred resubmits parked records to the ledger, removing each on
// success. Called when the ledger is known to be reachable again.
func (e *AuditEmitter) ReplayDeferred(ctx context.Context) error {
	pending, err := e.fallback.Pending()
	if err != nil {
		return err
	}
	for _, record := range pending {
		if err := e.ledger.Append(ctx, record); err != nil {
			return err
		}
		if err := e.fallback.Remove(record.RecordID); err != nil {
			return err
		}
		e.log.Info("replayed deferred audit record", "record", record.RecordID)
	}
	return nil
}
