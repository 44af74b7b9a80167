package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shafiqahmeddev/lqap-project/crypto"
	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// HTTPLedger submits audit records to an external append-only ledger
// service, wrapped in a signed envelope so the ledger can attribute
// each record to a node. The service is expected to be idempotent on
// record id; submitting the same record twice is not an error.
type HTTPLedger struct {
	baseURL string
	key     crypto.PrivateKey
	client  *http.Client
}

// NewHTTPLedger creates a ledger client signing submissions with the
// node's envelope key.
func NewHTTPLedger(baseURL string, key crypto.PrivateKey) *HTTPLedger {
	return &HTTPLedger{
		baseURL: baseURL,
		key:     key,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Append signs and submits one record.
func (l *HTTPLedger) Append(ctx context.Context, record protocol.AuditRecord) error {
	signed, err := protocol.NewSigned(l.key, &record)
	if err != nil {
		return fmt.Errorf("sign record: %w", err)
	}
	body, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.baseURL+"/api/records", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
	return nil
}

// MemoryLedger is an in-process append-only ledger, idempotent on record
// id. It backs local deployments and doubles as the storage behind
// LedgerService.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]protocol.AuditRecord
	order   []string
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]protocol.AuditRecord)}
}

// Append records one audit record. A record id seen before is a no-op.
func (l *MemoryLedger) Append(ctx context.Context, record protocol.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[record.RecordID]; exists {
		return nil
	}
	l.records[record.RecordID] = record
	l.order = append(l.order, record.RecordID)
	return nil
}

// Records returns all records in append order.
func (l *MemoryLedger) Records() []protocol.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]protocol.AuditRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.records[id])
	}
	return out
}

// BySession returns the records for one session.
func (l *MemoryLedger) BySession(sessionID string) []protocol.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []protocol.AuditRecord
	for _, id := range l.order {
		if l.records[id].SessionID == sessionID {
			out = append(out, l.records[id])
		}
	}
	return out
}

// LedgerService exposes a MemoryLedger over HTTP for local deployments
// where no external blockchain ledger is available.
type LedgerService struct {
	ledger *MemoryLedger
}

// NewLedgerService creates the HTTP facade over a ledger.
func NewLedgerService(ledger *MemoryLedger) *LedgerService {
	return &LedgerService{ledger: ledger}
}

// RegisterRoutes registers the ledger endpoints.
func (s *LedgerService) RegisterRoutes(router chi.Router) {
	router.Post("/api/records", s.handleAppend)
	router.Get("/api/records", s.handleList)
	router.Get("/api/records/session/{session_id}", s.handleBySession)
}

func (s *LedgerService) handleAppend(w http.ResponseWriter, req *http.Request) {
	var signed protocol.Signed[protocol.AuditRecord]
	if err := json.NewDecoder(req.Body).Decode(&signed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	record, _, err := signed.Recover()
	if err != nil {
		http.Error(w, "invalid envelope signature", http.StatusForbidden)
		return
	}
	if record.RecordID == "" {
		http.Error(w, "missing record id", http.StatusBadRequest)
		return
	}
	if err := s.ledger.Append(req.Context(), *record); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *LedgerService) handleList(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Records())
}

func (s *LedgerService) handleBySession(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.BySession(chi.URLParam(req, "session_id")))
}
