package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shafiqahmeddev/lqap-project/protocol"
)

const auditQueueSchema = `
CREATE TABLE IF NOT EXISTS deferred_audit (
    record_id   TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    payload     BLOB NOT NULL,
    deferred_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deferred_audit_time ON deferred_audit(deferred_at);
`

// SQLiteAuditQueue is the durable fallback for audit records the ledger
// refused past the retry budget. Records survive node restarts and drain
// once the ledger recovers.
type SQLiteAuditQueue struct {
	db *sql.DB
}

// OpenAuditQueue opens or creates the queue database at path.
func OpenAuditQueue(path string) (*SQLiteAuditQueue, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	if _, err := db.Exec(auditQueueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}

	return &SQLiteAuditQueue{db: db}, nil
}

// Defer parks a record. Idempotent on record id.
func (q *SQLiteAuditQueue) Defer(record protocol.AuditRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = q.db.Exec(`
		INSERT OR REPLACE INTO deferred_audit (record_id, session_id, payload, deferred_at)
		VALUES (?, ?, ?, ?)`,
		record.RecordID, record.SessionID, payload, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("defer record: %w", err)
	}
	return nil
}

// Pending returns all parked records in deferral order.
func (q *SQLiteAuditQueue) Pending() ([]protocol.AuditRecord, error) {
	rows, err := q.db.Query(`SELECT payload FROM deferred_audit ORDER BY deferred_at`)
	if err != nil {
		return nil, fmt.Errorf("query deferred records: %w", err)
	}
	defer rows.Close()

	var records []protocol.AuditRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan deferred record: %w", err)
		}
		var record protocol.AuditRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode deferred record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Remove deletes a drained record.
func (q *SQLiteAuditQueue) Remove(recordID string) error {
	_, err := q.db.Exec(`DELETE FROM deferred_audit WHERE record_id = ?`, recordID)
	return err
}

// Close closes the queue database.
func (q *SQLiteAuditQueue) Close() error {
	return q.db.Close()
}

// MemoryAuditQueue is an in-memory FallbackQueue for tests and local
// deployments without durability requirements.
type MemoryAuditQueue struct {
	mu      sync.Mutex
	records []protocol.AuditRecord
}

func (q *MemoryAuditQueue) Defer(record protocol.AuditRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.records {
		if r.RecordID == record.RecordID {
			q.records[i] = record
			return nil
		}
	}
	q.records = append(q.records, record)
	return nil
}

func (q *MemoryAuditQueue) Pending() ([]protocol.AuditRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]protocol.AuditRecord, len(q.records))
	copy(out, q.records)
	return out, nil
}

func (q *MemoryAuditQueue) Remove(recordID string) error {
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
