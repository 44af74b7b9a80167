package services

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// IdentityRecord is the persisted view of an enrolled identity: who it
// is, where it lives, and the published root of its one-time key tree.
// PUF profile material never leaves the enrolling node and is not part
// of the record.
type IdentityRecord struct {
	IdentityID string        `json:"identity_id"`
	Role       protocol.Role `json:"role"`
	Domain     string        `json:"domain"`
	MerkleRoot string        `json:"merkle_root"`
	EnrolledAt time.Time     `json:"enrolled_at"`
}

// RegistryStore abstracts identity persistence.
type RegistryStore interface {
	SaveIdentity(record *IdentityRecord) error
	DeleteIdentity(identityID string) error
	LoadAllIdentities() ([]*IdentityRecord, error)
	Close() error
}

// IdentityRegistry manages enrolled identity records with optional
// persistence. The in-memory map is authoritative; the store is written
// through on every mutation and read once at startup.
type IdentityRegistry struct {
	store RegistryStore

	mu      sync.RWMutex
	records map[string]*IdentityRecord
}

// NewIdentityRegistry creates a registry, loading persisted records when
// a store is provided. A nil store keeps the registry memory-only.
func NewIdentityRegistry(store RegistryStore) (*IdentityRegistry, error) {
	r := &IdentityRegistry{
		store:   store,
		records: make(map[string]*IdentityRecord),
	}
	if store != nil {
		records, err := store.LoadAllIdentities()
		if err != nil {
			return nil, fmt.Errorf("loading identities: %w", err)
		}
		for _, record := range records {
			r.records[record.IdentityID] = record
		}
	}
	return r, nil
}

// Save records an enrolled identity.
func (r *IdentityRegistry) Save(record *IdentityRecord) error {
	if !record.Role.Valid() {
		return fmt.Errorf("invalid role %q", record.Role)
	}
	if r.store != nil {
		if err := r.store.SaveIdentity(record); err != nil {
			return fmt.Errorf("persisting identity: %w", err)
		}
	}
	r.mu.Lock()
	r.records[record.IdentityID] = record
	r.mu.Unlock()
	return nil
}

// Get returns a record by identity id.
func (r *IdentityRegistry) Get(identityID string) (*IdentityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[identityID]
	return record, ok
}

// Delete removes an identity record.
func (r *IdentityRegistry) Delete(identityID string) error {
	if r.store != nil {
		if err := r.store.DeleteIdentity(identityID); err != nil {
			return fmt.Errorf("deleting identity: %w", err)
		}
	}
	r.mu.Lock()
	delete(r.records, identityID)
	r.mu.Unlock()
	return nil
}

// All returns every record, optionally filtered by domain.
func (r *IdentityRegistry) All(domain string) []*IdentityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*IdentityRecord, 0, len(r.records))
	for _, record := range r.records {
		if domain == "" || record.Domain == domain {
			out = append(out, record)
		}
	}
	return out
}

// RegisterRoutes exposes read-only identity lookups. Mutation happens
// only through the enrollment flow on the node handler.
func (r *IdentityRegistry) RegisterRoutes(router chi.Router) {
	router.Get("/api/identities", r.handleList)
	router.Get("/api/identities/{identity_id}", r.handleGet)
}

func (r *IdentityRegistry) handleList(w http.ResponseWriter, req *http.Request) {
	domain := req.URL.Query().Get("domain")
	writeJSON(w, http.StatusOK, r.All(domain))
}

func (r *IdentityRegistry) handleGet(w http.ResponseWriter, req *http.Request) {
	record, ok := r.Get(chi.URLParam(req, "identity_id"))
	if !ok {
		writeError(w, http.StatusNotFound, protocol.ErrUnknownIdentity, "")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// rootString formats a Merkle root for registry records.
func rootString(root [32]byte) string {
	return hex.EncodeToString(root[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, reason protocol.ReasonCode) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Reason: reason})
}
