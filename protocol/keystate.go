package protocol

import (
	"sync"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

// OneTimeKeyState tracks leaf consumption for one identity's key tree.
// Mutation is monotonic: the next index only increases and bitmap entries
// only flip unused -> used. The credential authority is the sole owner;
// all access is serialized by the per-identity mutex here.
type OneTimeKeyState struct {
	mu sync.Mutex

	root      [crypto.HashSize]byte
	capacity  uint32
	nextIndex uint32
	used      []uint64

	// issued records a fingerprint of the credential each leaf was issued
	// under, for reuse detection at verification time.
	issued map[uint32][crypto.HashSize]byte

	// signedDigest records the first message digest each leaf verifiably
	// signed. A second distinct digest on the same leaf is reuse.
	signedDigest map[uint32][crypto.HashSize]byte
}

// NewOneTimeKeyState creates leaf bookkeeping for a tree.
func NewOneTimeKeyState(root [crypto.HashSize]byte, capacity uint32) *OneTimeKeyState {
	return &OneTimeKeyState{
		root:         root,
		capacity:     capacity,
		used:         make([]uint64, (capacity+63)/64),
		issued:       make(map[uint32][crypto.HashSize]byte),
		signedDigest: make(map[uint32][crypto.HashSize]byte),
	}
}

// Root returns the published Merkle root.
func (s *OneTimeKeyState) Root() [crypto.HashSize]byte {
	return s.root
}

// Capacity returns the total leaf count N.
func (s *OneTimeKeyState) Capacity() uint32 {
	return s.capacity
}

// Claim atomically allocates the next unused leaf and marks it used.
// This is the claim-and-mark step: indivisible with respect to concurrent
// issuance for the same identity. Returns ErrKeyExhausted when no leaf
// remains.
func (s *OneTimeKeyState) Claim() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextIndex >= s.capacity {
		return 0, ErrKeyExhausted
	}

	index := s.nextIndex
	s.nextIndex++
	s.used[index/64] |= 1 << (index % 64)
	return index, nil
}

// RecordIssuance binds a claimed leaf to the fingerprint of the credential
// issued on it. The authority calls this before the credential leaves the
// issuance path; a leaf with no recorded issuance never verifies.
func (s *OneTimeKeyState) RecordIssuance(index uint32, fingerprint [crypto.HashSize]byte) {
	s.mu.Lock()
	s.issued[index] = fingerprint
	s.mu.Unlock()
}

// IsUsed reports whether a leaf has been consumed by issuance.
func (s *OneTimeKeyState) IsUsed(index uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isUsedLocked(index)
}

func (s *OneTimeKeyState) isUsedLocked(index uint32) bool {
	if index >= s.capacity {
		return false
	}
	return s.used[index/64]&(1<<(index%64)) != 0
}

// CheckLeaf validates a presented credential's claim on a leaf. The leaf
// must have been consumed by an issuance carrying the same fingerprint,
// and each leaf verifiably signs at most one distinct message digest.
// Any violation is reuse: a forged, substituted, or replayed credential.
func (s *OneTimeKeyState) CheckLeaf(index uint32, fingerprint, digest [crypto.HashSize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isUsedLocked(index) {
		// A leaf we never issued cannot carry a valid credential.
		return ErrLeafReuseDetected
	}
	recorded, ok := s.issued[index]
	if !ok || recorded != fingerprint {
		return ErrLeafReuseDetected
	}
	if prev, ok := s.signedDigest[index]; ok {
		if prev != digest {
			return ErrLeafReuseDetected
		}
		return nil
	}
	s.signedDigest[index] = digest
	return nil
}

// Remaining returns how many leaves are still unused.
func (s *OneTimeKeyState) Remaining() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.nextIndex
}
