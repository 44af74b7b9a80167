package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

// Credential is a one-time authentication credential. It becomes invalid
// once its leaf signs a second distinct message or its expiry passes.
type Credential struct {
	IdentityID string `json:"identity_id"`

	LeafIndex        uint32                `json:"leaf_index"`
	OneTimePublicKey [crypto.HashSize]byte `json:"one_time_public_key"`
	AuthPath         crypto.AuthPath       `json:"auth_path"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Fingerprint binds the credential's identifying fields into one hash,
// used by the leaf bookkeeping to detect substituted credentials.
func (c *Credential) Fingerprint() [crypto.HashSize]byte {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], c.LeafIndex)

	h := sha3.New256()
	h.Write([]byte(c.IdentityID))
	h.Write(idx[:])
	h.Write(c.OneTimePublicKey[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(c.IssuedAt.UnixNano()))
	h.Write(ts[:])

	var out [crypto.HashSize]byte
	h.Sum(out[:0])
	return out
}

// commitmentRecord lets the cross-domain verifier confirm a possession
// proof's commitment maps to a live credential without learning which
// leaf backs it.
type commitmentRecord struct {
	identityID string
	leafIndex  uint32
	expiresAt  time.Time
}

// identityKeys is everything the authority owns for one identity.
type identityKeys struct {
	tree  *crypto.KeyTree
	state *OneTimeKeyState
}

// Authority manages one-time key material and issues and verifies
// credentials. It is the single source of truth for leaf allocation: the
// same leaf is never issued twice, even under concurrent requests.
type Authority struct {
	config *Config
	now    func() time.Time

	mu          sync.RWMutex
	keys        map[string]*identityKeys
	commitments map[string]commitmentRecord
}

// NewAuthority creates a credential authority.
func NewAuthority(config *Config) *Authority {
	return &Authority{
		config:      config,
		now:         time.Now,
		keys:        make(map[string]*identityKeys),
		commitments: make(map[string]commitmentRecord),
	}
}

// Provision generates a fresh one-time key tree for an identity and
// publishes its root. Called at enrollment and again by administrative
// re-provisioning after exhaustion; a new tree replaces the old one.
func (a *Authority) Provision(identityID string) ([crypto.HashSize]byte, error) {
	seed, err := crypto.NewSeed()
	if err != nil {
		return [crypto.HashSize]byte{}, fmt.Errorf("generating seed: %w", err)
	}
	tree, err := crypto.GenerateKeyTree(seed, a.config.TreeHeight)
	if err != nil {
		return [crypto.HashSize]byte{}, fmt.Errorf("building key tree: %w", err)
	}

	a.mu.Lock()
	a.keys[identityID] = &identityKeys{
		tree:  tree,
		state: NewOneTimeKeyState(tree.Root, tree.Capacity()),
	}
	a.mu.Unlock()

	return tree.Root, nil
}

// Root returns the published Merkle root for an identity.
func (a *Authority) Root(identityID string) ([crypto.HashSize]byte, error) {
	a.mu.RLock()
	ik, ok := a.keys[identityID]
	a.mu.RUnlock()
	if !ok {
		return [crypto.HashSize]byte{}, ErrNotProvisioned
	}
	return ik.state.Root(), nil
}

// Remaining returns the unused leaf count for an identity.
func (a *Authority) Remaining(identityID string) (uint32, error) {
	a.mu.RLock()
	ik, ok := a.keys[identityID]
	a.mu.RUnlock()
	if !ok {
		return 0, ErrNotProvisioned
	}
	return ik.state.Remaining(), nil
}

// Issue allocates the next unused leaf and builds a credential on it.
// Requires a prior successful PUF verification (pufOK); otherwise fails
// with ErrIdentityNotBound and touches no key state. The returned secret
// is the holder's signing and proving material; the authority does not
// retain it beyond the seed it derives from.
func (a *Authority) Issue(identityID string, pufOK bool) (*Credential, []byte, error) {
	if !pufOK {
		return nil, nil, ErrIdentityNotBound
	}

	a.mu.RLock()
	ik, ok := a.keys[identityID]
	a.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotProvisioned
	}

	issuedAt := a.now()
	cred := &Credential{
		IdentityID: identityID,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(a.config.CredentialTTL),
	}

	index, err := ik.state.Claim()
	if err != nil {
		return nil, nil, err
	}
	cred.LeafIndex = index

	leafPub, err := ik.tree.LeafPublicKey(index)
	if err != nil {
		return nil, nil, fmt.Errorf("leaf public key: %w", err)
	}
	cred.OneTimePublicKey = leafPub

	path, err := ik.tree.AuthPath(index)
	if err != nil {
		return nil, nil, fmt.Errorf("auth path: %w", err)
	}
	cred.AuthPath = path

	secret, err := ik.tree.LeafSecret(index)
	if err != nil {
		return nil, nil, fmt.Errorf("leaf secret: %w", err)
	}

	ik.state.RecordIssuance(index, cred.Fingerprint())

	commitment, err := crypto.CredentialCommitment(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("credential commitment: %w", err)
	}

	a.mu.Lock()
	a.commitments[hex.EncodeToString(commitment)] = commitmentRecord{
		identityID: identityID,
		leafIndex:  index,
		expiresAt:  cred.ExpiresAt,
	}
	a.mu.Unlock()

	return cred, secret, nil
}

// Verify checks a one-time signature over message against a credential.
// The one-time public key is recomputed from the signature, the Merkle
// path is checked against the published root, then expiry and leaf-reuse
// checks run. A credential whose leaf belongs to a different issuance is
// fatal: ErrLeafReuseDetected.
func (a *Authority) Verify(cred *Credential, sig crypto.OTSSignature, message []byte) error {
	a.mu.RLock()
	ik, ok := a.keys[cred.IdentityID]
	a.mu.RUnlock()
	if !ok {
		return ErrNotProvisioned
	}

	recovered, err := crypto.OTSRecoverLeaf(sig, message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != cred.OneTimePublicKey {
		return ErrInvalidSignature
	}

	if !crypto.VerifyAuthPath(recovered, cred.LeafIndex, cred.AuthPath, ik.state.Root()) {
		return ErrInvalidPath
	}

	if a.now().After(cred.ExpiresAt) {
		return ErrExpired
	}

	digest := sha3.Sum256(message)
	return ik.state.CheckLeaf(cred.LeafIndex, cred.Fingerprint(), digest)
}

// LookupCommitment resolves a possession-proof commitment to its owning
// identity. Reports whether the backing credential is still live without
// exposing leaf material to the caller.
func (a *Authority) LookupCommitment(commitment []byte) (identityID string, err error) {
	a.mu.RLock()
	rec, ok := a.commitments[hex.EncodeToString(commitment)]
	a.mu.RUnlock()

	if !ok {
		return "", ErrUnknownIdentity
	}
	if a.now().After(rec.expiresAt) {
		return "", ErrExpired
	}
	return rec.identityID, nil
}
