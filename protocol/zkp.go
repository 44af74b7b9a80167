package protocol

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

// ZKPProof is a single-use possession proof bound to a session nonce.
// The commitment identifies the credential to the authority without
// revealing its leaf index or signature material to the verifier.
type ZKPProof struct {
	Commitment []byte                  `json:"commitment"`
	Schnorr    *crypto.PossessionProof `json:"schnorr"`
	BoundNonce []byte                  `json:"bound_nonce"`
}

// Prove builds a possession proof for a credential secret, bound to the
// session nonce. Run by the credential holder.
func Prove(secret, sessionNonce []byte) (*ZKPProof, error) {
	commitment, err := crypto.CredentialCommitment(secret)
	if err != nil {
		return nil, err
	}
	schnorr, err := crypto.ProvePossession(secret, sessionNonce)
	if err != nil {
		return nil, err
	}
	return &ZKPProof{
		Commitment: commitment,
		Schnorr:    schnorr,
		BoundNonce: sessionNonce,
	}, nil
}

// ZKPVerifier validates cross-domain possession proofs. It consults the
// credential authority's commitment registry and tracks consumed proofs
// so each proof verifies at most once.
type ZKPVerifier struct {
	authority *Authority

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewZKPVerifier creates a verifier backed by an authority's commitments.
func NewZKPVerifier(authority *Authority) *ZKPVerifier {
	return &ZKPVerifier{
		authority: authority,
		seen:      make(map[string]struct{}),
	}
}

// Verify checks a proof for a claimed identity against a session nonce.
// A proof bound to another nonce fails with ErrNonceMismatch; a proof
// presented twice fails with ErrProofReplay. On success the proof is
// consumed.
func (v *ZKPVerifier) Verify(proof *ZKPProof, claimedIdentityID string, sessionNonce []byte) error {
	if proof == nil || proof.Schnorr == nil {
		return ErrNonceMismatch
	}
	if !bytes.Equal(proof.BoundNonce, sessionNonce) {
		return ErrNonceMismatch
	}

	owner, err := v.authority.LookupCommitment(proof.Commitment)
	if err != nil {
		return err
	}
	if owner != claimedIdentityID {
		return ErrUnknownIdentity
	}

	// The Schnorr check recomputes the Fiat-Shamir challenge from the
	// verifier's own nonce, so a proof generated for nonce A cannot be
	// replayed under nonce B even with a forged BoundNonce field.
	if err := crypto.VerifyPossession(proof.Schnorr, proof.Commitment, sessionNonce); err != nil {
		return ErrNonceMismatch
	}

	key := hex.EncodeToString(proof.Commitment) + ":" + hex.EncodeToString(sessionNonce)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, dup := v.seen[key]; dup {
		return ErrProofReplay
	}
	v.seen[key] = struct{}{}
	return nil
}
