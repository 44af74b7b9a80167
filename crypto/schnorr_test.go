package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPossessionProofRoundTrip(t *testing.T) {
	secret := []byte("leaf-secret-material")
	nonce := []byte("session-nonce-A")

	commitment, err := CredentialCommitment(secret)
	require.NoError(t, err)

	proof, err := ProvePossession(secret, nonce)
	require.NoError(t, err)

	require.NoError(t, VerifyPossession(proof, commitment, nonce))
}

func TestPossessionProofWrongContext(t *testing.T) {
	secret := []byte("leaf-secret-material")

	commitment, err := CredentialCommitment(secret)
	require.NoError(t, err)

	proof, err := ProvePossession(secret, []byte("session-nonce-A"))
	require.NoError(t, err)

	// Replaying against another session's nonce fails.
	require.Error(t, VerifyPossession(proof, commitment, []byte("session-nonce-B")))
}

func TestPossessionProofWrongSecret(t *testing.T) {
	nonce := []byte("session-nonce")

	commitment, err := CredentialCommitment([]byte("the real secret"))
	require.NoError(t, err)

	proof, err := ProvePossession([]byte("a different secret"), nonce)
	require.NoError(t, err)

	require.Error(t, VerifyPossession(proof, commitment, nonce))
}

func TestPossessionProofMalformed(t *testing.T) {
	secret := []byte("secret")
	nonce := []byte("nonce")

	commitment, err := CredentialCommitment(secret)
	require.NoError(t, err)

	require.ErrorIs(t, VerifyPossession(nil, commitment, nonce), ErrMalformedProof)

	proof, err := ProvePossession(secret, nonce)
	require.NoError(t, err)

	tampered := &PossessionProof{
		Commitment: append([]byte(nil), proof.Commitment...),
		Response:   append([]byte(nil), proof.Response...),
	}
	tampered.Response[0] ^= 1
	require.Error(t, VerifyPossession(tampered, commitment, nonce))

	require.ErrorIs(t, VerifyPossession(proof, []byte("not a point"), nonce), ErrMalformedCommitment)
}

func TestProofsAreRandomized(t *testing.T) {
	secret := []byte("secret")
	nonce := []byte("nonce")

	p1, err := ProvePossession(secret, nonce)
	require.NoError(t, err)
	p2, err := ProvePossession(secret, nonce)
	require.NoError(t, err)

	// Fresh commitment randomness per proof; identical proofs would leak.
	require.NotEqual(t, p1.Commitment, p2.Commitment)
}
