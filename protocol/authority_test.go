package protocol

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

func smallConfig() *Config {
	config := DefaultConfig()
	config.TreeHeight = 3
	return config
}

func TestAuthorityIssueAndVerify(t *testing.T) {
	authority := NewAuthority(smallConfig())
	root, err := authority.Provision("ev-1")
	require.NoError(t, err)
	require.NotEqual(t, [crypto.HashSize]byte{}, root)

	cred, secret, err := authority.Issue("ev-1", true)
	require.NoError(t, err)
	require.Equal(t, uint32(0), cred.LeafIndex)
	require.NotEmpty(t, secret)

	message := []byte("charging session transcript")
	sig, err := crypto.OTSSignWithSecret(secret, message)
	require.NoError(t, err)
	require.NoError(t, authority.Verify(cred, sig, message))

	// Sequential issuance walks the leaves in order.
	cred2, secret2, err := authority.Issue("ev-1", true)
	require.NoError(t, err)
	require.Equal(t, uint32(1), cred2.LeafIndex)

	sig2, err := crypto.OTSSignWithSecret(secret2, message)
	require.NoError(t, err)
	require.NoError(t, authority.Verify(cred2, sig2, message))

	remaining, err := authority.Remaining("ev-1")
	require.NoError(t, err)
	require.Equal(t, uint32(6), remaining)
}

func TestAuthorityIssueRequiresPUF(t *testing.T) {
	authority := NewAuthority(smallConfig())
	_, err := authority.Provision("ev-1")
	require.NoError(t, err)

	before, err := authority.Remaining("ev-1")
	require.NoError(t, err)

	_, _, err = authority.Issue("ev-1", false)
	require.ErrorIs(t, err, ErrIdentityNotBound)

	// A refused issuance consumes no leaf.
	after, err := authority.Remaining("ev-1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestAuthorityIssueUnprovisioned(t *testing.T) {
	authority := NewAuthority(smallConfig())
	_, _, err := authority.Issue("ghost", true)
	require.ErrorIs(t, err, ErrNotProvisioned)
}

func TestAuthorityExhaustion(t *testing.T) {
	config := DefaultConfig()
	config.TreeHeight = 2
	authority := NewAuthority(config)
	_, err := authority.Provision("ev-1")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _, err := authority.Issue("ev-1", true)
		require.NoError(t, err)
	}
	_, _, err = authority.Issue("ev-1", true)
	require.ErrorIs(t, err, ErrKeyExhausted)

	// Re-provisioning installs a fresh tree and issuance resumes at leaf 0.
	_, err = authority.Provision("ev-1")
	require.NoError(t, err)
	cred, _, err := authority.Issue("ev-1", true)
	require.NoError(t, err)
	require.Equal(t, uint32(0), cred.LeafIndex)
}

func TestAuthorityConcurrentIssuance(t *testing.T) {
	config := DefaultConfig()
	config.TreeHeight = 5
	authority := NewAuthority(config)
	_, err := authority.Provision("ev-1")
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	creds := make(chan *Credential, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, _, err := authority.Issue("ev-1", true)
			if err == nil {
				creds <- cred
			}
		}()
	}
	wg.Wait()
	close(creds)

	seen := make(map[uint32]bool)
	for cred := range creds {
		require.False(t, seen[cred.LeafIndex], "leaf %d issued twice", cred.LeafIndex)
		seen[cred.LeafIndex] = true
	}
	require.Len(t, seen, n)
}

func TestAuthorityVerifyRejectsReuse(t *testing.T) {
	authority := NewAuthority(smallConfig())
	_, err := authority.Provision("ev-1")
	require.NoError(t, err)

	cred, secret, err := authority.Issue("ev-1", true)
	require.NoError(t, err)

	first := []byte("first message")
	sigFirst, err := crypto.OTSSignWithSecret(secret, first)
	require.NoError(t, err)
	require.NoError(t, authority.Verify(cred, sigFirst, first))

	// Same leaf, second distinct message: fatal reuse.
	second := []byte("second message")
	sigSecond, err := crypto.OTSSignWithSecret(secret, second)
	require.NoError(t, err)
	require.ErrorIs(t, authority.Verify(cred, sigSecond, second), ErrLeafReuseDetected)

	// The first message still replays cleanly for idempotent re-checks.
	require.NoError(t, authority.Verify(cred, sigFirst, first))
}

func TestAuthorityVerifyRejectsTamperedSignature(t *testing.T) {
	authority := NewAuthority(smallConfig())
	_, err := authority.Provision("ev-1")
	require.NoError(t, err)

	cred, secret, err := authority.Issue("ev-1", true)
	require.NoError(t, err)

	message := []byte("message")
	sig, err := crypto.OTSSignWithSecret(secret, message)
	require.NoError(t, err)

	tampered := make(crypto.OTSSignature, len(sig))
	for i := range sig {
		tampered[i] = append([]byte(nil), sig[i]...)
	}
	tampered[0][0] ^= 0x01
	require.ErrorIs(t, authority.Verify(cred, tampered, message), ErrInvalidSignature)

	// Signature over a different message does not match the transcript.
	require.ErrorIs(t, authority.Verify(cred, sig, []byte("other")), ErrInvalidSignature)
}

func TestAuthorityVerifyRejectsForgedPath(t *testing.T) {
	authority := NewAuthority(smallConfig())
	_, err := authority.Provision("ev-1")
	require.NoError(t, err)

	cred, secret, err := authority.Issue("ev-1", true)
	require.NoError(t, err)

	message := []byte("message")
	sig, err := crypto.OTSSignWithSecret(secret, message)
	require.NoError(t, err)

	cred.AuthPath[1][0] ^= 0x01
	require.ErrorIs(t, authority.Verify(cred, sig, message), ErrInvalidPath)
}

func TestAuthorityVerifyExpiredCredential(t *testing.T) {
	authority := NewAuthority(smallConfig())
	_, err := authority.Provision("ev-1")
	require.NoError(t, err)

	cred, secret, err := authority.Issue("ev-1", true)
	require.NoError(t, err)

	message := []byte("message")
	sig, err := crypto.OTSSignWithSecret(secret, message)
	require.NoError(t, err)

	authority.now = func() time.Time { return cred.ExpiresAt.Add(time.Second) }
	require.ErrorIs(t, authority.Verify(cred, sig, message), ErrExpired)
}

func TestAuthorityLookupCommitment(t *testing.T) {
	authority := NewAuthority(smallConfig())
	_, err := authority.Provision("ev-1")
	require.NoError(t, err)

	cred, secret, err := authority.Issue("ev-1", true)
	require.NoError(t, err)

	commitment, err := crypto.CredentialCommitment(secret)
	require.NoError(t, err)

	owner, err := authority.LookupCommitment(commitment)
	require.NoError(t, err)
	require.Equal(t, "ev-1", owner)

	_, err = authority.LookupCommitment([]byte("no such commitment"))
	require.ErrorIs(t, err, ErrUnknownIdentity)

	authority.now = func() time.Time { return cred.ExpiresAt.Add(time.Second) }
	_, err = authority.LookupCommitment(commitment)
	require.ErrorIs(t, err, ErrExpired)
}
