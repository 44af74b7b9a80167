package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testIdentity(id string) Identity {
	return Identity{ID: id, Role: RoleEV, Domain: "domain-a", EnrolledAt: time.Now()}
}

func TestPUFEnrollAndVerify(t *testing.T) {
	config := DefaultConfig()
	verifier := NewPUFVerifier(config)
	oracle := newTestOracle("ev-1", 0)

	profile, err := verifier.Enroll(testIdentity("ev-1"), oracle)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(profile.Pairs), config.MinStablePairs)
	require.True(t, verifier.HasProfile("ev-1"))

	// A noiseless oracle leaves every bit stable.
	for _, pair := range profile.Pairs {
		require.Equal(t, config.PUFResponseBits, pair.Mask.OnesCount())
	}

	challenge, err := verifier.Challenge("ev-1")
	require.NoError(t, err)
	response, err := oracle.Respond(challenge)
	require.NoError(t, err)
	require.NoError(t, verifier.Verify("ev-1", challenge, response))
}

func TestPUFVerifyNoisyResponse(t *testing.T) {
	config := DefaultConfig()
	verifier := NewPUFVerifier(config)
	oracle := newTestOracle("ev-noisy", 0)

	_, err := verifier.Enroll(testIdentity("ev-noisy"), oracle)
	require.NoError(t, err)

	challenge, err := verifier.Challenge("ev-noisy")
	require.NoError(t, err)
	response, err := oracle.Respond(challenge)
	require.NoError(t, err)

	// Flipping exactly the threshold count of bits still verifies.
	within := response.Clone()
	for i := 0; i < config.PUFHammingThreshold; i++ {
		within[i/8] ^= 1 << (7 - i%8)
	}
	require.NoError(t, verifier.Verify("ev-noisy", challenge, within))

	// One more flip crosses the boundary.
	over := response.Clone()
	for i := 0; i <= config.PUFHammingThreshold; i++ {
		over[i/8] ^= 1 << (7 - i%8)
	}
	require.ErrorIs(t, verifier.Verify("ev-noisy", challenge, over), ErrPUFMismatch)
}

func TestPUFVerifyRejectsForeignDevice(t *testing.T) {
	verifier := NewPUFVerifier(DefaultConfig())
	enrolled := newTestOracle("ev-real", 0)
	impostor := newTestOracle("ev-clone", 0)

	_, err := verifier.Enroll(testIdentity("ev-real"), enrolled)
	require.NoError(t, err)

	challenge, err := verifier.Challenge("ev-real")
	require.NoError(t, err)
	response, err := impostor.Respond(challenge)
	require.NoError(t, err)

	// A different physical device answers far outside the threshold.
	require.ErrorIs(t, verifier.Verify("ev-real", challenge, response), ErrPUFMismatch)
}

func TestPUFVerifyUnknownChallenge(t *testing.T) {
	verifier := NewPUFVerifier(DefaultConfig())
	oracle := newTestOracle("ev-2", 0)
	_, err := verifier.Enroll(testIdentity("ev-2"), oracle)
	require.NoError(t, err)

	challenge, err := verifier.Challenge("ev-2")
	require.NoError(t, err)
	response, err := oracle.Respond(challenge)
	require.NoError(t, err)

	// A challenge the verifier never handed out does not verify, the
	// response notwithstanding.
	forged := challenge.Clone()
	forged[0] ^= 0xff
	require.ErrorIs(t, verifier.Verify("ev-2", forged, response), ErrPUFMismatch)

	require.ErrorIs(t, verifier.Verify("ev-unknown", challenge, response), ErrUnknownIdentity)
}

func TestPUFEnrollUnstableDevice(t *testing.T) {
	config := DefaultConfig()
	verifier := NewPUFVerifier(config)

	// Heavy per-call noise leaves well under MinStableBits stable cells,
	// so every pair is dropped.
	oracle := newTestOracle("ev-flaky", 48)
	_, err := verifier.Enroll(testIdentity("ev-flaky"), oracle)
	require.ErrorIs(t, err, ErrEnrollment)
	require.False(t, verifier.HasProfile("ev-flaky"))
}

func TestPUFVerifyIsStateless(t *testing.T) {
	verifier := NewPUFVerifier(DefaultConfig())
	oracle := newTestOracle("ev-3", 0)
	profile, err := verifier.Enroll(testIdentity("ev-3"), oracle)
	require.NoError(t, err)
	before := len(profile.Pairs)

	challenge, err := verifier.Challenge("ev-3")
	require.NoError(t, err)
	response, err := oracle.Respond(challenge)
	require.NoError(t, err)

	// Repeated verification attempts, valid and invalid, leave the
	// profile untouched.
	for i := 0; i < 10; i++ {
		require.NoError(t, verifier.Verify("ev-3", challenge, response))
		bad := response.Clone()
		for j := 0; j < 32; j++ {
			bad[j/8] ^= 1 << (7 - j%8)
		}
		require.Error(t, verifier.Verify("ev-3", challenge, bad))
	}
	require.Equal(t, before, len(profile.Pairs))
}
