package protocol

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

func TestStateTransitions(t *testing.T) {
	// Forward edges only; no terminal state has successors.
	require.True(t, CanTransition(StateInit, StatePUFChallenged))
	require.True(t, CanTransition(StatePUFChallenged, StatePUFVerified))
	require.True(t, CanTransition(StatePUFVerified, StateCredentialVerified))
	require.True(t, CanTransition(StateCredentialVerified, StateZKPVerified))
	require.True(t, CanTransition(StateCredentialVerified, StateAnomalyChecked))
	require.True(t, CanTransition(StateZKPVerified, StateAnomalyChecked))
	require.True(t, CanTransition(StateAnomalyChecked, StateAuthenticated))
	require.True(t, CanTransition(StateAnomalyChecked, StateRejected))

	require.False(t, CanTransition(StatePUFVerified, StatePUFChallenged))
	require.False(t, CanTransition(StateAnomalyChecked, StateCredentialVerified))
	require.False(t, CanTransition(StateInit, StateAuthenticated))

	for _, terminal := range []State{StateAuthenticated, StateRejected, StateExpired} {
		require.True(t, terminal.Terminal())
		for to := StateInit; to <= StateExpired; to++ {
			require.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}

	// The deadline transition is legal from any non-terminal state.
	for _, from := range []State{StateInit, StatePUFChallenged, StatePUFVerified,
		StateCredentialVerified, StateZKPVerified, StateAnomalyChecked} {
		require.False(t, from.Terminal())
		require.True(t, CanTransition(from, StateExpired))
	}
}

func TestEngineIntraDomainAuthentication(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)
	require.False(t, session.CrossDomain)
	require.Equal(t, StatePUFChallenged, session.State())

	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, false)
	require.NoError(t, err)

	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionAuthenticated, result.Decision)
	require.Equal(t, ReasonNone, result.Reason)
	require.NotEmpty(t, result.EvidenceHash)

	// Same-domain sessions skip the possession proof state.
	require.Equal(t, []State{StateInit, StatePUFChallenged, StatePUFVerified,
		StateCredentialVerified, StateAnomalyChecked, StateAuthenticated}, session.History())

	env.auditor.Flush()
	record, ok := env.ledger.get(session.ID)
	require.True(t, ok)
	require.Equal(t, DecisionAuthenticated, record.Decision)
	require.Equal(t, result.EvidenceHash, record.EvidenceHash)
}

func TestEngineCrossDomainAuthentication(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-9", RoleCS, "domain-b")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-9")
	require.NoError(t, err)
	require.True(t, session.CrossDomain)

	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, true)
	require.NoError(t, err)

	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionAuthenticated, result.Decision)
	require.Contains(t, session.History(), StateZKPVerified)

	env.auditor.Flush()
	record, ok := env.ledger.get(session.ID)
	require.True(t, ok)
	require.True(t, record.CrossDomain)
}

func TestEngineCrossDomainRequiresProof(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-9", RoleCS, "domain-b")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-9")
	require.NoError(t, err)

	// A cross-domain request without a possession proof is rejected.
	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, false)
	require.NoError(t, err)

	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, result.Decision)
	require.Equal(t, ReasonBadProof, result.Reason)
}

func TestEngineRejectsBadPUFResponse(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)

	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, false)
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		req.PUFResponse[i] ^= 0xff
	}

	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, result.Decision)
	require.Equal(t, ReasonPUFRejected, result.Reason)
	// No verification state was reached.
	require.Equal(t, []State{StateInit, StatePUFChallenged, StateRejected}, session.History())
}

func TestEngineRejectsForeignChallengeResponse(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)

	// A valid response to a different enrolled challenge must not
	// satisfy the challenge issued for this session.
	var other crypto.BitVector
	for i := 0; i < 64; i++ {
		other, err = env.puf.Challenge("ev-1")
		require.NoError(t, err)
		if !bytes.Equal(other, challenge) {
			break
		}
	}
	require.False(t, bytes.Equal(other, challenge))

	req, err := env.authRequest("ev-1", oracle, other, cred, secret, session.Nonce, false)
	require.NoError(t, err)
	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, result.Decision)
	require.Equal(t, ReasonPUFRejected, result.Reason)
	require.Equal(t, []State{StateInit, StatePUFChallenged, StateRejected}, session.History())
}

func TestEngineRejectsReusedCredential(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	first, challenge1, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)
	req1, err := env.authRequest("ev-1", oracle, challenge1, cred, secret, first.Nonce, false)
	require.NoError(t, err)
	result, err := env.engine.Authenticate(context.Background(), first.ID, req1)
	require.NoError(t, err)
	require.Equal(t, DecisionAuthenticated, result.Decision)

	// Same credential in a second session signs a different transcript:
	// the leaf is burned.
	second, challenge2, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)
	req2, err := env.authRequest("ev-1", oracle, challenge2, cred, secret, second.Nonce, false)
	require.NoError(t, err)
	req2.Message = []byte("a different transcript")
	sig, err := crypto.OTSSignWithSecret(secret, req2.Message)
	require.NoError(t, err)
	req2.Signature = sig

	result2, err := env.engine.Authenticate(context.Background(), second.ID, req2)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, result2.Decision)
	require.Equal(t, ReasonBadCredential, result2.Reason)
}

func TestEngineRejectsExpiredCredential(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)
	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, false)
	require.NoError(t, err)

	// The credential lapses between issuance and verification.
	env.authority.now = func() time.Time { return cred.ExpiresAt.Add(time.Second) }

	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, result.Decision)
	require.Equal(t, ReasonBadCredential, result.Reason)
	require.Equal(t, []State{StateInit, StatePUFChallenged, StatePUFVerified,
		StateRejected}, session.History())

	env.auditor.Flush()
	require.Equal(t, 1, env.ledger.count())
	record, ok := env.ledger.get(session.ID)
	require.True(t, ok)
	require.Equal(t, DecisionRejected, record.Decision)
}

func TestEngineAnomalyRejection(t *testing.T) {
	env := newTestEnv(nil)
	env.scorer.score = 0.9
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)
	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, false)
	require.NoError(t, err)

	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, result.Decision)
	require.Equal(t, ReasonAnomalous, result.Reason)

	// All cryptographic checks passed before the gate vetoed.
	history := session.History()
	require.Contains(t, history, StateCredentialVerified)
	require.Contains(t, history, StateAnomalyChecked)
	require.Equal(t, StateRejected, history[len(history)-1])
}

func TestEngineAnomalyTimeoutFailClosed(t *testing.T) {
	env := newTestEnv(nil)
	env.scorer.delay = time.Second
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)
	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, false)
	require.NoError(t, err)

	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, result.Decision)
	require.Equal(t, ReasonAnomalous, result.Reason)
}

func TestEngineTerminalReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)
	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, false)
	require.NoError(t, err)

	first, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)

	// Replaying the message returns the recorded decision; no check
	// re-runs and no second audit record is emitted.
	for i := 0; i < 3; i++ {
		replay, err := env.engine.Authenticate(context.Background(), session.ID, req)
		require.NoError(t, err)
		require.Equal(t, first, replay)
	}

	env.auditor.Flush()
	require.Equal(t, 1, env.ledger.count())
}

func TestEngineSessionExpiry(t *testing.T) {
	env := newTestEnv(nil)
	_, oracle, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	cred, secret, err := env.issue("ev-1", oracle)
	require.NoError(t, err)

	session, challenge, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)

	env.engine.now = func() time.Time { return session.Deadline.Add(time.Second) }

	req, err := env.authRequest("ev-1", oracle, challenge, cred, secret, session.Nonce, false)
	require.NoError(t, err)
	result, err := env.engine.Authenticate(context.Background(), session.ID, req)
	require.NoError(t, err)
	require.Equal(t, DecisionExpired, result.Decision)
	require.Equal(t, ReasonSessionExpired, result.Reason)
	require.Equal(t, StateExpired, session.State())

	env.auditor.Flush()
	record, ok := env.ledger.get(session.ID)
	require.True(t, ok)
	require.Equal(t, DecisionExpired, record.Decision)
}

func TestEngineExpireSessionsSweep(t *testing.T) {
	env := newTestEnv(nil)
	_, _, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)
	_, _, err = env.enroll("cs-1", RoleCS, "domain-a")
	require.NoError(t, err)

	session, _, err := env.engine.StartSession("ev-1", "cs-1")
	require.NoError(t, err)

	require.Equal(t, 0, env.engine.ExpireSessions())
	require.Equal(t, StatePUFChallenged, session.State())

	env.engine.now = func() time.Time { return session.Deadline.Add(time.Second) }
	require.Equal(t, 1, env.engine.ExpireSessions())
	require.Equal(t, StateExpired, session.State())

	env.auditor.Flush()
	record, ok := env.ledger.get(session.ID)
	require.True(t, ok)
	require.Equal(t, DecisionExpired, record.Decision)

	// Terminal sessions past a full TTL are disposed of; replay then
	// reports the session gone.
	env.engine.now = func() time.Time {
		return session.Deadline.Add(2 * env.config.SessionTTL)
	}
	env.engine.ExpireSessions()
	_, err = env.engine.Session(session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngineStartSessionUnknownIdentity(t *testing.T) {
	env := newTestEnv(nil)
	_, _, err := env.enroll("ev-1", RoleEV, "domain-a")
	require.NoError(t, err)

	_, _, err = env.engine.StartSession("ev-1", "cs-missing")
	require.ErrorIs(t, err, ErrUnknownIdentity)
	_, _, err = env.engine.StartSession("ev-missing", "ev-1")
	require.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestEngineRegisterIdentity(t *testing.T) {
	env := newTestEnv(nil)
	identity := Identity{ID: "ev-1", Role: RoleEV, Domain: "domain-a"}
	require.NoError(t, env.engine.RegisterIdentity(identity))
	require.Error(t, env.engine.RegisterIdentity(identity))
	require.Error(t, env.engine.RegisterIdentity(Identity{ID: "x", Role: Role("bogus")}))

	got, err := env.engine.Identity("ev-1")
	require.NoError(t, err)
	require.Equal(t, identity, got)
}
