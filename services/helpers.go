package services

import (
	"fmt"

	"github.com/shafiqahmeddev/lqap-project/crypto"
	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// SessionTranscript is the message a one-time credential signs for a
// session: it binds the session id and both parties so a signature
// cannot be replayed into another session.
func SessionTranscript(sessionID, initiatorID, verifierID string) []byte {
	return []byte(fmt.Sprintf("lqap/v1/session/%s/%s/%s", sessionID, initiatorID, verifierID))
}

// BuildAuthRequest assembles the initiator side of an authentication
// run: the PUF response, the one-time signature over the session
// transcript, and for cross-domain sessions a possession proof bound to
// the session nonce.
func BuildAuthRequest(initiatorID, verifierID string, cred *protocol.CredentialResponse,
	start *SessionStartResponse, pufResponse crypto.BitVector) (*protocol.AuthRequest, error) {
	if cred.Credential == nil || len(cred.Secret) == 0 {
		return nil, fmt.Errorf("credential response carries no signing material")
	}

	message := SessionTranscript(start.SessionID, initiatorID, verifierID)
	sig, err := crypto.OTSSignWithSecret(cred.Secret, message)
	if err != nil {
		return nil, fmt.Errorf("signing transcript: %w", err)
	}

	req := &protocol.AuthRequest{
		InitiatorID:  initiatorID,
		VerifierID:   verifierID,
		PUFChallenge: start.PUFChallenge,
		PUFResponse:  pufResponse,
		Credential:   cred.Credential,
		Signature:    sig,
		Message:      message,
	}

	if start.CrossDomain {
		proof, err := protocol.Prove(cred.Secret, start.Nonce)
		if err != nil {
			return nil, fmt.Errorf("building possession proof: %w", err)
		}
		req.Proof = proof
	}
	return req, nil
}
