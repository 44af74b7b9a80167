package protocol

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

// Signed provides authentication for protocol messages.
// Security: Uses Ed25519 signatures. Assumes private keys are secure.
// Note: Signature covers serialized object + public key to prevent substitution.
type Signed[T any] struct {
	PublicKey crypto.PublicKey `json:"public_key"`
	Signature crypto.Signature `json:"signature"`
	Object    *T               `json:"object"`
}

// NewSigned creates a signed message.
func NewSigned[T any](privkey crypto.PrivateKey, obj *T) (*Signed[T], error) {
	pubkey, err := privkey.PublicKey()
	if err != nil {
		return nil, err
	}

	serializedData, err := SerializeMessage(obj)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(privkey, append(serializedData, pubkey...))
	if err != nil {
		return nil, err
	}

	return &Signed[T]{
		PublicKey: pubkey,
		Signature: signature,
		Object:    obj,
	}, nil
}

// UnsafeObject returns the object without signature verification.
func (s *Signed[T]) UnsafeObject() *T {
	return s.Object
}

// Recover verifies the signature and returns the object and signer's public key.
func (s *Signed[T]) Recover() (*T, crypto.PublicKey, error) {
	serializedData, err := SerializeMessage(s.Object)
	if err != nil {
		return nil, nil, err
	}

	ok := s.Signature.Verify(s.PublicKey, append(serializedData, s.PublicKey...))
	if !ok {
		return nil, nil, errors.New("signature not valid")
	}

	return s.Object, s.PublicKey, nil
}

// CredentialRequest asks an edge node to issue a one-time credential.
// The PUF response answers the challenge previously handed out for the
// identity; the edge node verifies it before touching key state.
type CredentialRequest struct {
	IdentityID   string           `json:"identity_id"`
	PUFChallenge crypto.BitVector `json:"puf_challenge"`
	PUFResponse  crypto.BitVector `json:"puf_response"`
}

// CredentialResponse carries an issued credential or a coarse error.
type CredentialResponse struct {
	Credential *Credential `json:"credential,omitempty"`
	// Secret is the credential holder's proving material. Present only in
	// the response to the holder, never stored or relayed.
	Secret []byte `json:"secret,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ZKPProofMessage carries a possession proof into a cross-domain session.
type ZKPProofMessage struct {
	Proof        *ZKPProof `json:"proof"`
	SessionNonce []byte    `json:"session_nonce"`
}

// AuthRequest opens an authentication attempt against a verifier.
type AuthRequest struct {
	InitiatorID string `json:"initiator_id"`
	VerifierID  string `json:"verifier_id"`

	PUFChallenge crypto.BitVector `json:"puf_challenge"`
	PUFResponse  crypto.BitVector `json:"puf_response"`

	Credential *Credential         `json:"credential"`
	Signature  crypto.OTSSignature `json:"signature"`
	Message    []byte              `json:"message"`
	Proof      *ZKPProof           `json:"proof,omitempty"`
}

// AuthResult is the only thing the requesting identity learns about the
// decision: authenticated or not, plus a coarse reason code.
type AuthResult struct {
	SessionID    string     `json:"session_id"`
	Decision     Decision   `json:"decision"`
	Reason       ReasonCode `json:"reason,omitempty"`
	EvidenceHash string     `json:"evidence_hash"`
}

// UnmarshalMessage deserializes a message from JSON bytes.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON bytes.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
