package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// PublicKey verifies envelope signatures and identifies the signing
// node. Ed25519.
type PublicKey []byte

// Equal compares two public keys in constant time.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

// String returns the hex encoding, suitable for logs and map keys.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk)
}

// PrivateKey signs protocol envelopes. Holders must keep it off the
// wire; only the derived PublicKey is shared.
type PrivateKey []byte

// PublicKey derives the verification key. Ed25519 private keys embed it
// in their second half.
func (sk PrivateKey) PublicKey() (PublicKey, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return PublicKey(sk[32:]), nil
}

// GenerateKeyPair creates a fresh envelope signing key pair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// Signature is an Ed25519 signature over a protocol envelope. Envelope
// signatures authenticate transport messages; they are distinct from
// the one-time hash-based signatures carried by credentials.
type Signature []byte

// Verify reports whether the signature is valid for data under publicKey.
func (s Signature) Verify(publicKey PublicKey, data []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, s)
}

// String returns the hex encoding.
func (s Signature) String() string {
	return hex.EncodeToString(s)
}

// Sign signs data with the node's envelope key.
func Sign(privateKey PrivateKey, data []byte) (Signature, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return Signature(ed25519.Sign(ed25519.PrivateKey(privateKey), data)), nil
}
