package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/cloudflare/circl/group"
)

// The possession proof runs over ristretto255. Domain separation tags keep
// the secret derivation and Fiat-Shamir challenge in disjoint hash domains.
var zkGroup = group.Ristretto255

const (
	dstSecret    = "lqap/v1/cred-secret"
	dstChallenge = "lqap/v1/zkp-challenge"
)

// Possession proof errors.
var (
	ErrMalformedProof      = errors.New("crypto: malformed possession proof")
	ErrMalformedCommitment = errors.New("crypto: malformed credential commitment")
)

// PossessionProof is a non-interactive Schnorr proof that the prover knows
// the scalar behind a credential commitment, bound to a verifier-chosen
// context (the session nonce). It reveals nothing about the credential's
// leaf index or signature material.
type PossessionProof struct {
	Commitment []byte `json:"commitment"` // T = r*G
	Response   []byte `json:"response"`   // s = r + c*x
}

// CredentialCommitment derives the public commitment Y = x*G for a
// credential secret. The credential authority publishes Y at issuance.
func CredentialCommitment(secret []byte) ([]byte, error) {
	x := zkGroup.HashToScalar(secret, []byte(dstSecret))
	Y := zkGroup.NewElement().MulGen(x)
	return Y.MarshalBinaryCompress()
}

// ProvePossession creates a proof of knowledge of the credential secret,
// bound to context. The same proof fails verification under any other
// context, which is what defeats cross-session replay.
func ProvePossession(secret, context []byte) (*PossessionProof, error) {
	x := zkGroup.HashToScalar(secret, []byte(dstSecret))

	r := zkGroup.RandomNonZeroScalar(rand.Reader)
	T := zkGroup.NewElement().MulGen(r)

	tBytes, err := T.MarshalBinaryCompress()
	if err != nil {
		return nil, err
	}
	yBytes, err := CredentialCommitment(secret)
	if err != nil {
		return nil, err
	}

	c := deriveChallenge(tBytes, yBytes, context)

	// s = r + c*x
	s := zkGroup.NewScalar().Mul(c, x)
	s.Add(s, r)

	sBytes, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return &PossessionProof{Commitment: tBytes, Response: sBytes}, nil
}

// VerifyPossession checks a possession proof against a published credential
// commitment and the verifier's context. Returns nil if s*G == T + c*Y.
func VerifyPossession(proof *PossessionProof, commitment, context []byte) error {
	if proof == nil || len(proof.Commitment) == 0 || len(proof.Response) == 0 {
		return ErrMalformedProof
	}

	Y := zkGroup.NewElement()
	if err := Y.UnmarshalBinary(commitment); err != nil {
		return ErrMalformedCommitment
	}
	T := zkGroup.NewElement()
	if err := T.UnmarshalBinary(proof.Commitment); err != nil {
		return ErrMalformedProof
	}
	s := zkGroup.NewScalar()
	if err := s.UnmarshalBinary(proof.Response); err != nil {
		return ErrMalformedProof
	}

	c := deriveChallenge(proof.Commitment, commitment, context)

	left := zkGroup.NewElement().MulGen(s)
	right := zkGroup.NewElement().Mul(Y, c)
	right.Add(right, T)

	if !left.IsEqual(right) {
		return ErrMalformedProof
	}
	return nil
}

// deriveChallenge computes c = H(T || Y || context) as a group scalar.
func deriveChallenge(tBytes, yBytes, context []byte) group.Scalar {
	data := make([]byte, 0, len(tBytes)+len(yBytes)+len(context))
	data = append(data, tBytes...)
	data = append(data, yBytes...)
	data = append(data, context...)
	return zkGroup.HashToScalar(data, []byte(dstChallenge))
}
