package protocol

import (
	"fmt"
	"sync"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

// PUFOracle is the black-box hardware interface: given a challenge, the
// device produces its (noisy) response. The silicon or simulator behind
// it is outside the engine.
type PUFOracle interface {
	Respond(challenge crypto.BitVector) (crypto.BitVector, error)
}

// CRP is an enrolled challenge-response pair: the challenge, the
// majority-voted reference response, and the stability mask acting as
// error-correction helper data. The raw reference never leaves the
// enrolling edge node.
type CRP struct {
	Challenge crypto.BitVector `json:"challenge"`
	Reference crypto.BitVector `json:"reference"`
	Mask      crypto.BitVector `json:"mask"`
}

// PUFProfile holds an identity's enrolled pairs and acceptance threshold.
type PUFProfile struct {
	IdentityID string `json:"identity_id"`
	Pairs      []CRP  `json:"pairs"`
	Threshold  int    `json:"threshold"`
}

// PUFVerifier enrolls identities against their hardware and evaluates
// challenge-response attempts. Verification is stateless: no profile
// mutation, no logging of raw challenge or response material.
type PUFVerifier struct {
	config *Config

	mu       sync.RWMutex
	profiles map[string]*PUFProfile
}

// NewPUFVerifier creates a verifier with an empty profile store.
func NewPUFVerifier(config *Config) *PUFVerifier {
	return &PUFVerifier{
		config:   config,
		profiles: make(map[string]*PUFProfile),
	}
}

// Enroll samples the oracle over a fresh challenge set and stores the
// resulting profile. Challenges whose responses are too unstable are
// discarded; enrollment fails with ErrEnrollment if fewer than the
// configured minimum of stable pairs survive.
func (v *PUFVerifier) Enroll(identity Identity, oracle PUFOracle) (*PUFProfile, error) {
	profile := &PUFProfile{
		IdentityID: identity.ID,
		Threshold:  v.config.PUFHammingThreshold,
	}

	for i := 0; i < v.config.EnrollmentChallenges; i++ {
		challenge, err := crypto.RandomBits(v.config.PUFChallengeBytes * 8)
		if err != nil {
			return nil, fmt.Errorf("generating challenge: %w", err)
		}

		samples := make([]crypto.BitVector, 0, v.config.EnrollmentSamples)
		for j := 0; j < v.config.EnrollmentSamples; j++ {
			resp, err := oracle.Respond(challenge)
			if err != nil {
				return nil, fmt.Errorf("sampling oracle: %w", err)
			}
			samples = append(samples, resp)
		}

		reference, mask, err := crypto.MajorityVote(samples)
		if err != nil {
			return nil, fmt.Errorf("reconciling samples: %w", err)
		}
		if mask.OnesCount() < v.config.MinStableBits {
			// Unstable cells dominate this challenge; drop the pair.
			continue
		}

		profile.Pairs = append(profile.Pairs, CRP{
			Challenge: challenge,
			Reference: reference,
			Mask:      mask,
		})
	}

	if len(profile.Pairs) < v.config.MinStablePairs {
		return nil, fmt.Errorf("%w: %d stable pairs, need %d",
			ErrEnrollment, len(profile.Pairs), v.config.MinStablePairs)
	}

	v.mu.Lock()
	v.profiles[identity.ID] = profile
	v.mu.Unlock()

	return profile, nil
}

// Challenge picks an enrolled challenge for the identity. The verifier
// side of the hardware contract: the device answers via its oracle.
func (v *PUFVerifier) Challenge(identityID string) (crypto.BitVector, error) {
	v.mu.RLock()
	profile, ok := v.profiles[identityID]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownIdentity
	}

	pick, err := crypto.RandomBits(8)
	if err != nil {
		return nil, err
	}
	pair := profile.Pairs[int(pick[0])%len(profile.Pairs)]
	return pair.Challenge.Clone(), nil
}

// Verify checks a response against the enrolled reference for the given
// challenge. Accepts iff the Hamming distance over stable bits is within
// the profile threshold; otherwise ErrPUFMismatch. Never mutates the
// profile.
func (v *PUFVerifier) Verify(identityID string, challenge, response crypto.BitVector) error {
	v.mu.RLock()
	profile, ok := v.profiles[identityID]
	v.mu.RUnlock()
	if !ok {
		return ErrUnknownIdentity
	}

	var pair *CRP
	for i := range profile.Pairs {
		if string(profile.Pairs[i].Challenge) == string(challenge) {
			pair = &profile.Pairs[i]
			break
		}
	}
	if pair == nil {
		return ErrPUFMismatch
	}

	maskedRef, err := pair.Reference.And(pair.Mask)
	if err != nil {
		return ErrPUFMismatch
	}
	maskedResp, err := response.And(pair.Mask)
	if err != nil {
		return ErrPUFMismatch
	}

	distance, err := crypto.HammingDistance(maskedRef, maskedResp)
	if err != nil {
		return ErrPUFMismatch
	}
	if distance > profile.Threshold {
		return ErrPUFMismatch
	}
	return nil
}

// HasProfile reports whether the identity is enrolled.
func (v *PUFVerifier) HasProfile(identityID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.profiles[identityID]
	return ok
}
