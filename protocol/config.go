package protocol

import "time"

// Config provides protocol parameters for LQAP components. The zero value
// is not usable; start from DefaultConfig.
type Config struct {
	// TreeHeight is the height of per-identity one-time key trees.
	// Capacity is 2^TreeHeight credentials before re-provisioning.
	TreeHeight int `json:"tree_height"`

	// PUFResponseBits is the PUF response width in bits.
	PUFResponseBits int `json:"puf_response_bits"`

	// PUFChallengeBytes is the PUF challenge length.
	PUFChallengeBytes int `json:"puf_challenge_bytes"`

	// EnrollmentChallenges is the number of challenge-response pairs
	// sampled at enrollment.
	EnrollmentChallenges int `json:"enrollment_challenges"`

	// EnrollmentSamples is how many times each challenge is replayed at
	// enrollment to build the stability mask.
	EnrollmentSamples int `json:"enrollment_samples"`

	// MinStableBits is the per-pair floor of stable bits below which the
	// pair is discarded as unstable.
	MinStableBits int `json:"min_stable_bits"`

	// MinStablePairs is the minimum count of stable pairs for enrollment
	// to succeed.
	MinStablePairs int `json:"min_stable_pairs"`

	// PUFHammingThreshold is the maximum Hamming distance accepted at
	// verification, measured over stable bits only.
	PUFHammingThreshold int `json:"puf_hamming_threshold"`

	// CredentialTTL is credential validity from issuance.
	CredentialTTL time.Duration `json:"credential_ttl,string"`

	// SessionTTL is the session deadline from creation.
	SessionTTL time.Duration `json:"session_ttl,string"`

	// AnomalyThreshold is the score above which the gate denies.
	AnomalyThreshold float64 `json:"anomaly_threshold"`

	// AnomalyTimeout bounds the wait for the external scorer.
	AnomalyTimeout time.Duration `json:"anomaly_timeout,string"`

	// AnomalyFailOpen allows authentication when the scorer times out.
	// Default is fail-closed: a silent scorer denies.
	AnomalyFailOpen bool `json:"anomaly_fail_open"`

	// AnomalyWindow is the activity window the scorer is asked about.
	AnomalyWindow time.Duration `json:"anomaly_window,string"`

	// AuditMaxAttempts bounds ledger submission retries before a record
	// is parked in the fallback queue.
	AuditMaxAttempts int `json:"audit_max_attempts"`

	// AuditBackoffBase is the first retry delay; it doubles per attempt.
	AuditBackoffBase time.Duration `json:"audit_backoff_base,string"`
}

// DefaultConfig returns the reference parameter set.
func DefaultConfig() *Config {
	return &Config{
		TreeHeight:           10,
		PUFResponseBits:      128,
		PUFChallengeBytes:    32,
		EnrollmentChallenges: 8,
		EnrollmentSamples:    5,
		MinStableBits:        96,
		MinStablePairs:       4,
		PUFHammingThreshold:  10,
		CredentialTTL:        24 * time.Hour,
		SessionTTL:           30 * time.Second,
		AnomalyThreshold:     0.7,
		AnomalyTimeout:       2 * time.Second,
		AnomalyFailOpen:      false,
		AnomalyWindow:        time.Hour,
		AuditMaxAttempts:     5,
		AuditBackoffBase:     100 * time.Millisecond,
	}
}
