package testutil

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// =====================================
// Configuration Generators
// =====================================

// TestConfigOption is a function that modifies a protocol Config.
type TestConfigOption func(*protocol.Config)

// WithTreeHeight sets the one-time key tree height.
func WithTreeHeight(height int) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.TreeHeight = height
	}
}

// WithHammingThreshold sets the maximum accepted PUF Hamming distance.
func WithHammingThreshold(threshold int) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.PUFHammingThreshold = threshold
	}
}

// WithCredentialTTL sets the credential lifetime.
func WithCredentialTTL(ttl time.Duration) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.CredentialTTL = ttl
	}
}

// WithSessionTTL sets the session deadline budget.
func WithSessionTTL(ttl time.Duration) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.SessionTTL = ttl
	}
}

// WithAnomalyThreshold sets the maximum admissible anomaly score.
func WithAnomalyThreshold(threshold float64) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.AnomalyThreshold = threshold
	}
}

// WithAnomalyTimeout sets the bounded wait on the anomaly gate.
func WithAnomalyTimeout(timeout time.Duration) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.AnomalyTimeout = timeout
	}
}

// WithAnomalyFailOpen sets the gate policy when the scorer is unavailable.
func WithAnomalyFailOpen(failOpen bool) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.AnomalyFailOpen = failOpen
	}
}

// NewTestConfig creates a protocol configuration with timings shortened
// for tests, customizable using options.
func NewTestConfig(options ...TestConfigOption) *protocol.Config {
	cfg := protocol.DefaultConfig()
	cfg.TreeHeight = 3
	cfg.SessionTTL = 5 * time.Second
	cfg.AnomalyTimeout = 50 * time.Millisecond
	cfg.AuditBackoffBase = time.Millisecond

	for _, option := range options {
		option(cfg)
	}

	return cfg
}

// =====================================
// Identity Generators
// =====================================

// IdentityOption is a function that modifies an Identity.
type IdentityOption func(*protocol.Identity)

// WithRole sets the identity's role.
func WithRole(role protocol.Role) IdentityOption {
	return func(identity *protocol.Identity) {
		identity.Role = role
	}
}

// WithDomain sets the identity's trust domain.
func WithDomain(domain string) IdentityOption {
	return func(identity *protocol.Identity) {
		identity.Domain = domain
	}
}

// NewTestIdentity creates a vehicle identity in domain-a that can be
// customized using options.
func NewTestIdentity(id string, options ...IdentityOption) protocol.Identity {
	identity := protocol.Identity{
		ID:         id,
		Role:       protocol.RoleEV,
		Domain:     "domain-a",
		EnrolledAt: time.Now().UTC(),
	}

	for _, option := range options {
		option(&identity)
	}

	return identity
}

// NewTestFleet generates vehicle identities in domain-a and station
// identities alternating between domain-a and domain-b, mirroring a
// two-operator deployment.
func NewTestFleet(vehicles, stations int) []protocol.Identity {
	fleet := make([]protocol.Identity, 0, vehicles+stations)
	for i := 0; i < vehicles; i++ {
		fleet = append(fleet, NewTestIdentity(fmt.Sprintf("ev-%03d", i+1)))
	}
	for i := 0; i < stations; i++ {
		domain := "domain-a"
		if i%2 == 1 {
			domain = "domain-b"
		}
		fleet = append(fleet, NewTestIdentity(fmt.Sprintf("cs-%03d", i+1),
			WithRole(protocol.RoleCS), WithDomain(domain)))
	}
	return fleet
}

// =====================================
// Misc Generators
// =====================================

// GenerateRandomBytes generates a slice of random bytes with the specified length.
func GenerateRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	_, err := rand.Read(bytes)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// DiscardLogger returns a logger that drops all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
