// Package crypto provides cryptographic primitives for quantum-resistant
// V2G authentication.
//
// This package implements the low-level operations required by the LQAP
// protocol engine:
//
//   - Winternitz one-time signatures (WOTS) with a Merkle tree of OTS
//     public keys, the hash-based credential scheme consumed by the
//     credential authority
//   - Merkle authentication paths proving a leaf's membership in a
//     committed tree root
//   - Schnorr proofs of credential possession over ristretto255 with a
//     Fiat-Shamir transform, used for cross-domain verification
//   - Bit-vector operations (Hamming distance, majority vote, stability
//     masks) for PUF response reconciliation
//   - Ed25519 signatures for transport envelope authentication
//
// The hash-based scheme relies only on SHA3-256 pre-image resistance and
// makes no number-theoretic assumptions, providing post-quantum security
// for credentials. The Schnorr proof is classical; it protects credential
// privacy across domains, not long-term authenticity.
//
// # One-Time Keys
//
// Each leaf of the Merkle tree corresponds to one WOTS key pair derived
// deterministically from a per-identity seed. A leaf must sign at most one
// message ever; leaf allocation and reuse detection are the credential
// authority's responsibility (see the protocol package), not this one's.
//
// Note: not all operations are constant-time (in particular bit-vector
// math and Merkle tree construction).
package crypto
