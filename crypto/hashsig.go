package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/sha3"
)

// Winternitz OTS parameters. With w=16 a 256-bit digest needs 64 message
// chains plus 3 checksum chains.
const (
	WinternitzW = 16

	// OTSChains is the total number of 32-byte hash chains per OTS key.
	OTSChains = 67

	// SeedSize is the byte length of a key tree seed.
	SeedSize = 32

	// HashSize is the byte length of a tree node or chain element.
	HashSize = 32
)

// Hash-based signature errors.
var (
	ErrInvalidTreeHeight = errors.New("crypto: tree height must be 1-20")
	ErrInvalidSeed       = errors.New("crypto: seed must be 32 bytes")
	ErrLeafOutOfRange    = errors.New("crypto: leaf index exceeds tree size")
	ErrBadAuthPathLen    = errors.New("crypto: auth path length mismatch")
	ErrBadSignatureShape = errors.New("crypto: malformed one-time signature")
)

// OTSSignature is a Winternitz one-time signature: one intermediate chain
// value per message/checksum digit.
type OTSSignature [][]byte

// AuthPath is the sequence of sibling hashes from a leaf to the tree root.
type AuthPath [][HashSize]byte

// KeyTree is a Merkle tree whose leaves commit to WOTS public keys. All
// leaves derive deterministically from the seed, so only the seed and the
// current leaf index need to be stored by the owner.
type KeyTree struct {
	Height int
	Root   [HashSize]byte

	seed  []byte
	nodes [][HashSize]byte // 1-indexed heap layout, index 1 = root
}

// NewSeed generates a random key tree seed.
func NewSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// GenerateKeyTree builds the Merkle tree of WOTS public keys for a seed.
// The tree holds 2^height one-time leaves.
func GenerateKeyTree(seed []byte, height int) (*KeyTree, error) {
	if height < 1 || height > 20 {
		return nil, ErrInvalidTreeHeight
	}
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}

	numLeaves := 1 << height
	nodes := make([][HashSize]byte, 2*numLeaves)

	for i := 0; i < numLeaves; i++ {
		pub := otsPublicFromChains(deriveLeafChains(seed, uint32(i)))
		nodes[numLeaves+i] = hashChains(pub)
	}
	for i := numLeaves - 1; i >= 1; i-- {
		nodes[i] = hashNodes(nodes[2*i], nodes[2*i+1])
	}

	return &KeyTree{
		Height: height,
		Root:   nodes[1],
		seed:   seed,
		nodes:  nodes,
	}, nil
}

// Capacity returns the number of one-time leaves in the tree.
func (t *KeyTree) Capacity() uint32 {
	return 1 << t.Height
}

// AuthPath extracts the authentication path for a leaf index.
func (t *KeyTree) AuthPath(leafIndex uint32) (AuthPath, error) {
	if leafIndex >= t.Capacity() {
		return nil, ErrLeafOutOfRange
	}

	path := make(AuthPath, t.Height)
	nodeIdx := int(leafIndex) + (1 << t.Height)
	for level := 0; level < t.Height; level++ {
		path[level] = t.nodes[nodeIdx^1]
		nodeIdx >>= 1
	}
	return path, nil
}

// LeafPublicKey returns the WOTS public key hash committed at a leaf.
func (t *KeyTree) LeafPublicKey(leafIndex uint32) ([HashSize]byte, error) {
	if leafIndex >= t.Capacity() {
		return [HashSize]byte{}, ErrLeafOutOfRange
	}
	return t.nodes[int(leafIndex)+(1<<t.Height)], nil
}

// LeafSecret derives the secret chain seed for a leaf. The credential
// authority hands this to the credential holder; it never travels in
// clear over cross-domain links.
func (t *KeyTree) LeafSecret(leafIndex uint32) ([]byte, error) {
	if leafIndex >= t.Capacity() {
		return nil, ErrLeafOutOfRange
	}
	s := leafSeed(t.seed, leafIndex)
	return s[:], nil
}

// OTSSign produces the Winternitz signature for message under the given
// leaf. Signing the same leaf twice with distinct messages destroys its
// security; callers must enforce single use.
func (t *KeyTree) OTSSign(leafIndex uint32, message []byte) (OTSSignature, error) {
	if leafIndex >= t.Capacity() {
		return nil, ErrLeafOutOfRange
	}

	digest := sha3.Sum256(message)
	digits := messageDigits(digest)
	chains := deriveLeafChains(t.seed, leafIndex)

	sig := make(OTSSignature, OTSChains)
	for i := 0; i < OTSChains; i++ {
		sig[i] = chainHash(chains[i], digits[i])
	}
	return sig, nil
}

// OTSSignWithSecret produces a Winternitz signature from a leaf secret
// alone, without the tree. This is what a credential holder uses: the
// authority hands over the leaf secret at issuance and keeps the tree.
func OTSSignWithSecret(leafSecret, message []byte) (OTSSignature, error) {
	if len(leafSecret) != HashSize {
		return nil, ErrInvalidSeed
	}

	digest := sha3.Sum256(message)
	digits := messageDigits(digest)
	chains := chainsFromLeafSecret(leafSecret)

	sig := make(OTSSignature, OTSChains)
	for i := 0; i < OTSChains; i++ {
		sig[i] = chainHash(chains[i], digits[i])
	}
	return sig, nil
}

// OTSRecoverLeaf recomputes the leaf hash (the WOTS public key commitment)
// from a signature and the signed message. A forged signature yields a
// different leaf hash and therefore fails the auth path check.
func OTSRecoverLeaf(sig OTSSignature, message []byte) ([HashSize]byte, error) {
	if len(sig) != OTSChains {
		return [HashSize]byte{}, ErrBadSignatureShape
	}

	digest := sha3.Sum256(message)
	digits := messageDigits(digest)

	pub := make([][]byte, OTSChains)
	for i, chain := range sig {
		if len(chain) != HashSize {
			return [HashSize]byte{}, ErrBadSignatureShape
		}
		pub[i] = chainHash(chain, WinternitzW-1-digits[i])
	}
	return hashChains(pub), nil
}

// VerifyAuthPath walks an authentication path from a leaf hash to a root
// and reports whether they match.
func VerifyAuthPath(leaf [HashSize]byte, leafIndex uint32, path AuthPath, root [HashSize]byte) bool {
	computed := leaf
	idx := leafIndex
	for _, sibling := range path {
		if idx&1 == 0 {
			computed = hashNodes(computed, sibling)
		} else {
			computed = hashNodes(sibling, computed)
		}
		idx >>= 1
	}
	return computed == root
}

// leafSeed derives the per-leaf chain seed from the tree seed.
func leafSeed(seed []byte, leafIndex uint32) [HashSize]byte {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], leafIndex)
	h := sha3.New256()
	h.Write(seed)
	h.Write(idx[:])
	var out [HashSize]byte
	h.Sum(out[:0])
	return out
}

// deriveLeafChains expands a leaf seed into OTSChains private chain heads.
func deriveLeafChains(seed []byte, leafIndex uint32) [][]byte {
	ls := leafSeed(seed, leafIndex)
	return chainsFromLeafSecret(ls[:])
}

func chainsFromLeafSecret(ls []byte) [][]byte {
	chains := make([][]byte, OTSChains)
	for i := 0; i < OTSChains; i++ {
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		h := sha3.New256()
		h.Write(ls)
		h.Write(idx[:])
		chains[i] = h.Sum(nil)
	}
	return chains
}

// otsPublicFromChains walks every private chain to its end.
func otsPublicFromChains(chains [][]byte) [][]byte {
	pub := make([][]byte, len(chains))
	for i, chain := range chains {
		pub[i] = chainHash(chain, WinternitzW-1)
	}
	return pub
}

// chainHash applies the chain function n times.
func chainHash(start []byte, n int) []byte {
	val := make([]byte, len(start))
	copy(val, start)
	for j := 0; j < n; j++ {
		d := sha3.Sum256(val)
		val = d[:]
	}
	return val
}

// hashChains compresses a full set of chain values into one node hash.
func hashChains(chains [][]byte) [HashSize]byte {
	h := sha3.New256()
	for _, c := range chains {
		h.Write(c)
	}
	var out [HashSize]byte
	h.Sum(out[:0])
	return out
}

func hashNodes(left, right [HashSize]byte) [HashSize]byte {
	h := sha3.New256()
	h.Write(left[:])
	h.Write(right[:])
	var out [HashSize]byte
	h.Sum(out[:0])
	return out
}

// messageDigits converts a digest into 64 base-16 message digits plus 3
// checksum digits, one per OTS chain.
func messageDigits(digest [HashSize]byte) []int {
	digits := make([]int, 0, OTSChains)
	for _, b := range digest {
		digits = append(digits, int(b>>4), int(b&0x0f))
	}

	checksum := 0
	for _, d := range digits {
		checksum += (WinternitzW - 1) - d
	}
	for i := 0; i < OTSChains-2*HashSize; i++ {
		digits = append(digits, checksum%WinternitzW)
		checksum /= WinternitzW
	}
	return digits
}
