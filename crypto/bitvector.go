package crypto

import (
	"crypto/rand"
	"errors"
	"math/bits"
)

// BitVector holds a packed bit string, most significant bit first within
// each byte. PUF challenges and responses are bit vectors.
type BitVector []byte

// ErrLengthMismatch is returned when two bit vectors of different lengths
// are combined.
var ErrLengthMismatch = errors.New("crypto: bit vector length mismatch")

// NewBitVector allocates a zeroed vector holding nbits.
func NewBitVector(nbits int) BitVector {
	return make(BitVector, (nbits+7)/8)
}

// RandomBits returns a uniformly random vector of nbits.
func RandomBits(nbits int) (BitVector, error) {
	v := NewBitVector(nbits)
	if _, err := rand.Read(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Bit returns bit i.
func (v BitVector) Bit(i int) int {
	return int(v[i/8]>>(7-uint(i%8))) & 1
}

// SetBit sets bit i to one.
func (v BitVector) SetBit(i int) {
	v[i/8] |= 1 << (7 - uint(i%8))
}

// Len returns the number of bits.
func (v BitVector) Len() int {
	return len(v) * 8
}

// Clone returns an independent copy.
func (v BitVector) Clone() BitVector {
	c := make(BitVector, len(v))
	copy(c, v)
	return c
}

// OnesCount returns the number of set bits.
func (v BitVector) OnesCount() int {
	n := 0
	for _, b := range v {
		n += bits.OnesCount8(b)
	}
	return n
}

// And returns the bitwise intersection of v and mask.
func (v BitVector) And(mask BitVector) (BitVector, error) {
	if len(v) != len(mask) {
		return nil, ErrLengthMismatch
	}
	out := make(BitVector, len(v))
	for i := range v {
		out[i] = v[i] & mask[i]
	}
	return out, nil
}

// HammingDistance counts differing bits between two equal-length vectors.
func HammingDistance(a, b BitVector) (int, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d, nil
}

// MajorityVote reconciles repeated noisy samples of the same response into
// a reference vector and a stability mask. A reference bit is the majority
// value across samples; a mask bit is set only where every sample agreed.
// The mask is the enrollment helper data: verification compares responses
// only on stable positions.
func MajorityVote(samples []BitVector) (reference, mask BitVector, err error) {
	if len(samples) == 0 {
		return nil, nil, errors.New("crypto: no samples")
	}
	nbytes := len(samples[0])
	for _, s := range samples[1:] {
		if len(s) != nbytes {
			return nil, nil, ErrLengthMismatch
		}
	}

	nbits := nbytes * 8
	reference = NewBitVector(nbits)
	mask = NewBitVector(nbits)

	for i := 0; i < nbits; i++ {
		ones := 0
		for _, s := range samples {
			ones += s.Bit(i)
		}
		if 2*ones > len(samples) {
			reference.SetBit(i)
		}
		if ones == 0 || ones == len(samples) {
			mask.SetBit(i)
		}
	}
	return reference, mask, nil
}
