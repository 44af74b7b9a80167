// Package puf provides a software simulation of a Physical Unclonable
// Function for development and testing. The simulated device derives its
// responses from a fixed per-device secret table, the way real silicon
// derives them from manufacturing variation, and flips response bits at a
// configurable rate to model environmental noise.
package puf

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	mrand "math/rand"
	"sync"

	"github.com/shafiqahmeddev/lqap-project/crypto"
)

const (
	// SecretTableSize is the size of the per-device secret table standing
	// in for physical device characteristics.
	SecretTableSize = 1024

	// ResponseBits is the simulated response width.
	ResponseBits = 128
)

// Device is a simulated PUF. It satisfies the protocol's oracle contract:
// the same challenge reproduces the same response up to noise, and two
// devices never share a response mapping.
type Device struct {
	id          string
	secret      [SecretTableSize]byte
	noiseFactor float64

	mu  sync.Mutex
	rng *mrand.Rand
}

// NewDevice creates a device with a random secret table. noiseFactor is
// the per-bit flip probability in [0,1).
func NewDevice(id string, noiseFactor float64) (*Device, error) {
	if noiseFactor < 0 || noiseFactor >= 1 {
		return nil, fmt.Errorf("noise factor %f out of range", noiseFactor)
	}
	d := &Device{
		id:          id,
		noiseFactor: noiseFactor,
		rng:         mrand.New(mrand.NewSource(mrand.Int63())),
	}
	if _, err := rand.Read(d.secret[:]); err != nil {
		return nil, fmt.Errorf("generating device secret: %w", err)
	}
	return d, nil
}

// NewDeterministicDevice creates a device whose secret table and noise
// stream derive from a seed. Two devices with the same seed are clones;
// used in tests and demos only.
func NewDeterministicDevice(id string, seed int64, noiseFactor float64) *Device {
	d := &Device{
		id:          id,
		noiseFactor: noiseFactor,
		rng:         mrand.New(mrand.NewSource(seed)),
	}
	fill := mrand.New(mrand.NewSource(seed))
	for i := range d.secret {
		d.secret[i] = byte(fill.Intn(256))
	}
	return d
}

// ID returns the device identifier.
func (d *Device) ID() string {
	return d.id
}

// tableIndices derives secret-table cell indices from a challenge hash,
// two hash bytes per index so every cell of the table is reachable.
func tableIndices(digest [sha256.Size]byte) []int {
	indices := make([]int, 0, sha256.Size/2)
	for i := 0; i < sha256.Size; i += 2 {
		idx := (int(digest[i])<<8 | int(digest[i+1])) % SecretTableSize
		indices = append(indices, idx)
	}
	return indices
}

// Respond produces the device's response to a challenge. The challenge
// hash indexes the secret table, the selected cells hash down to the
// response, then noise flips each bit with the configured probability.
func (d *Device) Respond(challenge crypto.BitVector) (crypto.BitVector, error) {
	if len(challenge) == 0 {
		return nil, fmt.Errorf("empty challenge")
	}

	index := sha256.Sum256(challenge)
	cells := make([]byte, 0, sha256.Size/2)
	for _, idx := range tableIndices(index) {
		cells = append(cells, d.secret[idx])
	}

	digest := sha256.Sum256(cells)
	response := crypto.BitVector(digest[:ResponseBits/8])

	if d.noiseFactor > 0 {
		d.mu.Lock()
		for bit := 0; bit < ResponseBits; bit++ {
			if d.rng.Float64() < d.noiseFactor {
				response[bit/8] ^= 1 << (7 - bit%8)
			}
		}
		d.mu.Unlock()
	}
	return response, nil
}
