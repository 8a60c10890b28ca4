package streamid

import "github.com/lrtsys/streamrouter/internal/constants"

// Hash computes the deterministic 54-bit bloom digest of s. It inserts s
// once into a 54-bit-wide bloom filter using 38 independent hash functions
// (MurmurHash64A seeded 0..37), then treats the resulting bitmap as the
// 54-bit digest directly — the filter's width and the digest's width are
// both 54 bits, so "extract the first up to 54 set bits" degenerates to
// returning the bitmap unchanged.
//
// Collisions across different strings are intentional: the router
// tolerates occasional false-positive matches in exchange for a fixed-size
// key. A hash of zero is reserved and reported as ErrReservedHash — the
// caller (Generate) returns it wrapped with the field name, so
// errors.Is(err, ErrReservedHash) still holds.
func Hash(s string) (uint64, error) {
	data := []byte(s)

	var bitmap uint64
	for seed := uint64(0); seed < constants.NumHashFunctions; seed++ {
		idx := murmurHash64A(data, seed) % constants.HashNumberBits
		bitmap |= uint64(1) << idx
	}

	if bitmap == 0 {
		return 0, ErrReservedHash
	}
	return bitmap, nil
}
