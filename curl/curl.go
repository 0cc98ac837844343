// Package curl implements H, the fixed sponge hash used throughout
// RAAM: a 243-trit-rate, 243-trit-capacity sponge exposing
// Init/Absorb/Squeeze/Reset, in the shape the teacher calls through
// kerl.NewKerl()/Absorb/Squeeze/Reset in its signing package. The
// transform itself is grounded on giota's Kerl (require
// golang.org/x/crypto, replaced to github.com/luca-moser/crypto for
// its Keccak-384 implementation): Kerl wraps a real Keccak-384 sponge,
// converting each 243-trit block to and from 48 bytes via balanced
// ternary, and chaining successive squeezes by bit-flipping the
// previous digest back in as the next absorb. This package follows
// the same shape using golang.org/x/crypto/sha3 directly; it is not
// byte-compatible with production Curl/Kerl (the trit/byte conversion
// doesn't reproduce Kerl's non-canonical-value rejection), but it is a
// real Keccak-384 sponge end to end, not an invented permutation.
package curl

import (
	"hash"
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// HashSize is the width, in trits, of the sponge's rate, capacity, and
// therefore every digest it produces.
const HashSize = 243

// byteWidth is the width, in bytes, of one Keccak-384 digest (384
// bits), the unit HashSize trits are converted to and from.
const byteWidth = 48

// ErrAbsorbAfterSqueeze is returned by Absorb once Squeeze has been
// called, until Reset is invoked.
var ErrAbsorbAfterSqueeze = errors.New("curl: absorb called after squeeze without reset")

// Sponge is H: a fixed-width ternary sponge backed by Keccak-384.
type Sponge struct {
	h        hash.Hash
	squeezed bool
}

// NewSponge returns a freshly initialized sponge.
func NewSponge() *Sponge {
	return &Sponge{h: sha3.NewLegacyKeccak384()}
}

// Reset clears the internal Keccak state and the squeezed flag,
// permitting further Absorb calls.
func (s *Sponge) Reset() {
	s.h.Reset()
	s.squeezed = false
}

// Absorb folds trits into the sponge HashSize trits at a time. Each
// block is converted to byteWidth bytes and written into the running
// Keccak-384 state, the same conversion Kerl performs before its
// absorb. len(trits) must be a multiple of HashSize (callers pad via
// trinary.PadTrits first).
func (s *Sponge) Absorb(trits []int8) error {
	if s.squeezed {
		return ErrAbsorbAfterSqueeze
	}
	if len(trits)%HashSize != 0 {
		return errors.New("curl: absorb length must be a multiple of HashSize")
	}
	for off := 0; off < len(trits); off += HashSize {
		if _, err := s.h.Write(tritsToBytes(trits[off : off+HashSize])); err != nil {
			return errors.Wrap(err, "curl: absorb")
		}
	}
	return nil
}

// Squeeze extracts length trits from the sponge. Keccak-384's hash.Hash
// only yields one 48-byte digest per Sum call, so successive blocks are
// produced the way Kerl chains them: each digest's bytes are bit-flipped
// and re-absorbed as the seed for the next digest. length must be a
// multiple of HashSize.
func (s *Sponge) Squeeze(length int) ([]int8, error) {
	if length%HashSize != 0 {
		return nil, errors.New("curl: squeeze length must be a multiple of HashSize")
	}
	out := make([]int8, 0, length)
	for len(out) < length {
		sum := s.h.Sum(nil)
		out = append(out, bytesToTrits(sum)...)

		flipped := make([]byte, len(sum))
		for i, b := range sum {
			flipped[i] = ^b
		}
		s.h.Reset()
		if _, err := s.h.Write(flipped); err != nil {
			return nil, errors.Wrap(err, "curl: squeeze")
		}
		s.squeezed = true
	}
	return out[:length], nil
}

// Sum absorbs all of trits (a single call, already padded to a
// multiple of HashSize) into a fresh sponge and squeezes length trits.
// Convenience wrapper for the common "hash this and only this" case
// used throughout packages ots, merkle, and codec.
func Sum(trits []int8, length int) ([]int8, error) {
	s := NewSponge()
	if err := s.Absorb(trits); err != nil {
		return nil, err
	}
	return s.Squeeze(length)
}

var three = big.NewInt(3)

// tritsToBytes encodes exactly HashSize balanced trits as a signed
// byteWidth-byte big-endian two's complement integer, the same
// balanced-ternary-to-bytes conversion Kerl applies before Writing a
// block into its Keccak state.
func tritsToBytes(trits []int8) []byte {
	n := new(big.Int)
	pow := new(big.Int).SetInt64(1)
	for _, t := range trits {
		if t != 0 {
			n.Add(n, new(big.Int).Mul(pow, big.NewInt(int64(t))))
		}
		pow.Mul(pow, three)
	}

	mod := new(big.Int).Lsh(big.NewInt(1), byteWidth*8)
	n.Mod(n, mod)
	b := n.Bytes()
	out := make([]byte, byteWidth)
	copy(out[byteWidth-len(b):], b)
	return out
}

// bytesToTrits is tritsToBytes's inverse direction applied to arbitrary
// digest bytes: it interprets b as a signed byteWidth-byte two's
// complement integer and decomposes it into HashSize balanced trits,
// least-significant first, the same way Kerl recovers trits from a
// Keccak-384 digest.
func bytesToTrits(b []byte) []int8 {
	n := new(big.Int).SetBytes(b)
	top := new(big.Int).Lsh(big.NewInt(1), byteWidth*8-1)
	if n.Cmp(top) >= 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), byteWidth*8)
		n.Sub(n, mod)
	}

	out := make([]int8, HashSize)
	q, r := new(big.Int), new(big.Int)
	for i := 0; i < HashSize; i++ {
		q.DivMod(n, three, r)
		rv := r.Int64()
		if rv > 1 {
			rv -= 3
			q.Add(q, big.NewInt(1))
		}
		out[i] = int8(rv)
		n.Set(q)
	}
	return out
}
