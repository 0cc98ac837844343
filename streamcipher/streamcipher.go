// Package streamcipher implements the keyed absorb/squeeze stream
// cipher used to mask a message codec payload (spec.md §4.4): a sponge
// is initialized once from a key (and optional salt), then encrypts or
// decrypts 81-tryte (243-trit) chunks left to right, squeezing a fresh
// mask per chunk without ever resetting between chunks.
package streamcipher

import (
	"github.com/pkg/errors"

	"github.com/iotaledger/raam.go/curl"
	"github.com/iotaledger/raam.go/trinary"
)

// ChunkTrits is the width of one mask-and-fold chunk: 81 trytes.
const ChunkTrits = 81 * trinary.TritsPerTryte // 243

// ErrNotChunkAligned is returned when Encrypt/Decrypt is given a trit
// slice whose length isn't a multiple of ChunkTrits.
var ErrNotChunkAligned = errors.New("streamcipher: input length must be a multiple of 243 trits")

// Cipher is a stateful, single-direction-agnostic mask generator: the
// same Cipher value can Encrypt or Decrypt, since folding is its own
// inverse once the mask is known, but a given Cipher must be used for
// exactly one contiguous left-to-right pass (matching spec.md's "the
// sponge is never reset between chunks").
type Cipher struct {
	sponge *curl.Sponge
}

// New initializes a Cipher from a key and optional salt, each padded
// to curl.HashSize trits before absorption.
func New(key trinary.Trits, salt trinary.Trits) (*Cipher, error) {
	padded := trinary.PadTrits(key, curl.HashSize)
	combined := make(trinary.Trits, 0, len(padded)+curl.HashSize)
	combined = append(combined, padded...)
	if len(salt) > 0 {
		combined = append(combined, trinary.PadTrits(salt, curl.HashSize)...)
	}
	sponge := curl.NewSponge()
	if err := sponge.Absorb(combined); err != nil {
		return nil, err
	}
	return &Cipher{sponge: sponge}, nil
}

func (c *Cipher) fold(trits trinary.Trits, negateMask bool) (trinary.Trits, error) {
	if len(trits)%ChunkTrits != 0 {
		return nil, ErrNotChunkAligned
	}
	out := make(trinary.Trits, len(trits))
	for off := 0; off < len(trits); off += ChunkTrits {
		mask, err := c.sponge.Squeeze(ChunkTrits)
		if err != nil {
			return nil, err
		}
		for i := 0; i < ChunkTrits; i++ {
			m := trinary.Trit(mask[i])
			if negateMask {
				m = -m
			}
			out[off+i] = int8(trinary.TritSum(trinary.Trit(trits[off+i]), m))
		}
	}
	return out, nil
}

// Encrypt folds mask onto trits chunk by chunk.
func (c *Cipher) Encrypt(trits trinary.Trits) (trinary.Trits, error) {
	return c.fold(trits, false)
}

// Decrypt unfolds mask from trits chunk by chunk; it is the exact
// inverse of Encrypt given a Cipher initialized from the same key and
// salt and used from the start of the same stream.
func (c *Cipher) Decrypt(trits trinary.Trits) (trinary.Trits, error) {
	return c.fold(trits, true)
}
