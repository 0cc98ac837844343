// Package ots implements RAAM's one-time signature scheme: a
// Winternitz-style hash chain over balanced ternary, parameterized by
// a security level s in {1,2,3,4}. Grounded on
// Subseed/Key/Digests/SignatureFragment/Digest/NormalizedBundleHash in
// the teacher's signing package, generalized from the teacher's fixed
// "sign a bundle hash, security 1-3" shape to "sign an arbitrary
// message digest, security 1-4."
package ots

import (
	"github.com/pkg/errors"

	"github.com/iotaledger/raam.go/curl"
	"github.com/iotaledger/raam.go/trinary"
)

// FragTrits is the trit width of one key fragment: 27 segments of 243
// trits each, matching spec.md's FRAG = 27*243.
const FragTrits = 27 * curl.HashSize

// SegmentsPerFragment is the number of 243-trit hash-chain segments in
// one security-level fragment.
const SegmentsPerFragment = 27

// ChainLength is the number of sponge rounds separating the bottom and
// top of one Winternitz hash chain (0..26, d_i in [-13,12] after
// normalization maps onto 1..26 sign rounds / 0..25 verify rounds).
const ChainLength = 26

var (
	// ErrInvalidSecurity is returned when a security level outside
	// {1,2,3,4} is supplied.
	ErrInvalidSecurity = errors.New("ots: security level must be in {1,2,3,4}")
	// ErrVerificationFailed is returned by Verify when the
	// reconstructed public digest does not match the claimed
	// verifying key.
	ErrVerificationFailed = errors.New("ots: signature verification failed")
)

// ValidSecurity reports whether s is a supported security level.
func ValidSecurity(s uint8) bool {
	return s >= 1 && s <= 4
}

// Subseed derives the 243-trit subseed for leaf index from a 243-trit
// seed, by adding index (as a balanced-ternary integer) onto the seed
// and hashing. This generalizes the teacher's index-many repeated
// IncTrits calls into a single carry-add with the same result.
func Subseed(seed trinary.Trits, index uint64) (trinary.Trits, error) {
	if len(seed) != curl.HashSize {
		return nil, errors.Errorf("ots: seed must be %d trits, got %d", curl.HashSize, len(seed))
	}
	idx := trinary.IntToTrits(int64(index), curl.HashSize)
	sum := trinary.AddTritsCarry(seed, idx)
	return curl.Sum(sum[:curl.HashSize], curl.HashSize)
}

// Key expands a 243-trit subseed into a private key of
// security*FragTrits trits via iterated sponge squeezing.
func Key(subseed trinary.Trits, security uint8) (trinary.Trits, error) {
	if !ValidSecurity(security) {
		return nil, ErrInvalidSecurity
	}
	sponge := curl.NewSponge()
	if err := sponge.Absorb(subseed); err != nil {
		return nil, err
	}
	n := int(security) * SegmentsPerFragment
	key := make(trinary.Trits, n*curl.HashSize)
	for i := 0; i < n; i++ {
		slot, err := sponge.Squeeze(curl.HashSize)
		if err != nil {
			return nil, err
		}
		copy(key[i*curl.HashSize:], slot)
	}
	return key, nil
}

// hashChain applies H to slot rounds times in succession, resetting
// between rounds the way the teacher's SignatureFragment/Digest loops
// reset a fresh kerl instance per iteration.
func hashChain(slot trinary.Trits, rounds int) (trinary.Trits, error) {
	cur := slot
	for i := 0; i < rounds; i++ {
		next, err := curl.Sum(cur, curl.HashSize)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	out := make(trinary.Trits, len(cur))
	copy(out, cur)
	return out, nil
}

// compress absorbs all slots of a (security*27)*243-trit value in one
// pass and squeezes security*243 trits — the "public digest" operation
// shared by PublicKey and Verify.
func compress(slots trinary.Trits, security uint8) (trinary.Trits, error) {
	return curl.Sum(slots, int(security)*curl.HashSize)
}

// PublicKey computes the verifying key for a private key: every
// 243-trit slot is hashed ChainLength times, then all slots are
// absorbed together and squeezed down to security*243 trits.
func PublicKey(key trinary.Trits, security uint8) (trinary.Trits, error) {
	if !ValidSecurity(security) {
		return nil, ErrInvalidSecurity
	}
	n := int(security) * SegmentsPerFragment
	if len(key) != n*curl.HashSize {
		return nil, errors.Errorf("ots: key must be %d trits for security %d, got %d", n*curl.HashSize, security, len(key))
	}
	hashed := make(trinary.Trits, n*curl.HashSize)
	for i := 0; i < n; i++ {
		slot := key[i*curl.HashSize : (i+1)*curl.HashSize]
		h, err := hashChain(slot, ChainLength)
		if err != nil {
			return nil, err
		}
		copy(hashed[i*curl.HashSize:], h)
	}
	return compress(hashed, security)
}

// digestBytesNeeded returns the trit width that must be squeezed from
// the message sponge to obtain security*27 digest bytes (one tryte —
// 3 trits — per byte), rounded up to the sponge's 243-trit squeeze
// granularity. spec.md §4.2 writes this as
// "d = ceil(s*27/243)*243"; taken literally that formula always yields
// 243 trits (81 tryte values), which is too few at security 4 (108
// trytes need 324 trits), so this resolves that ambiguity by
// rounding the actual trit requirement (security*27 trytes =
// security*81 trits) up to the 243-trit granularity instead — see
// DESIGN.md.
func digestBytesNeeded(security uint8) int {
	need := int(security) * SegmentsPerFragment * trinary.TritsPerTryte
	rem := need % curl.HashSize
	if rem == 0 {
		return need
	}
	return need + (curl.HashSize - rem)
}

// NormalizedDigest packs message, squeezes security*27 [-13,13]-valued
// digest bytes, clamps any 13 to 12 (removing the value whose
// hash-chain cost would be 0 on sign but 26 on verify — asymmetric and
// exploitable), then balances the digest so its bytes sum to zero,
// exactly mirroring the iterative correction in the teacher's
// NormalizedBundleHash.
func NormalizedDigest(message trinary.Trits, security uint8) ([]int8, error) {
	if !ValidSecurity(security) {
		return nil, ErrInvalidSecurity
	}
	padded := trinary.PadTrits(message, curl.HashSize)
	sponge := curl.NewSponge()
	if err := sponge.Absorb(padded); err != nil {
		return nil, err
	}
	d := digestBytesNeeded(security)
	squeezed, err := sponge.Squeeze(d)
	if err != nil {
		return nil, err
	}

	n := int(security) * SegmentsPerFragment
	digest := make([]int8, n)
	var sum int
	for i := 0; i < n; i++ {
		v, err := trinary.TryteGroupValue(squeezed[i*3 : i*3+3])
		if err != nil {
			return nil, err
		}
		if v == 13 {
			v = 12
		}
		digest[i] = v
		sum += int(v)
	}

	for sum > 0 {
		advanced := false
		for i := 0; i < n; i++ {
			if digest[i] > -13 {
				digest[i]--
				sum--
				advanced = true
				break
			}
		}
		if !advanced {
			break
		}
	}
	for sum < 0 {
		advanced := false
		for i := 0; i < n; i++ {
			if digest[i] < 12 {
				digest[i]++
				sum++
				advanced = true
				break
			}
		}
		if !advanced {
			break
		}
	}
	return digest, nil
}

// Sign produces a signature of security*FragTrits trits: the i-th
// private-key slot is hashed (13 - digest[i]) times.
func Sign(key trinary.Trits, digest []int8, security uint8) (trinary.Trits, error) {
	n := int(security) * SegmentsPerFragment
	if len(digest) != n {
		return nil, errors.Errorf("ots: digest must have %d bytes for security %d, got %d", n, security, len(digest))
	}
	if len(key) != n*curl.HashSize {
		return nil, errors.Errorf("ots: key must be %d trits for security %d, got %d", n*curl.HashSize, security, len(key))
	}
	sig := make(trinary.Trits, n*curl.HashSize)
	for i := 0; i < n; i++ {
		slot := key[i*curl.HashSize : (i+1)*curl.HashSize]
		rounds := int(13 - digest[i])
		h, err := hashChain(slot, rounds)
		if err != nil {
			return nil, err
		}
		copy(sig[i*curl.HashSize:], h)
	}
	return sig, nil
}

// Verify checks sig against digest and the claimed verifying key v.
// Each signature slot is advanced (digest[i]+13) further rounds; the
// resulting slots are compressed the same way PublicKey compresses a
// private key, and compared to v.
func Verify(sig trinary.Trits, digest []int8, v trinary.Trits, security uint8) error {
	n := int(security) * SegmentsPerFragment
	if len(digest) != n {
		return errors.Errorf("ots: digest must have %d bytes for security %d, got %d", n, security, len(digest))
	}
	if len(sig) != n*curl.HashSize {
		return errors.Errorf("ots: signature must be %d trits for security %d, got %d", n*curl.HashSize, security, len(sig))
	}
	advanced := make(trinary.Trits, n*curl.HashSize)
	for i := 0; i < n; i++ {
		slot := sig[i*curl.HashSize : (i+1)*curl.HashSize]
		rounds := int(digest[i] + 13)
		h, err := hashChain(slot, rounds)
		if err != nil {
			return err
		}
		copy(advanced[i*curl.HashSize:], h)
	}
	got, err := compress(advanced, security)
	if err != nil {
		return err
	}
	if len(got) != len(v) {
		return ErrVerificationFailed
	}
	for i := range got {
		if got[i] != v[i] {
			return ErrVerificationFailed
		}
	}
	return nil
}
