// Package trinary implements balanced-ternary arithmetic and the
// trit/tryte encodings used throughout RAAM: balanced trits in
// {-1,0,1}, grouped in threes into trytes drawn from the 27-symbol
// alphabet "9ABCDEFGHIJKLMNOPQRSTUVWXYZ" ('9' == 0).
package trinary

import (
	"strings"

	"github.com/pkg/errors"
)

// TritHashLength is the width, in trits, of one "gram" of hash output
// or key material: 243 = 3^5, the native rate/capacity of the sponge
// in package curl.
const TritHashLength = 243

// TryteAlphabet is the canonical 27-symbol tryte alphabet. The index of
// a character is its unsigned value; values above 13 represent the
// negative half of the balanced range [-13,13].
const TryteAlphabet = "9ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// TritsPerTryte is the number of balanced trits represented by a
// single tryte character.
const TritsPerTryte = 3

// Trit is a single balanced ternary digit.
type Trit int8

// Trits is a sequence of balanced ternary digits, least-significant
// first where an integer interpretation is meaningful.
type Trits []int8

// Tryte is a single character of TryteAlphabet.
type Tryte = byte

// Trytes is a string drawn from TryteAlphabet.
type Trytes string

var (
	// ErrInvalidTrit is returned when a value outside {-1,0,1} is used
	// where a trit is expected.
	ErrInvalidTrit = errors.New("trinary: invalid trit value")
	// ErrInvalidTryte is returned when a byte outside TryteAlphabet is
	// used where a tryte is expected.
	ErrInvalidTryte = errors.New("trinary: invalid tryte character")
	// ErrLengthMismatch is returned by operations that require two
	// trit slices of identical length.
	ErrLengthMismatch = errors.New("trinary: trit slices have mismatched length")
	// ErrNotMultipleOfThree is returned when converting trits to
	// trytes if the trit count isn't a multiple of TritsPerTryte.
	ErrNotMultipleOfThree = errors.New("trinary: trit length is not a multiple of 3")
)

var tryteValue [256]int16

func init() {
	for i := range tryteValue {
		tryteValue[i] = -1000
	}
	for i := 0; i < len(TryteAlphabet); i++ {
		v := i
		if v > 13 {
			v -= 27
		}
		tryteValue[TryteAlphabet[i]] = int16(v)
	}
}

// ValidTrit reports whether t is a valid balanced trit.
func ValidTrit(t Trit) bool {
	return t >= -1 && t <= 1
}

// ValidTrits reports an error if any element of trits is not a valid
// balanced trit.
func ValidTrits(trits Trits) error {
	for _, t := range trits {
		if !ValidTrit(Trit(t)) {
			return ErrInvalidTrit
		}
	}
	return nil
}

// ValidTrytes reports an error if any character of t is outside
// TryteAlphabet.
func ValidTrytes(t Trytes) error {
	for i := 0; i < len(t); i++ {
		if tryteValue[t[i]] == -1000 {
			return errors.Wrapf(ErrInvalidTryte, "at position %d", i)
		}
	}
	return nil
}

// tryteToTrits decodes a single tryte character into its three
// balanced trits, least-significant first.
func tryteToTrits(c byte) (Trits, error) {
	v := tryteValue[c]
	if v == -1000 {
		return nil, ErrInvalidTryte
	}
	out := make(Trits, TritsPerTryte)
	n := int(v)
	for i := 0; i < TritsPerTryte; i++ {
		rem := n % 3
		n /= 3
		if rem > 1 {
			rem -= 3
			n++
		} else if rem < -1 {
			rem += 3
			n--
		}
		out[i] = int8(rem)
	}
	return out, nil
}

// tritsToTryte encodes exactly TritsPerTryte balanced trits into one
// tryte character.
func tritsToTryte(trits Trits) (byte, error) {
	if len(trits) != TritsPerTryte {
		return 0, ErrLengthMismatch
	}
	v := int(trits[0]) + int(trits[1])*3 + int(trits[2])*9
	idx := v
	if idx < 0 {
		idx += 27
	}
	return TryteAlphabet[idx], nil
}

// TrytesToTrits decodes a trytes string into its balanced trit
// representation.
func TrytesToTrits(t Trytes) (Trits, error) {
	out := make(Trits, 0, len(t)*TritsPerTryte)
	for i := 0; i < len(t); i++ {
		trits, err := tryteToTrits(t[i])
		if err != nil {
			return nil, errors.Wrapf(err, "at tryte %d", i)
		}
		out = append(out, trits...)
	}
	return out, nil
}

// MustTrytesToTrits is TrytesToTrits but panics on error; used where
// the caller already validated the input (mirrors the teacher's
// MustTritsToTrytes convention).
func MustTrytesToTrits(t Trytes) Trits {
	trits, err := TrytesToTrits(t)
	if err != nil {
		panic(err)
	}
	return trits
}

// TritsToTrytes encodes trits into a trytes string. len(trits) must be
// a multiple of TritsPerTryte.
func TritsToTrytes(trits Trits) (Trytes, error) {
	if len(trits)%TritsPerTryte != 0 {
		return "", ErrNotMultipleOfThree
	}
	var b strings.Builder
	b.Grow(len(trits) / TritsPerTryte)
	for i := 0; i < len(trits); i += TritsPerTryte {
		c, err := tritsToTryte(trits[i : i+TritsPerTryte])
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	return Trytes(b.String()), nil
}

// MustTritsToTrytes is TritsToTrytes but panics on error.
func MustTritsToTrytes(trits Trits) Trytes {
	t, err := TritsToTrytes(trits)
	if err != nil {
		panic(err)
	}
	return t
}

// PadTrits pads trits with trailing zero trits up to the next multiple
// of size. If trits is already a multiple of size, it is returned
// unchanged.
func PadTrits(trits Trits, size int) Trits {
	rem := len(trits) % size
	if rem == 0 {
		return trits
	}
	out := make(Trits, len(trits)+size-rem)
	copy(out, trits)
	return out
}

// PadTrytes pads t with trailing '9' (zero) characters up to the next
// multiple of size trytes.
func PadTrytes(t Trytes, size int) Trytes {
	rem := len(t) % size
	if rem == 0 {
		return t
	}
	return t + Trytes(strings.Repeat("9", size-rem))
}

// TritSum folds the sum of two balanced trits, saturating the
// out-of-range cases: 2 folds to -1, -2 folds to +1. This is the
// "trinary sum" operator used by the stream cipher (package
// streamcipher) and by address/key derivation (package codec); it is
// elementwise and carry-free, distinct from integer addition.
func TritSum(a, b Trit) Trit {
	s := a + b
	switch s {
	case 2:
		return -1
	case -2:
		return 1
	default:
		return s
	}
}

// AddTrits adds two trit slices elementwise using TritSum, padding the
// shorter operand with zero trits. The result has the length of the
// longer operand.
func AddTrits(a, b Trits) Trits {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Trits, n)
	for i := 0; i < n; i++ {
		var av, bv int8
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i] = int8(TritSum(Trit(av), Trit(bv)))
	}
	return out
}

// NegTrits negates every trit (valid since -(-1,0,1) stays in range).
func NegTrits(a Trits) Trits {
	out := make(Trits, len(a))
	for i, v := range a {
		out[i] = -v
	}
	return out
}

// SubTrits subtracts b from a elementwise: a + (-b). This is the
// "trit-wise balanced subtraction, not modular" operator spec.md §9
// calls out explicitly for public-mode password derivation.
func SubTrits(a, b Trits) Trits {
	return AddTrits(a, NegTrits(b))
}

// IntToTrits encodes n in balanced ternary, least-significant trit
// first, into exactly size trits (truncating or zero-extending as
// needed). Used to render a message index as trits for addressing and
// subseed derivation.
func IntToTrits(n int64, size int) Trits {
	out := make(Trits, size)
	for i := 0; i < size; i++ {
		if n == 0 {
			break
		}
		rem := n % 3
		n /= 3
		if rem > 1 {
			rem -= 3
			n++
		} else if rem < -1 {
			rem += 3
			n--
		}
		out[i] = int8(rem)
	}
	return out
}

// TritsToInt interprets trits as a balanced-ternary integer,
// least-significant trit first.
func TritsToInt(trits Trits) int64 {
	var n int64
	pow := int64(1)
	for _, t := range trits {
		n += int64(t) * pow
		pow *= 3
	}
	return n
}

// IntToTrytes encodes n as width trytes in a plain radix-27,
// big-endian, unsigned digit encoding — each character's position in
// TryteAlphabet (0..26, not its balanced [-13,13] value) is one digit.
// This is the encoding spec.md §4.1 specifies for header integer
// fields (index, lengths), distinct from the balanced-trit
// decomposition TrytesToTrits uses for hash/signature material.
func IntToTrytes(n uint64, width int) (Trytes, error) {
	digits := make([]byte, width)
	v := n
	for i := width - 1; i >= 0; i-- {
		digits[i] = TryteAlphabet[v%27]
		v /= 27
	}
	if v != 0 {
		return "", errors.Errorf("trinary: value %d does not fit in %d trytes", n, width)
	}
	return Trytes(digits), nil
}

// TrytesToInt decodes a radix-27, big-endian, unsigned digit string
// (see IntToTrytes) back into an integer. Wrap-around on the negative
// half (alphabet positions 14-26, which IntToTrytes never produces on
// its own) is preserved rather than rejected, per spec.md §4.1.
func TrytesToInt(t Trytes) (uint64, error) {
	var n uint64
	for i := 0; i < len(t); i++ {
		idx := strings.IndexByte(TryteAlphabet, t[i])
		if idx < 0 {
			return 0, errors.Wrapf(ErrInvalidTryte, "at position %d", i)
		}
		n = n*27 + uint64(idx)
	}
	return n, nil
}

// TryteGroupValue interprets exactly TritsPerTryte trits as a balanced
// integer in [-13,13], the same decomposition a tryte character
// encodes. Used by package ots to turn squeezed hash output into the
// [-13,13]-valued "digest bytes" of §4.2's message digest
// normalization.
func TryteGroupValue(trits Trits) (int8, error) {
	if len(trits) != TritsPerTryte {
		return 0, ErrLengthMismatch
	}
	return int8(trits[0]) + int8(trits[1])*3 + int8(trits[2])*9, nil
}

// AddTritsCarry performs true balanced-ternary integer addition (with
// carry propagation), least-significant trit first, returning a slice
// long enough to hold the sum without overflow. Used by
// ots.Subseed to add a message index onto a seed's trit representation
// in a single pass instead of the reference implementation's
// index-many repeated increments.
func AddTritsCarry(a, b Trits) Trits {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Trits, n+1)
	var carry int8
	for i := 0; i < n; i++ {
		var av, bv int8
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		s := av + bv + carry
		carry = 0
		for s > 1 {
			s -= 3
			carry++
		}
		for s < -1 {
			s += 3
			carry--
		}
		out[i] = s
	}
	out[n] = carry
	return out
}
