package trinary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrytesTritsRoundTrip(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		for _, tr := range []Trytes{"9", "A", "Z", "RAAM", "999", "ZZZZZ"} {
			trits, err := TrytesToTrits(tr)
			require.NoError(t, err)
			back, err := TritsToTrytes(trits)
			require.NoError(t, err)
			require.EqualValues(t, tr, back)
		}
	})

	t.Run("rejects invalid tryte", func(t *testing.T) {
		_, err := TrytesToTrits("A!B")
		require.Error(t, err)
	})

	t.Run("rejects non-multiple-of-three trit count", func(t *testing.T) {
		_, err := TritsToTrytes(Trits{1, 0})
		require.ErrorIs(t, err, ErrNotMultipleOfThree)
	})
}

func TestPadding(t *testing.T) {
	t.Run("pad trits", func(t *testing.T) {
		padded := PadTrits(Trits{1, -1}, 9)
		require.Len(t, padded, 9)
		require.EqualValues(t, Trits{1, -1, 0, 0, 0, 0, 0, 0, 0}, padded)
	})

	t.Run("pad trytes", func(t *testing.T) {
		padded := PadTrytes("AB", 5)
		require.Len(t, padded, 5)
		require.EqualValues(t, "AB999", padded)
	})

	t.Run("already aligned is unchanged", func(t *testing.T) {
		require.EqualValues(t, Trytes("ABC"), PadTrytes("ABC", 3))
	})
}

func TestAddSubTritsAreInverse(t *testing.T) {
	t.Run("sub undoes add", func(t *testing.T) {
		a := Trits{1, -1, 0, 1, -1}
		b := Trits{-1, 1, 1, 0, -1}
		sum := AddTrits(a, b)
		require.EqualValues(t, a, SubTrits(sum, b))
	})
}

func TestIntTritsRoundTrip(t *testing.T) {
	t.Run("round trip small integers", func(t *testing.T) {
		for _, n := range []int64{0, 1, -1, 13, -13, 1000, -1000} {
			trits := IntToTrits(n, 16)
			require.EqualValues(t, n, TritsToInt(trits))
		}
	})
}

func TestIntTrytesRoundTrip(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		for _, n := range []uint64{0, 1, 26, 27, 1000, 19682} {
			tr, err := IntToTrytes(n, 4)
			require.NoError(t, err)
			back, err := TrytesToInt(tr)
			require.NoError(t, err)
			require.EqualValues(t, n, back)
		}
	})

	t.Run("overflow rejected", func(t *testing.T) {
		_, err := IntToTrytes(27, 1)
		require.Error(t, err)
	})
}

func TestTryteGroupValue(t *testing.T) {
	t.Run("every tryte round trips through its group value", func(t *testing.T) {
		for _, c := range TryteAlphabet {
			trits, err := tryteToTrits(byte(c))
			require.NoError(t, err)
			v, err := TryteGroupValue(trits)
			require.NoError(t, err)
			back, err := tritsToTryte(trits)
			require.NoError(t, err)
			require.EqualValues(t, byte(c), back)
			require.True(t, v >= -13 && v <= 13)
		}
	})
}

func TestAddTritsCarry(t *testing.T) {
	t.Run("matches plain integer addition", func(t *testing.T) {
		a := IntToTrits(100, 10)
		b := IntToTrits(23, 10)
		sum := AddTritsCarry(a, b)
		require.EqualValues(t, int64(123), TritsToInt(sum))
	})
}
