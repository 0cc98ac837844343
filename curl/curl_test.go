package curl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func zeros(n int) []int8 {
	return make([]int8, n)
}

func TestSumDeterministic(t *testing.T) {
	t.Run("same input yields same output", func(t *testing.T) {
		in := zeros(HashSize)
		in[0] = 1
		a, err := Sum(in, HashSize)
		require.NoError(t, err)
		b, err := Sum(in, HashSize)
		require.NoError(t, err)
		require.EqualValues(t, a, b)
	})

	t.Run("different input yields different output", func(t *testing.T) {
		a, err := Sum(zeros(HashSize), HashSize)
		require.NoError(t, err)
		in := zeros(HashSize)
		in[0] = 1
		b, err := Sum(in, HashSize)
		require.NoError(t, err)
		require.NotEqualValues(t, a, b)
	})
}

func TestAbsorbAfterSqueezeRequiresReset(t *testing.T) {
	t.Run("absorb after squeeze fails without reset", func(t *testing.T) {
		s := NewSponge()
		require.NoError(t, s.Absorb(zeros(HashSize)))
		_, err := s.Squeeze(HashSize)
		require.NoError(t, err)
		err = s.Absorb(zeros(HashSize))
		require.ErrorIs(t, err, ErrAbsorbAfterSqueeze)
	})

	t.Run("reset permits absorb again", func(t *testing.T) {
		s := NewSponge()
		require.NoError(t, s.Absorb(zeros(HashSize)))
		_, err := s.Squeeze(HashSize)
		require.NoError(t, err)
		s.Reset()
		require.NoError(t, s.Absorb(zeros(HashSize)))
	})
}

func TestSqueezeMultiBlock(t *testing.T) {
	t.Run("successive blocks differ", func(t *testing.T) {
		s := NewSponge()
		require.NoError(t, s.Absorb(zeros(HashSize)))
		out, err := s.Squeeze(HashSize * 2)
		require.NoError(t, err)
		require.NotEqualValues(t, out[:HashSize], out[HashSize:])
	})
}

func TestLengthValidation(t *testing.T) {
	t.Run("absorb rejects misaligned length", func(t *testing.T) {
		s := NewSponge()
		require.Error(t, s.Absorb(zeros(HashSize-1)))
	})

	t.Run("squeeze rejects misaligned length", func(t *testing.T) {
		s := NewSponge()
		require.NoError(t, s.Absorb(zeros(HashSize)))
		_, err := s.Squeeze(HashSize - 1)
		require.Error(t, err)
	})
}
