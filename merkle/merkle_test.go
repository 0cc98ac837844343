package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotaledger/raam.go/curl"
	"github.com/iotaledger/raam.go/trinary"
)

func seedFor(marker byte) trinary.Trits {
	b := make([]byte, curl.HashSize/trinary.TritsPerTryte)
	for i := range b {
		b[i] = marker
	}
	trits, err := trinary.TrytesToTrits(trinary.Trytes(b))
	if err != nil {
		panic(err)
	}
	return trits
}

func TestBuildDeterministic(t *testing.T) {
	t.Run("same inputs yield same root and leaf keys", func(t *testing.T) {
		seed := seedFor('R')
		a, err := Build(seed, 3, 1, 0, nil)
		require.NoError(t, err)
		b, err := Build(seed, 3, 1, 0, nil)
		require.NoError(t, err)
		require.EqualValues(t, a.Root(), b.Root())
		for i := range a.Leaves() {
			require.EqualValues(t, a.Leaves()[i].Public, b.Leaves()[i].Public)
			require.EqualValues(t, a.Leaves()[i].Private, b.Leaves()[i].Private)
		}
	})

	t.Run("progress callback timing does not affect the result", func(t *testing.T) {
		seed := seedFor('P')
		var calls int
		a, err := Build(seed, 3, 1, 0, &BuildOptions{OnProgress: func(ProgressReport) { calls++ }})
		require.NoError(t, err)
		b, err := Build(seed, 3, 1, 0, nil)
		require.NoError(t, err)
		require.EqualValues(t, a.Root(), b.Root())
		require.Greater(t, calls, 0)
	})
}

func TestAuthPathSoundness(t *testing.T) {
	for _, height := range []uint8{1, 2, 4} {
		height := height
		t.Run("height", func(t *testing.T) {
			seed := seedFor('H')
			tree, err := Build(seed, height, 1, 0, nil)
			require.NoError(t, err)

			count := uint64(1) << height
			for i := uint64(0); i < count; i++ {
				leaf, err := tree.Leaf(i)
				require.NoError(t, err)
				path, err := tree.AuthPath(i)
				require.NoError(t, err)
				require.Len(t, path, int(height))
				require.NoError(t, VerifyPath(tree.Root(), leaf.Public, i, path, 1))
			}
		})
	}

	t.Run("flipping a path trit breaks verification", func(t *testing.T) {
		seed := seedFor('F')
		tree, err := Build(seed, 2, 1, 0, nil)
		require.NoError(t, err)
		leaf, err := tree.Leaf(0)
		require.NoError(t, err)
		path, err := tree.AuthPath(0)
		require.NoError(t, err)

		tampered := make([]trinary.Trits, len(path))
		for i, p := range path {
			tampered[i] = append(trinary.Trits{}, p...)
		}
		tampered[0][0] = flip(tampered[0][0])
		err = VerifyPath(tree.Root(), leaf.Public, 0, tampered, 1)
		require.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("flipping the leaf key breaks verification", func(t *testing.T) {
		seed := seedFor('K')
		tree, err := Build(seed, 2, 1, 0, nil)
		require.NoError(t, err)
		leaf, err := tree.Leaf(1)
		require.NoError(t, err)
		path, err := tree.AuthPath(1)
		require.NoError(t, err)

		tamperedKey := append(trinary.Trits{}, leaf.Public...)
		tamperedKey[0] = flip(tamperedKey[0])
		err = VerifyPath(tree.Root(), tamperedKey, 1, path, 1)
		require.ErrorIs(t, err, ErrVerificationFailed)
	})
}

func flip(t int8) int8 {
	switch t {
	case -1:
		return 0
	case 0:
		return 1
	default:
		return -1
	}
}

func TestBoundaryHeights(t *testing.T) {
	t.Run("height 1 builds a two-leaf tree", func(t *testing.T) {
		tree, err := Build(seedFor('I'), 1, 1, 0, nil)
		require.NoError(t, err)
		require.Len(t, tree.Leaves(), 2)
	})

	t.Run("height below minimum is rejected", func(t *testing.T) {
		_, err := Build(seedFor('O'), 0, 1, 0, nil)
		require.ErrorIs(t, err, ErrInvalidHeight)
	})

	t.Run("height above maximum is rejected", func(t *testing.T) {
		_, err := Build(seedFor('O'), MaxHeight+1, 1, 0, nil)
		require.ErrorIs(t, err, ErrInvalidHeight)
	})
}

func TestFromPartsRehydration(t *testing.T) {
	t.Run("rehydrated tree verifies the same auth paths", func(t *testing.T) {
		seed := seedFor('X')
		tree, err := Build(seed, 3, 1, 0, nil)
		require.NoError(t, err)

		levels := make([][]Node, int(tree.Height())+1)
		for l := range levels {
			levels[l] = tree.NodesByLevel(uint8(l))
		}
		rehydrated, err := FromParts(tree.Leaves(), levels, tree.Height(), tree.Security())
		require.NoError(t, err)
		require.EqualValues(t, tree.Root(), rehydrated.Root())

		path, err := rehydrated.AuthPath(3)
		require.NoError(t, err)
		leaf, err := rehydrated.Leaf(3)
		require.NoError(t, err)
		require.NoError(t, VerifyPath(rehydrated.Root(), leaf.Public, 3, path, 1))
	})
}
