package keyfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotaledger/raam.go/merkle"
	"github.com/iotaledger/raam.go/trinary"
)

func seedFor(marker byte) trinary.Trits {
	b := make([]byte, 81)
	for i := range b {
		b[i] = marker
	}
	trits, err := trinary.TrytesToTrits(trinary.Trytes(b))
	if err != nil {
		panic(err)
	}
	return trits
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Run("a rehydrated tree has the same root and leaf keys", func(t *testing.T) {
		tree, err := merkle.Build(seedFor('K'), 3, 2, 0, nil)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, tree))
		require.Greater(t, buf.Len(), 0)

		rehydrated, err := Read(&buf, 3, 2)
		require.NoError(t, err)
		require.EqualValues(t, tree.Root(), rehydrated.Root())

		for _, leaf := range tree.Leaves() {
			got, err := rehydrated.Leaf(leaf.Index)
			require.NoError(t, err)
			require.EqualValues(t, leaf.Public, got.Public)
			require.EqualValues(t, leaf.Private, got.Private)
		}
	})

	t.Run("auth paths still verify after rehydration", func(t *testing.T) {
		tree, err := merkle.Build(seedFor('V'), 2, 1, 0, nil)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, tree))
		rehydrated, err := Read(&buf, 2, 1)
		require.NoError(t, err)

		leaf, err := rehydrated.Leaf(2)
		require.NoError(t, err)
		path, err := rehydrated.AuthPath(2)
		require.NoError(t, err)
		require.NoError(t, merkle.VerifyPath(rehydrated.Root(), leaf.Public, 2, path, 1))
	})

	t.Run("an offset tree round trips with its non-zero leaf indexes intact", func(t *testing.T) {
		tree, err := merkle.Build(seedFor('O'), 2, 1, 4, nil)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, tree))
		rehydrated, err := Read(&buf, 2, 1)
		require.NoError(t, err)

		require.EqualValues(t, tree.Root(), rehydrated.Root())
		leaf, err := rehydrated.Leaf(4)
		require.NoError(t, err)
		require.EqualValues(t, uint64(4), leaf.Index)
	})
}

func TestReadRejectsIncompleteData(t *testing.T) {
	t.Run("a truncated key file fails to rehydrate", func(t *testing.T) {
		tree, err := merkle.Build(seedFor('T'), 2, 1, 0, nil)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, tree))
		truncated := buf.Bytes()[:buf.Len()/2]

		_, err = Read(bytes.NewReader(truncated), 2, 1)
		require.Error(t, err)
	})
}
