package streamcipher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotaledger/raam.go/trinary"
)

func keyFor(marker byte) trinary.Trits {
	b := make([]byte, 27)
	for i := range b {
		b[i] = marker
	}
	trits, err := trinary.TrytesToTrits(trinary.Trytes(b))
	if err != nil {
		panic(err)
	}
	return trits
}

func payload(chunks int) trinary.Trits {
	out := make(trinary.Trits, chunks*ChunkTrits)
	for i := range out {
		out[i] = int8((i % 3) - 1)
	}
	return out
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Run("decrypt undoes encrypt for a fresh cipher pair", func(t *testing.T) {
		key := keyFor('K')
		enc, err := New(key, nil)
		require.NoError(t, err)
		dec, err := New(key, nil)
		require.NoError(t, err)

		plain := payload(3)
		cipher, err := enc.Encrypt(plain)
		require.NoError(t, err)
		require.NotEqualValues(t, plain, cipher)

		recovered, err := dec.Decrypt(cipher)
		require.NoError(t, err)
		require.EqualValues(t, plain, recovered)
	})

	t.Run("salt changes the mask", func(t *testing.T) {
		key := keyFor('S')
		withoutSalt, err := New(key, nil)
		require.NoError(t, err)
		withSalt, err := New(key, keyFor('T'))
		require.NoError(t, err)

		plain := payload(1)
		a, err := withoutSalt.Encrypt(plain)
		require.NoError(t, err)
		b, err := withSalt.Encrypt(plain)
		require.NoError(t, err)
		require.NotEqualValues(t, a, b)
	})

	t.Run("successive chunks use independent masks", func(t *testing.T) {
		key := keyFor('C')
		enc, err := New(key, nil)
		require.NoError(t, err)
		plain := payload(2)
		for i := ChunkTrits; i < len(plain); i++ {
			plain[i] = plain[i-ChunkTrits]
		}
		cipher, err := enc.Encrypt(plain)
		require.NoError(t, err)
		require.NotEqualValues(t, cipher[:ChunkTrits], cipher[ChunkTrits:])
	})
}

func TestNotChunkAligned(t *testing.T) {
	t.Run("rejects misaligned length", func(t *testing.T) {
		c, err := New(keyFor('X'), nil)
		require.NoError(t, err)
		_, err = c.Encrypt(make(trinary.Trits, ChunkTrits-1))
		require.ErrorIs(t, err, ErrNotChunkAligned)
	})
}
