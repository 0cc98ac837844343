package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotaledger/raam.go/errs"
	"github.com/iotaledger/raam.go/trinary"
)

func trits(n int, pattern ...int8) trinary.Trits {
	if len(pattern) == 0 {
		pattern = []int8{1, 0, -1}
	}
	out := make(trinary.Trits, n)
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}

func rootFor(marker byte) trinary.Trits {
	b := make([]byte, 81)
	for i := range b {
		b[i] = marker
	}
	tr, err := trinary.TrytesToTrits(trinary.Trytes(b))
	if err != nil {
		panic(err)
	}
	return tr
}

func baseInput(height, security uint8) AssembleInput {
	return AssembleInput{
		Index:        3,
		Message:      "HELLORAAM",
		VerifyingKey: trits(int(security) * GramTrytes * trinary.TritsPerTryte),
		AuthPath:     authPathFor(height, security),
		Signature:    trits(int(security) * FragTrytes * trinary.TritsPerTryte),
		Height:       height,
		Security:     security,
		ChannelRoot:  rootFor('R'),
	}
}

func authPathFor(height, security uint8) []trinary.Trits {
	path := make([]trinary.Trits, height)
	for i := range path {
		path[i] = trits(int(security)*GramTrytes*trinary.TritsPerTryte, int8(i%3-1), 0, 1)
	}
	return path
}

func TestAddressOfDeterministic(t *testing.T) {
	t.Run("same inputs yield same address", func(t *testing.T) {
		root := rootFor('A')
		a, err := AddressOf(root, 7, "")
		require.NoError(t, err)
		b, err := AddressOf(root, 7, "")
		require.NoError(t, err)
		require.Equal(t, a, b)
	})

	t.Run("channel password changes the address", func(t *testing.T) {
		root := rootFor('A')
		a, err := AddressOf(root, 7, "")
		require.NoError(t, err)
		b, err := AddressOf(root, 7, "PASSWORD")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})

	t.Run("address is always 81 trytes regardless of security", func(t *testing.T) {
		root := rootFor('A')
		addr, err := AddressOf(root, 0, "")
		require.NoError(t, err)
		require.Len(t, addr, 81)

		twoGramRoot := append(rootFor('A'), rootFor('B')...)
		addr, err = AddressOf(twoGramRoot, 0, "")
		require.NoError(t, err)
		require.Len(t, addr, 81)
	})
}

func TestPublicKeyRoundTrip(t *testing.T) {
	t.Run("public message password composes back to the address", func(t *testing.T) {
		root := rootFor('P')
		addr, err := AddressOf(root, 5, "")
		require.NoError(t, err)

		pm, err := PublicMessagePassword(addr, 5)
		require.NoError(t, err)
		derived, err := DeriveKey(root, "", pm, 5)
		require.NoError(t, err)

		direct, err := PublicKey(addr)
		require.NoError(t, err)
		require.EqualValues(t, direct, derived)
	})
}

func TestAssembleParseRoundTrip(t *testing.T) {
	for _, security := range []uint8{1, 2, 4} {
		security := security
		t.Run("security level", func(t *testing.T) {
			in := baseInput(3, security)
			bundle, err := Assemble(in)
			require.NoError(t, err)
			require.True(t, len(bundle) >= 1+int(security))

			addr, err := AddressOf(in.ChannelRoot, in.Index, in.ChannelPassword)
			require.NoError(t, err)
			for _, r := range bundle {
				require.Equal(t, addr, r.Address)
			}

			key, err := DeriveKey(in.ChannelRoot, "", "", in.Index)
			require.NoError(t, err)
			parsed, err := Parse(bundle, key)
			require.NoError(t, err)
			require.Equal(t, in.Message, parsed.Message)
			require.EqualValues(t, in.VerifyingKey, parsed.VerifyingKey)
			require.Len(t, parsed.AuthPath, int(in.Height))
			for i := range in.AuthPath {
				require.EqualValues(t, in.AuthPath[i], parsed.AuthPath[i])
			}

			sig, err := Signature(bundle, PayloadRecordCount(parsed.Header), security)
			require.NoError(t, err)
			require.EqualValues(t, in.Signature, sig)
		})
	}
}

func TestAssembleWithNextRoot(t *testing.T) {
	t.Run("next root survives the round trip", func(t *testing.T) {
		in := baseInput(2, 1)
		in.NextRoot = rootFor('N')
		in.NextRootSecurity = 1

		bundle, err := Assemble(in)
		require.NoError(t, err)

		key, err := DeriveKey(in.ChannelRoot, "", "", in.Index)
		require.NoError(t, err)
		parsed, err := Parse(bundle, key)
		require.NoError(t, err)
		require.EqualValues(t, in.NextRoot, parsed.NextRoot)
		require.EqualValues(t, uint8(1), parsed.NextRootSecurity)
	})
}

func TestAssembleRejectsPublicWithChannelPassword(t *testing.T) {
	t.Run("public and channel password are mutually exclusive", func(t *testing.T) {
		in := baseInput(1, 1)
		in.Public = true
		in.ChannelPassword = "SECRET"
		_, err := Assemble(in)
		require.ErrorIs(t, err, errs.ErrPublicNotAllowed)
	})
}

func TestAssembleRejectsBadIndex(t *testing.T) {
	t.Run("index out of range for height is rejected", func(t *testing.T) {
		in := baseInput(1, 1)
		in.Index = 2 // height 1 allows only indexes 0,1
		_, err := Assemble(in)
		require.ErrorIs(t, err, errs.ErrInvalidIndex)
	})
}

func TestParseRejectsShortBundle(t *testing.T) {
	t.Run("fewer records than the header declares fails", func(t *testing.T) {
		in := baseInput(3, 2)
		bundle, err := Assemble(in)
		require.NoError(t, err)

		key, err := DeriveKey(in.ChannelRoot, "", "", in.Index)
		require.NoError(t, err)
		_, err = Parse(bundle[:len(bundle)-1], key)
		require.Error(t, err)
	})
}

func TestParseWithWrongKeyFails(t *testing.T) {
	t.Run("wrong key does not parse cleanly", func(t *testing.T) {
		in := baseInput(2, 1)
		bundle, err := Assemble(in)
		require.NoError(t, err)

		wrongKey, err := DeriveKey(rootFor('Z'), "", "", in.Index)
		require.NoError(t, err)
		parsed, err := Parse(bundle, wrongKey)
		if err == nil {
			require.NotEqual(t, in.Message, parsed.Message)
		}
	})
}
