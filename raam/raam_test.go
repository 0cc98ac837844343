package raam

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotaledger/raam.go/errs"
	"github.com/iotaledger/raam.go/raamtest"
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

func newTestRAAM(t *testing.T, height, security uint8) (*RAAM, *raamtest.Ledger) {
	t.Helper()
	l := raamtest.NewLedger()
	r, err := NewRAAM(&Settings{
		Seed:     seedFor('S'),
		Height:   height,
		Security: security,
		Ledger:   l,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	return r, l
}

func TestNewRAAMValidation(t *testing.T) {
	t.Run("rejects nil settings", func(t *testing.T) {
		_, err := NewRAAM(nil)
		require.Error(t, err)
	})

	t.Run("rejects missing ledger", func(t *testing.T) {
		_, err := NewRAAM(&Settings{Height: 2, Security: 1})
		require.Error(t, err)
	})

	t.Run("rejects out-of-range height", func(t *testing.T) {
		_, err := NewRAAM(&Settings{Height: 0, Security: 1, Ledger: raamtest.NewLedger()})
		require.ErrorIs(t, err, errs.ErrInvalidHeight)
	})

	t.Run("rejects out-of-range security", func(t *testing.T) {
		_, err := NewRAAM(&Settings{Height: 2, Security: 5, Ledger: raamtest.NewLedger()})
		require.ErrorIs(t, err, errs.ErrInvalidSecurityLevel)
	})
}

func TestStartSetsChannelRootAndCursor(t *testing.T) {
	t.Run("channel root is stable across two runs from the same seed", func(t *testing.T) {
		seed := seedFor('C')
		a, err := NewRAAM(&Settings{Seed: seed, Height: 2, Security: 1, Ledger: raamtest.NewLedger()})
		require.NoError(t, err)
		require.NoError(t, a.Start(context.Background()))
		b, err := NewRAAM(&Settings{Seed: seed, Height: 2, Security: 1, Ledger: raamtest.NewLedger()})
		require.NoError(t, err)
		require.NoError(t, b.Start(context.Background()))

		rootA, err := a.ChannelRoot()
		require.NoError(t, err)
		rootB, err := b.ChannelRoot()
		require.NoError(t, err)
		require.Equal(t, rootA, rootB)

		cursor, err := a.Cursor()
		require.NoError(t, err)
		require.EqualValues(t, 0, cursor)
	})

	t.Run("starting twice fails", func(t *testing.T) {
		r, _ := newTestRAAM(t, 2, 1)
		require.Error(t, r.Start(context.Background()))
	})
}

func TestPublishAdvancesCursorAndCache(t *testing.T) {
	t.Run("sequential publish at the cursor advances it by one", func(t *testing.T) {
		r, l := newTestRAAM(t, 2, 1)
		p, err := r.Publish(context.Background(), PublishOptions{Message: "HELLO"})
		require.NoError(t, err)
		require.EqualValues(t, 0, p.Index)

		cursor, err := r.Cursor()
		require.NoError(t, err)
		require.EqualValues(t, 1, cursor)
		require.Len(t, l.Records(), len(p.Bundle))
	})

	t.Run("publishing an already-used index fails", func(t *testing.T) {
		r, _ := newTestRAAM(t, 2, 1)
		idx := uint64(0)
		_, err := r.Publish(context.Background(), PublishOptions{Index: &idx, Message: "ONE"})
		require.NoError(t, err)
		_, err = r.Publish(context.Background(), PublishOptions{Index: &idx, Message: "TWO"})
		require.ErrorIs(t, err, errs.ErrIndexUsed)
	})

	t.Run("publishing out of tree range fails", func(t *testing.T) {
		r, _ := newTestRAAM(t, 2, 1)
		idx := uint64(4) // height 2 allows only 0..3
		_, err := r.Publish(context.Background(), PublishOptions{Index: &idx, Message: "X"})
		require.ErrorIs(t, err, errs.ErrInvalidIndex)
	})

	t.Run("out-of-order publish at a higher index then a lower one still advances only forward", func(t *testing.T) {
		r, _ := newTestRAAM(t, 2, 1)
		high := uint64(3)
		_, err := r.Publish(context.Background(), PublishOptions{Index: &high, Message: "LAST"})
		require.NoError(t, err)
		cursor, err := r.Cursor()
		require.NoError(t, err)
		require.EqualValues(t, 4, cursor)

		low := uint64(1)
		_, err = r.Publish(context.Background(), PublishOptions{Index: &low, Message: "MID"})
		require.NoError(t, err)
		cursor, err = r.Cursor()
		require.NoError(t, err)
		require.EqualValues(t, 4, cursor, "cursor never moves backward")
	})
}

func TestPublishRejectsPublicWithChannelPassword(t *testing.T) {
	t.Run("public mode is incompatible with a channel password", func(t *testing.T) {
		l := raamtest.NewLedger()
		r, err := NewRAAM(&Settings{
			Seed: seedFor('Q'), Height: 2, Security: 1, Ledger: l,
			ChannelPassword: "SECRET",
		})
		require.NoError(t, err)
		require.NoError(t, r.Start(context.Background()))
		_, err = r.Publish(context.Background(), PublishOptions{Message: "X", Public: true})
		require.ErrorIs(t, err, errs.ErrPublicNotAllowed)
	})
}

func TestNotRunningRejectsOperations(t *testing.T) {
	t.Run("publish before start fails", func(t *testing.T) {
		l := raamtest.NewLedger()
		r, err := NewRAAM(&Settings{Seed: seedFor('N'), Height: 2, Security: 1, Ledger: l})
		require.NoError(t, err)
		_, err = r.Publish(context.Background(), PublishOptions{Message: "X"})
		require.Error(t, err)
	})

	t.Run("operations fail after shutdown", func(t *testing.T) {
		r, _ := newTestRAAM(t, 2, 1)
		require.NoError(t, r.Shutdown())
		_, err := r.Publish(context.Background(), PublishOptions{Message: "X"})
		require.Error(t, err)
	})
}
