package estests

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/core/es"
	"github.com/streamfold/eskit/core/es/estests/domain"
)

func TestSnapshots_All(t *testing.T) {
	t.Run("save and load with snapshot", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			aggID = "snap-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(100))
		require.NoError(t, a.Deposit(100))
		require.NoError(t, te.Repository().Save(t.Context(), a, es.WithSnapshot(true)))

		ss, err := es.LoadSnapshot(t.Context(), te.Snapshotter(), a.GetAggType(), aggID)
		require.NoError(t, err)
		require.NotEmpty(t, ss.SnapshotID)
		require.Equal(t, aggID, ss.AggregateID)
		require.Equal(t, a.GetAggType(), ss.AggregateType)
		require.Equal(t, es.Version(2), ss.Version)
		require.Equal(t, a.GetSeq(), ss.StreamSeq)
		require.NotEmpty(t, ss.Checksum)
		require.NoError(t, ss.Verify())

		restored := domain.NewAccount(aggID)
		require.NoError(t, es.ApplySnapshot(t.Context(), te.Snapshotter(), restored))
		require.EqualValues(t, 200, restored.Balance)
		require.Equal(t, es.Version(2), restored.GetVersion())
	}))

	t.Run("automatic cadence", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef(es.WithSnapshotEvery(3))
			aggID = "cadence-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		for range 2 {
			require.NoError(t, a.Deposit(10))
		}
		require.NoError(t, te.Repository().Save(t.Context(), a))

		// version 2: interval not crossed yet
		_, err := es.LoadSnapshot(t.Context(), te.Snapshotter(), a.GetAggType(), aggID)
		require.ErrorIs(t, err, es.ErrSnapshotNotFound)

		for range 5 {
			require.NoError(t, a.Deposit(10))
		}
		require.NoError(t, te.Repository().Save(t.Context(), a))
		require.Equal(t, es.Version(7), a.GetVersion())

		// crossing 3 and 6 snapshots once, at the save head
		ss, err := es.LoadSnapshot(t.Context(), te.Snapshotter(), a.GetAggType(), aggID)
		require.NoError(t, err)
		require.Equal(t, es.Version(7), ss.Version)
	}))

	t.Run("load replays only the tail after a snapshot", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			aggID = "tail-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(100))
		require.NoError(t, te.Repository().Save(t.Context(), a, es.WithSnapshot(true)))

		require.NoError(t, a.Deposit(50))
		require.NoError(t, te.Repository().Save(t.Context(), a))

		// state folds snapshot (v1) + tail event (v2)
		loaded := domain.NewAccount(aggID)
		require.NoError(t, te.Repository().Load(t.Context(), loaded))
		require.EqualValues(t, 150, loaded.Balance)
		require.Equal(t, es.Version(2), loaded.GetVersion())
	}))

	t.Run("corrupt snapshot falls back to full replay", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			aggID = "corrupt-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(100))
		require.NoError(t, te.Repository().Save(t.Context(), a, es.WithSnapshot(true)))

		// tamper with the stored state
		ss, err := es.LoadSnapshot(t.Context(), te.Snapshotter(), a.GetAggType(), aggID)
		require.NoError(t, err)
		ss.Data = []byte(`{"balance":999999}`)
		require.NoError(t, te.Snapshotter().SaveSnapshot(t.Context(), ss))

		loaded := domain.NewAccount(aggID)
		require.NoError(t, te.Repository().Load(t.Context(), loaded))
		require.EqualValues(t, 100, loaded.Balance, "checksum mismatch discards the snapshot")
		require.Equal(t, es.Version(1), loaded.GetVersion())
	}))

	t.Run("disabled snapshot load", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			aggID = "nosnap-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(100))
		require.NoError(t, te.Repository().Save(t.Context(), a, es.WithSnapshot(true)))

		loaded := domain.NewAccount(aggID)
		require.NoError(t, te.Repository().Load(t.Context(), loaded, es.WithSnapshot(false)))
		require.EqualValues(t, 100, loaded.Balance)
	}))
}
