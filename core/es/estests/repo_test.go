package estests

import (
	"log/slog"
	"sync"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/core/es"
	"github.com/streamfold/eskit/core/es/estests/domain"
)

func TestRepository_All(t *testing.T) {
	t.Run("create, mutate, load", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			aggID = "acc-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(100))
		require.NoError(t, a.Deposit(50))
		require.NoError(t, a.Withdraw(30))
		require.EqualValues(t, 120, a.Balance)
		require.NoError(t, te.Repository().Save(t.Context(), a))
		require.Equal(t, es.Version(3), a.GetVersion())
		require.Empty(t, a.Uncommitted())

		loaded := domain.NewAccount(aggID)
		require.NoError(t, te.Repository().Load(t.Context(), loaded))
		require.EqualValues(t, 120, loaded.Balance)
		require.Equal(t, 2, loaded.NumDeposits)
		require.Equal(t, es.Version(3), loaded.GetVersion())
		require.Equal(t, a.GetSeq(), loaded.GetSeq())
	}))

	t.Run("rejected command leaves no events", eachStore(func(t *testing.T, tef Tef) {
		te := tef()

		a := domain.NewAccount("acc-" + gonanoid.Must())
		require.NoError(t, a.Deposit(10))
		require.Error(t, a.Withdraw(100), "insufficient funds")
		require.Len(t, a.Uncommitted(), 1, "only the deposit is recorded")
		require.NoError(t, te.Repository().Save(t.Context(), a))
		require.Equal(t, es.Version(1), a.GetVersion())
	}))

	t.Run("typed repository", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			tr    = es.NewTypedRepositoryFrom[*domain.Account](slog.Default(), te.Repository())
			aggID = "acc-" + gonanoid.Must()
		)

		t.Run("get or create", func(t *testing.T) {
			a, err := tr.GetOrCreate(t.Context(), aggID)
			require.NoError(t, err)
			require.Equal(t, aggID, a.GetID())
			require.Equal(t, es.Version(1), a.GetVersion())
		})

		t.Run("get by id", func(t *testing.T) {
			a, err := tr.GetByID(t.Context(), aggID)
			require.NoError(t, err)
			require.NoError(t, a.Deposit(25))
			require.NoError(t, tr.Save(t.Context(), a))
			require.Equal(t, es.Version(2), a.GetVersion())
		})

		t.Run("get by id unknown", func(t *testing.T) {
			_, err := tr.GetByID(t.Context(), "missing-"+gonanoid.Must())
			require.ErrorIs(t, err, es.ErrAggregateNotFound)
		})

		t.Run("update retries conflicts", func(t *testing.T) {
			// two writers mutate the same aggregate; Update reloads and
			// retries, so both commands land
			var wg sync.WaitGroup
			for range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := tr.Update(t.Context(), aggID, func(a *domain.Account) error {
						return a.Deposit(10)
					})
					require.NoError(t, err)
				}()
			}
			wg.Wait()

			a, err := tr.GetByID(t.Context(), aggID)
			require.NoError(t, err)
			require.EqualValues(t, 45, a.Balance)
			require.Equal(t, es.Version(4), a.GetVersion())
		})

		t.Run("update with rejected command is permanent", func(t *testing.T) {
			_, err := tr.Update(t.Context(), aggID, func(a *domain.Account) error {
				return a.Withdraw(1_000_000)
			})
			require.Error(t, err)
		})
	}))

	t.Run("save conflict on stale aggregate", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			aggID = "acc-" + gonanoid.Must()
		)

		a1 := domain.NewAccount(aggID)
		require.NoError(t, a1.Deposit(10))
		require.NoError(t, te.Repository().Save(t.Context(), a1))

		// a2 is rehydrated at version 1; a1 moves the stream first
		a2 := domain.NewAccount(aggID)
		require.NoError(t, te.Repository().Load(t.Context(), a2))

		require.NoError(t, a1.Deposit(10))
		require.NoError(t, te.Repository().Save(t.Context(), a1))

		require.NoError(t, a2.Deposit(10))
		require.ErrorIs(t, te.Repository().Save(t.Context(), a2), es.ErrConcurrencyConflict)
	}))

	t.Run("event metadata", eachStore(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			aggID = "acc-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(5))
		require.NoError(t, te.Repository().Save(t.Context(), a,
			es.WithEventMetadata(map[string]string{"actor": "test-user"}),
		))

		events, err := te.Store().Load(t.Context(), a.GetAggType(), aggID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, "test-user", events[0].Metadata["actor"])
	}))
}
