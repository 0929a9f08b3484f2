// Package integration runs the full stack against a real NATS server:
// jetstream event store, KV snapshotter and KV checkpoints, exercised
// across a simulated process restart.
package integration

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/adapters/nats"
	"github.com/streamfold/eskit/core/es"
	"github.com/streamfold/eskit/core/es/estests/domain"
)

type balanceRow struct {
	Balance int64
}

func newBalances() *es.InMemoryProjection[balanceRow] {
	return es.NewInMemoryProjection("balances", func(row *balanceRow, _ es.Envelope, event any) error {
		switch e := event.(type) {
		case *domain.Deposited:
			row.Balance += e.Amount
		case *domain.Withdrawn:
			row.Balance -= e.Amount
		}
		return nil
	})
}

func TestIntegration_NATS(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := t.Context()
	connect := nats.ReuseConnection(nats.NewTestContainer(t))

	newStore := func() *nats.EventStore {
		store, err := nats.NewEventStore(nats.EventStoreConfig{Connect: connect})
		require.NoError(t, err)
		return store
	}
	snapshotter, err := nats.NewSnapshotter(nats.KvConfig{Connect: connect, Bucket: "snapshots"})
	require.NoError(t, err)
	newCp := func() *es.KeyValueCpStore {
		cp, err := nats.NewCpStore(nats.CpStoreConfig{Connect: connect, Bucket: "cps", Key: "balances"})
		require.NoError(t, err)
		return cp
	}

	// === first process: write events, project them ===

	store1 := newStore()
	proj1 := newBalances()
	env1, err := es.NewEnv(
		es.WithStore(store1),
		es.WithSnapshotter(snapshotter),
		es.WithSnapshotEvery(2),
		es.WithAggregates(new(domain.Account)),
		es.WithProjection(proj1, es.WithCheckpointStore(newCp())),
	)
	require.NoError(t, err)

	accounts := es.NewTypedRepositoryFrom[*domain.Account](slog.Default(), env1.Repository())

	_, err = accounts.GetOrCreate(ctx, "acc-1")
	require.NoError(t, err)
	_, err = accounts.Update(ctx, "acc-1", func(a *domain.Account) error { return a.Deposit(100) })
	require.NoError(t, err)
	_, err = accounts.Update(ctx, "acc-1", func(a *domain.Account) error { return a.Deposit(50) })
	require.NoError(t, err)
	acc, err := accounts.Update(ctx, "acc-1", func(a *domain.Account) error { return a.Withdraw(30) })
	require.NoError(t, err)
	require.Equal(t, int64(120), acc.Balance)
	require.Equal(t, es.Version(4), acc.GetVersion())

	require.Eventually(t, func() bool {
		row, ok := proj1.Get("acc-1")
		return ok && row.Balance == 120
	}, 10*time.Second, 10*time.Millisecond)

	// checkpoint must durably reach the last committed sequence
	require.Eventually(t, func() bool {
		seq, err := newCp().Get()
		return err == nil && seq == acc.GetSeq()
	}, 10*time.Second, 10*time.Millisecond)

	env1.Shutdown()
	require.NoError(t, store1.Close())

	// the cadence crossed a multiple of 2, so a snapshot must exist
	ss, err := es.LoadSnapshot(ctx, snapshotter, "account", "acc-1")
	require.NoError(t, err)
	require.NoError(t, ss.Verify())
	require.Equal(t, es.Version(4), ss.Version)

	// === second process: rehydrate, resume, rebuild ===

	store2 := newStore()
	proj2 := newBalances()
	env2, err := es.NewEnv(
		es.WithStore(store2),
		es.WithSnapshotter(snapshotter),
		es.WithSnapshotEvery(2),
		es.WithAggregates(new(domain.Account)),
		es.WithProjection(proj2, es.WithCheckpointStore(newCp())),
	)
	require.NoError(t, err)
	defer env2.Shutdown()
	defer store2.Close()

	accounts2 := es.NewTypedRepositoryFrom[*domain.Account](slog.Default(), env2.Repository())

	// rehydration picks up the snapshot plus any tail
	acc2, err := accounts2.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, int64(120), acc2.Balance)
	require.Equal(t, es.Version(4), acc2.GetVersion())

	// the restarted projection resumes past the checkpoint: it only sees
	// events appended after the first process stopped
	_, err = accounts2.Update(ctx, "acc-1", func(a *domain.Account) error { return a.Deposit(5) })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		row, ok := proj2.Get("acc-1")
		return ok && row.Balance == 5
	}, 10*time.Second, 10*time.Millisecond)

	// a rebuild replays the full history into the read model
	runner, ok := env2.Projection("balances")
	require.True(t, ok)
	require.NoError(t, runner.Rebuild(ctx))

	require.Eventually(t, func() bool {
		row, ok := proj2.Get("acc-1")
		return ok && row.Balance == 125 && runner.State() == es.ProjectionLive
	}, 10*time.Second, 10*time.Millisecond)
}
