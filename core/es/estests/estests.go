// Package estests runs the event sourcing test suite against every store
// and snapshotter implementation, so all backends prove the same semantics.
package estests

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/adapters/nats"
	"github.com/streamfold/eskit/core/es"
	"github.com/streamfold/eskit/core/es/estests/domain"
)

type testCase struct {
	name        string
	store       es.EventStore
	snapshotter es.Snapshotter
}

func getStoreSUTs(t *testing.T) []testCase {
	cases := []testCase{
		{
			name:        "memory",
			store:       es.NewInMemoryStore(),
			snapshotter: es.NewInMemorySnapshotter(),
		},
	}

	if testing.Short() {
		return cases
	}

	connect := nats.ReuseConnection(nats.NewTestContainer(t))

	natsStore, err := nats.NewEventStore(nats.EventStoreConfig{
		Log:     slog.Default(),
		Connect: connect,
	})
	require.NoError(t, err)

	natsSnapshotter, err := nats.NewSnapshotter(nats.KvConfig{
		Connect: connect,
		Bucket:  "snapshots",
	})
	require.NoError(t, err)

	return append(cases,
		testCase{
			name:        "nats",
			store:       natsStore,
			snapshotter: natsSnapshotter,
		},
		testCase{
			name:        "nats store, memory snapshotter",
			store:       natsStore,
			snapshotter: es.NewInMemorySnapshotter(),
		},
	)
}

type Tef func(opts ...es.EnvOption) *es.TestingEnv
type TestFunc func(t *testing.T, tef Tef)

func eachStore(testFunc TestFunc) func(t *testing.T) {
	return func(t *testing.T) {
		for _, sut := range getStoreSUTs(t) {
			t.Run(sut.name, func(t *testing.T) {
				testFunc(
					t,
					func(opts ...es.EnvOption) *es.TestingEnv {
						return es.StartTestEnv(
							t,
							es.WithSnapshotter(sut.snapshotter),
							es.WithStore(sut.store),
							es.WithAggregates(new(domain.Account)),
							es.WithEnvOpts(opts...),
						)
					},
				)
			})
		}
	}
}
