// Package es provides an event sourcing framework: append-only event
// streams per aggregate, optimistic concurrency, snapshots and projections.
//
// # Overview
//
// State is stored as an ordered sequence of immutable events rather than as
// mutable rows. Every state change is an event appended to the aggregate's
// stream; current state is a fold over that stream.
//
// # Core Components
//
// Aggregate: the domain object owning business rules and state transitions.
// Commands validate against current state and raise events; events are
// applied back to mutate state. Embed [BaseAggregate] to get version and
// uncommitted-event tracking:
//
//	type Account struct {
//	    es.BaseAggregate
//	    Balance int64
//	}
//
//	func (a *Account) Deposit(amount int64) error {
//	    return es.RaiseAndApply(a, &Deposited{Amount: amount})
//	}
//
// EventStore: the append-only log. [EventStore.Append] commits a batch
// atomically under an expected-version check and returns
// [ErrConcurrencyConflict] on a stale expectation; [EventStore.Load] replays
// a stream in version order; [EventStore.Events] is a lazy historical query
// over the global sequence. Use [NewInMemoryStore] for tests or the
// adapters/nats package for durable storage.
//
// Repository: loads aggregates (snapshot plus tail events) and saves
// uncommitted events. [TypedRepository] adds type-safe generics:
//
//	repo := es.NewTypedRepository[*Account](log, store, registry)
//	acc, err := repo.GetByID(ctx, "acc-1")
//	acc.Deposit(100)
//	err = repo.Save(ctx, acc)
//
// [TypedRepository.Update] retries the load-mutate-save cycle on concurrency
// conflicts.
//
// # Snapshots
//
// Snapshots are a replay optimization, never a source of truth. The
// repository restores the newest valid snapshot and folds only the tail
// events after it. Configure an automatic cadence with [WithSnapshotEvery];
// a corrupt or missing snapshot silently falls back to full replay.
//
// # Consumers and Projections
//
// Consumer: push-based event processing with checkpoint middleware and live
// detection (historical replay vs. real-time delivery):
//
//	c := es.NewConsumer(store, registry, handler,
//	    es.WithConsumerName("mailer"),
//	    es.WithMiddlewares(es.NewCheckpointMiddleware(cpStore)),
//	)
//	c.Start(ctx)
//
// Projection: a named read model folded from the stream, driven by a
// [ProjectionRunner] through the Building/Live/Rebuilding/Failed lifecycle.
// A failed projection stops consuming without affecting writes or other
// projections; [ProjectionRunner.Rebuild] resets and replays it.
//
// # Environment
//
// [Env] wires store, snapshotter, registry, repository, consumers and
// projections with one shared lifecycle:
//
//	env, err := es.NewEnv(
//	    es.WithInMemory(),
//	    es.WithEvent[Deposited](),
//	    es.WithAggregates(&Account{}),
//	    es.WithProjection(balances),
//	)
//	defer env.Shutdown()
package es
