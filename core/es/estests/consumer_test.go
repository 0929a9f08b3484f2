package estests

import (
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/streamfold/eskit/core/es"
	"github.com/streamfold/eskit/core/es/estests/domain"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []es.MsgCtx
}

func (h *recordingHandler) Handle(ctx es.MsgCtx) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, ctx)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func (h *recordingHandler) at(i int) *es.MsgCtx {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.seen[i]
	return &c
}

func TestConsumer(t *testing.T) {
	t.Run("replays history then goes live", func(t *testing.T) {
		var (
			te    = es.StartTestEnv(t, es.WithAggregates(new(domain.Account)))
			aggID = "c-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(100))
		require.NoError(t, te.Repository().Save(t.Context(), a))

		h := &recordingHandler{}
		c := te.NewConsumer(h, es.WithConsumerName("recorder"))
		require.NoError(t, c.Start(t.Context()))
		defer c.Stop()

		require.Eventually(t, func() bool { return h.count() == 1 }, 5*time.Second, 5*time.Millisecond)
		require.False(t, h.at(0).Live(), "historical replay is not live")
		require.IsType(t, &domain.Deposited{}, h.at(0).Event())
		require.Equal(t, aggID, h.at(0).AggregateID())

		require.NoError(t, a.Deposit(50))
		require.NoError(t, te.Repository().Save(t.Context(), a))

		require.Eventually(t, func() bool { return h.count() == 2 }, 5*time.Second, 5*time.Millisecond)
		require.True(t, h.at(1).Live(), "events after catch-up are live")
		require.Equal(t, es.Version(2), h.at(1).Version())
	})

	t.Run("checkpoint middleware resumes and dedupes", func(t *testing.T) {
		var (
			te    = es.StartTestEnv(t, es.WithAggregates(new(domain.Account)))
			aggID = "c-" + gonanoid.Must()
			cp    = es.NewInMemoryCpStore()
		)

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(10))
		require.NoError(t, a.Deposit(20))
		require.NoError(t, te.Repository().Save(t.Context(), a))

		h1 := &recordingHandler{}
		c1 := te.NewConsumer(h1,
			es.WithConsumerName("cp-consumer"),
			es.WithMiddlewares(es.NewCheckpointMiddleware(cp)),
		)
		require.NoError(t, c1.Start(t.Context()))
		require.Eventually(t, func() bool { return h1.count() == 2 }, 5*time.Second, 5*time.Millisecond)
		c1.Stop()

		seq, err := cp.Get()
		require.NoError(t, err)
		require.Equal(t, h1.at(1).Seq(), seq)

		// a restarted consumer with the same checkpoint sees only new events
		require.NoError(t, a.Deposit(30))
		require.NoError(t, te.Repository().Save(t.Context(), a))

		h2 := &recordingHandler{}
		c2 := te.NewConsumer(h2,
			es.WithConsumerName("cp-consumer"),
			es.WithMiddlewares(es.NewCheckpointMiddleware(cp)),
		)
		require.NoError(t, c2.Start(t.Context()))
		defer c2.Stop()

		require.Eventually(t, func() bool { return h2.count() == 1 }, 5*time.Second, 5*time.Millisecond)
		require.IsType(t, &domain.Deposited{}, h2.at(0).Event())
		require.Equal(t, es.Version(3), h2.at(0).Version())
	})

	t.Run("filters", func(t *testing.T) {
		var (
			te    = es.StartTestEnv(t, es.WithAggregates(new(domain.Account)))
			aggID = "c-" + gonanoid.Must()
			other = "c-" + gonanoid.Must()
		)

		h := &recordingHandler{}
		c := te.NewConsumer(h,
			es.WithConsumerFilters(es.SubscribeFilter{AggregateType: "account", AggregateID: aggID}),
		)
		require.NoError(t, c.Start(t.Context()))
		defer c.Stop()

		b := domain.NewAccount(other)
		require.NoError(t, b.Deposit(999))
		require.NoError(t, te.Repository().Save(t.Context(), b))

		a := domain.NewAccount(aggID)
		require.NoError(t, a.Deposit(10))
		require.NoError(t, te.Repository().Save(t.Context(), a))

		require.Eventually(t, func() bool { return h.count() == 1 }, 5*time.Second, 5*time.Millisecond)
		require.Equal(t, aggID, h.at(0).AggregateID())
	})

	t.Run("history larger than the delivery buffer", func(t *testing.T) {
		var (
			te    = es.StartTestEnv(t, es.WithAggregates(new(domain.Account)))
			aggID = "c-" + gonanoid.Must()
		)

		a := domain.NewAccount(aggID)
		for range 300 {
			require.NoError(t, a.Deposit(1))
		}
		require.NoError(t, te.Repository().Save(t.Context(), a))

		h := &recordingHandler{}
		c := te.NewConsumer(h, es.WithConsumerName("bulk"))
		require.NoError(t, c.Start(t.Context()), "catch-up must not depend on the buffer size")
		defer c.Stop()

		require.Eventually(t, func() bool { return h.count() == 300 }, 10*time.Second, 5*time.Millisecond)
		require.False(t, h.at(299).Live(), "backlog is handled before going live")

		require.NoError(t, a.Deposit(1))
		require.NoError(t, te.Repository().Save(t.Context(), a))
		require.Eventually(t, func() bool { return h.count() == 301 }, 5*time.Second, 5*time.Millisecond)
		require.True(t, h.at(300).Live())
	})
}
