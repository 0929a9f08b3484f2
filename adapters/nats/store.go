package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/streamfold/eskit/clock"
	"github.com/streamfold/eskit/core/ds"
	"github.com/streamfold/eskit/core/es"
)

const defaultSubjectPrefix = "eskit.es"

type EventStoreConfig struct {
	Connect       Connector    // Connect creates the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	Clock         clock.Clock  // Clock stamps commit timestamps (optional)
	SubjectPrefix string
	StreamName    string
	Replicas      int
}

// EventStore persists event streams in a JetStream stream, one subject per
// aggregate. Optimistic concurrency uses the per-subject last-sequence
// expectation of JetStream publishes; a batch whose publish fails partway
// is rolled back best effort (see rollback).
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	clock         clock.Clock
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Time
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = "ESKIT_EVENTS"
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		FirstSeq: 1,
		Replicas: cfg.Replicas,
	})
	if err != nil {
		return nil, err
	}

	log.Info("stream ready", slog.Uint64("last_seq", streamInfo.State.LastSeq))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		clock:         clk,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) subject(aggType, aggID string) string {
	return e.subjectPrefix + "." + aggType + "." + aggID
}

// head returns the version and stream sequence of the newest event of one
// aggregate, or (0, 0) for an unknown stream.
func (e *EventStore) head(ctx context.Context, aggType, aggID string) (es.Version, uint64, error) {
	subject := e.subject(aggType, aggID)

	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("%w: head of %s: %v", es.ErrStorageUnavailable, subject, err)
	}

	var env es.Envelope
	if err := json.Unmarshal(lm.Data, &env); err != nil {
		return 0, 0, fmt.Errorf("failed to unmarshal head of %q: %w", subject, err)
	}
	return env.Version, lm.Sequence, nil
}

func (e *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (*es.AppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	head, headSeq, err := e.head(ctx, aggType, aggID)
	if err != nil {
		return nil, err
	}
	if head != expectedVersion {
		return nil, fmt.Errorf("%w: %s/%s expected version %d, head is %d",
			es.ErrConcurrencyConflict, aggType, aggID, expectedVersion, head)
	}

	// Each publish expects the sequence of the previous one, so a
	// concurrent writer can only race the first message. A publish that
	// fails mid-batch leaves a committed prefix behind, which rollback
	// removes before the error surfaces.
	var (
		subject   = e.subject(aggType, aggID)
		lastSeq   = headSeq
		version   = expectedVersion
		now       = e.clock.Now()
		published = make([]uint64, 0, len(events))
	)
	for i := range events {
		ev := events[i]
		version++
		ev.Version = version
		ev.AggregateType = aggType
		ev.AggregateID = aggID
		ev.OccurredAt = now
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("invalid event at index %d: %w", i, err)
		}

		msg := natsgo.NewMsg(subject)
		msg.Header.Set("x-event-type", ev.Type)
		msg.Header.Set("x-aggregate-type", aggType)
		msg.Header.Set("x-aggregate-id", aggID)
		msg.Data, err = json.Marshal(ev)
		if err != nil {
			return nil, err
		}

		ack, err := e.js.PublishMsg(
			ctx,
			msg,
			jetstream.WithMsgID(ev.ID),
			jetstream.WithExpectLastSequencePerSubject(lastSeq),
		)
		if err != nil {
			e.rollback(ctx, subject, published)
			var apiErr *jetstream.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
				return nil, fmt.Errorf("%w: %s/%s expected version %d, stream moved",
					es.ErrConcurrencyConflict, aggType, aggID, expectedVersion)
			}
			return nil, fmt.Errorf("%w: publish to %s: %v", es.ErrStorageUnavailable, subject, err)
		}
		lastSeq = ack.Sequence
		published = append(published, ack.Sequence)
	}

	return &es.AppendResult{LastSeq: lastSeq, Version: version}, nil
}

// rollback removes a half-published batch, newest first, so the surviving
// prefix stays contiguous while it unwinds. Removal is best effort: if a
// delete fails the leftover prefix is durable, and the next append for the
// aggregate surfaces it as a version conflict.
func (e *EventStore) rollback(ctx context.Context, subject string, seqs []uint64) {
	for i := len(seqs) - 1; i >= 0; i-- {
		if err := e.stream.DeleteMsg(context.WithoutCancel(ctx), seqs[i]); err != nil {
			e.log.Error("rollback of partial append failed",
				slog.String("subject", subject),
				slog.Uint64("seq", seqs[i]),
				slog.Any("error", err),
			)
		}
	}
}

func (e *EventStore) Load(
	ctx context.Context,
	aggType string,
	aggID string,
	opts ...es.StoreLoadOption,
) ([]es.Envelope, error) {
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}
	startVersion, startSeq := es.NewStoreLoadOptions(opts...)

	_, endSeq, err := e.head(ctx, aggType, aggID)
	if err != nil {
		return nil, err
	}
	if endSeq == 0 {
		return nil, fmt.Errorf("%w: %s/%s", es.ErrAggregateNotFound, aggType, aggID)
	}

	var loaded []es.Envelope
	for env, err := range e.scan(ctx, []string{e.subject(aggType, aggID)}, startSeq, endSeq) {
		if err != nil {
			return nil, err
		}
		if env.Version < startVersion {
			continue
		}
		loaded = append(loaded, env)
	}

	e.log.Debug("loaded",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		slog.Int("num_events", len(loaded)),
		slog.Uint64("end_seq", endSeq),
	)

	return loaded, nil
}

// Events lazily yields committed envelopes matching q, bounded by the
// stream head at call time.
func (e *EventStore) Events(ctx context.Context, q es.Query) iter.Seq2[es.Envelope, error] {
	return func(yield func(es.Envelope, error) bool) {
		info, err := e.stream.Info(ctx)
		if err != nil {
			yield(es.Envelope{}, fmt.Errorf("%w: stream info: %v", es.ErrStorageUnavailable, err))
			return
		}
		endSeq := info.State.LastSeq
		if endSeq == 0 || (q.FromSeq > 0 && q.FromSeq > endSeq) {
			return
		}

		subjects := []string{e.subject("*", "*")}
		if q.AggregateType != "" && q.AggregateID != "" {
			subjects = []string{e.subject(q.AggregateType, q.AggregateID)}
		} else if q.AggregateType != "" {
			subjects = []string{e.subject(q.AggregateType, "*")}
		} else if q.AggregateID != "" {
			subjects = []string{e.subject("*", q.AggregateID)}
		}

		for env, err := range e.scan(ctx, subjects, q.FromSeq, endSeq) {
			if err != nil {
				yield(es.Envelope{}, err)
				return
			}
			if !q.Matches(env) {
				continue
			}
			if !yield(env, nil) {
				return
			}
		}
	}
}

// scan reads the stream over an ephemeral consumer from startSeq (0 means
// the beginning) through endSeq inclusive.
func (e *EventStore) scan(ctx context.Context, subjects []string, startSeq, endSeq uint64) iter.Seq2[es.Envelope, error] {
	return func(yield func(es.Envelope, error) bool) {
		consumerName := "scan-" + gonanoid.Must()
		consumerCfg := jetstream.ConsumerConfig{
			Name:           consumerName,
			DeliverPolicy:  jetstream.DeliverAllPolicy,
			AckPolicy:      jetstream.AckExplicitPolicy,
			FilterSubjects: subjects,
		}
		if startSeq > 0 {
			consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
			consumerCfg.OptStartSeq = startSeq
		}

		cc, err := e.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
		if err != nil {
			yield(es.Envelope{}, fmt.Errorf("%w: create consumer: %v", es.ErrStorageUnavailable, err))
			return
		}
		defer func() {
			if errDelete := e.stream.DeleteConsumer(context.WithoutCancel(ctx), consumerName); errDelete != nil {
				e.log.Error("failed to delete consumer", slog.Any("error", errDelete))
			}
		}()

		mc, err := cc.Messages()
		if err != nil {
			yield(es.Envelope{}, fmt.Errorf("%w: consume: %v", es.ErrStorageUnavailable, err))
			return
		}
		defer mc.Stop()

		for {
			msg, err := mc.Next(jetstream.NextMaxWait(5 * time.Millisecond))
			if err != nil {
				// iterator closed by Drain, timeout means caught up
				if errors.Is(err, jetstream.ErrMsgIteratorClosed) || errors.Is(err, natsgo.ErrTimeout) {
					return
				}
				yield(es.Envelope{}, fmt.Errorf("%w: fetch: %v", es.ErrStorageUnavailable, err))
				return
			}

			if err := msg.Ack(); err != nil {
				yield(es.Envelope{}, fmt.Errorf("failed to ack message: %w", err))
				return
			}

			env, err := e.decodeMsg(msg)
			if err != nil {
				yield(es.Envelope{}, fmt.Errorf("failed to decode message: %w", err))
				return
			}

			if !yield(*env, nil) {
				return
			}
			if env.Seq >= endSeq {
				return
			}
		}
	}
}

func (e *EventStore) Subscribe(ctx context.Context, opts ...es.SubscribeOption) (es.Subscription, error) {
	options := es.NewSubscribeOpts(opts...)

	// jetstream rejects duplicate filter subjects, so dedupe while
	// keeping the caller's order
	subjects := ds.NewStringSet()
	for _, f := range options.Filters() {
		switch {
		case f.AggregateType != "" && f.AggregateID != "":
			subjects.Add(e.subject(f.AggregateType, f.AggregateID))
		case f.AggregateType != "":
			subjects.Add(e.subject(f.AggregateType, "*"))
		case f.AggregateID != "":
			subjects.Add(e.subject("*", f.AggregateID))
		default:
			return nil, fmt.Errorf("invalid filter: %+v", f)
		}
	}
	if subjects.IsEmpty() {
		subjects.Add(e.subject("*", "*"))
	}
	filterSubjects := subjects.Values()

	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: stream info: %v", es.ErrStorageUnavailable, err)
	}
	maxSeq := info.State.LastSeq

	consumerCfg := jetstream.ConsumerConfig{
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		FilterSubjects:    filterSubjects,
		InactiveThreshold: 10 * time.Minute,
	}
	switch options.DeliverPolicy() {
	case es.DeliverAllPolicy:
		consumerCfg.DeliverPolicy = jetstream.DeliverAllPolicy
		if options.StartSequence() > 1 {
			consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
			consumerCfg.OptStartSeq = options.StartSequence()
		}
	default:
		consumerCfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}

	e.log.Debug("subscribe", slog.Any("subjects", filterSubjects), slog.Uint64("max_seq", maxSeq))

	consumer, err := e.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan es.Envelope, options.BufferSize())

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := msg.Ack(); err != nil {
			e.log.Error("failed to ack message", slog.Any("error", err))
			return
		}

		env, err := e.decodeMsg(msg)
		if err != nil {
			e.log.Error("failed to decode message", slog.Any("error", err))
			return
		}

		select {
		case ch <- *env:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}

	stopOnce := sync.Once{}
	stop := func() {
		stopOnce.Do(func() {
			cc.Drain()
			cancel()
			close(ch)
		})
	}

	context.AfterFunc(ctx, stop)

	return &jsSubscription{ch: ch, cancel: stop, maxSeq: maxSeq}, nil
}

func (e *EventStore) decodeMsg(msg jetstream.Msg) (*es.Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, err
	}

	env := &es.Envelope{}
	if err := json.Unmarshal(msg.Data(), env); err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	return env, nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, *jetstream.StreamInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err := s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

var _ es.EventStore = (*EventStore)(nil)

// --- Subscription ---

// jsSubscription delegates backpressure to JetStream: the consumer holds
// undelivered messages server-side, so the in-process buffer never evicts.
type jsSubscription struct {
	ch     chan es.Envelope
	cancel closeFunc
	maxSeq uint64
}

func (s *jsSubscription) Cancel()                  { s.cancel() }
func (s *jsSubscription) Chan() <-chan es.Envelope { return s.ch }
func (s *jsSubscription) MaxSequence() uint64      { return s.maxSeq }
func (s *jsSubscription) Err() error               { return nil }
