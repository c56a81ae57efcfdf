package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/kafka"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
)

// Delivery is one relayed message handed to the sync handler. Exactly one of
// Ack or Nack must be called.
type Delivery struct {
	ID         string
	Data       []byte
	Attributes map[string]string
	Ack        func()
	Nack       func()
}

// Source delivers relayed messages until ctx is cancelled. Receive returns
// only after every handler call has returned.
type Source interface {
	Name() string
	Receive(ctx context.Context, handle func(context.Context, Delivery)) error
}

// PubSubSource pulls from a Pub/Sub subscription.
type PubSubSource struct {
	sub *pubsub.Subscription
}

func NewPubSubSource(client *pubsub.Client, subscription string, workers int) *PubSubSource {
	sub := client.Subscription(subscription)
	if workers > 0 {
		sub.ReceiveSettings.NumGoroutines = workers
		sub.ReceiveSettings.MaxOutstandingMessages = workers * 10
	}
	return &PubSubSource{sub: sub}
}

func (s *PubSubSource) Name() string { return "pubsub" }

func (s *PubSubSource) Receive(ctx context.Context, handle func(context.Context, Delivery)) error {
	return s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		handle(ctx, Delivery{
			ID:         m.ID,
			Data:       m.Data,
			Attributes: m.Attributes,
			Ack:        m.Ack,
			Nack:       m.Nack,
		})
	})
}

// KafkaReader is satisfied by *kafka.Consumer.
type KafkaReader interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// KafkaSource fans fetched messages out to a fixed number of processors.
// Group offsets are a per-partition high-water mark, so a partition is only
// committed up to its longest fully acked prefix. A nacked message holds the
// commit point of its partition; it and everything fetched after it are
// redelivered after a rebalance or restart.
type KafkaSource struct {
	reader  KafkaReader
	workers int
	offsets *offsetTracker
}

func NewKafkaSource(reader KafkaReader, workers int) *KafkaSource {
	if workers <= 0 {
		workers = 4
	}
	return &KafkaSource{reader: reader, workers: workers, offsets: newOffsetTracker()}
}

func (s *KafkaSource) Name() string { return "kafka" }

func (s *KafkaSource) Receive(ctx context.Context, handle func(context.Context, Delivery)) error {
	msgCh := make(chan kafka.Message, s.workers*2)

	go func() {
		defer close(msgCh)
		for {
			m, err := s.reader.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			// tracked in fetch order, before any processor can ack it
			s.offsets.track(m)
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				s.deliver(ctx, m, handle)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (s *KafkaSource) deliver(ctx context.Context, m kafka.Message, handle func(context.Context, Delivery)) {
	attrs := kafka.Headers(m)
	id := attrs["message_id"]
	if id == "" {
		id = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	handle(ctx, Delivery{
		ID:         id,
		Data:       m.Value,
		Attributes: attrs,
		Ack: func() {
			s.offsets.ack(m, func(upTo kafka.Message) {
				if err := s.reader.Commit(context.WithoutCancel(ctx), upTo); err != nil {
					logger.Log.Warn("kafka commit failed", zap.Int64("offset", upTo.Offset), zap.Error(err))
				}
			})
		},
		Nack: func() {
			logger.Log.Warn("kafka message nacked; partition commit held",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
			)
		},
	})
}

type topicPartition struct {
	topic     string
	partition int
}

type trackedOffset struct {
	msg   kafka.Message
	acked bool
}

// offsetTracker keeps the fetched but not yet committed offsets of every
// partition in fetch order.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[topicPartition][]*trackedOffset
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[topicPartition][]*trackedOffset)}
}

func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tp := topicPartition{m.Topic, m.Partition}
	t.parts[tp] = append(t.parts[tp], &trackedOffset{msg: m})
}

// ack marks m processed and calls commit with the highest message of the
// acked prefix, if the prefix grew. commit runs under the lock so commits of
// one partition never go backwards.
func (t *offsetTracker) ack(m kafka.Message, commit func(kafka.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tp := topicPartition{m.Topic, m.Partition}
	q := t.parts[tp]
	for _, o := range q {
		if o.msg.Offset == m.Offset {
			o.acked = true
			break
		}
	}

	var last *trackedOffset
	for len(q) > 0 && q[0].acked {
		last, q = q[0], q[1:]
	}
	t.parts[tp] = q
	if last != nil {
		commit(last.msg)
	}
}
