package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAcknowledger struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func delivery(t *testing.T, ack amqp.Acknowledger) amqp.Delivery {
	t.Helper()
	body, err := Encode(sampleMessage())
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}
}

func TestRabbitMQ_DeliverySettlement(t *testing.T) {
	bus := &RabbitMQBus{logger: discardLogger()}
	failing := func(context.Context, ports.Message) error { return errors.New("boom") }

	t.Run("handled message is acked", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		called := false
		bus.process(context.Background(), "q", delivery(t, ack), func(context.Context, ports.Message) error {
			called = true
			return nil
		})
		assert.True(t, called)
		assert.Equal(t, 1, ack.acks)
		assert.Zero(t, ack.nacks)
	})

	t.Run("handler failure is still acked", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		bus.process(context.Background(), "q", delivery(t, ack), failing)
		assert.Equal(t, 1, ack.acks)
		assert.Zero(t, ack.nacks)
	})

	t.Run("undecodable body is acked", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("not json")}
		bus.process(context.Background(), "q", d, func(context.Context, ports.Message) error {
			t.Fatal("handler must not run")
			return nil
		})
		assert.Equal(t, 1, ack.acks)
	})

	t.Run("handler cut off by shutdown is requeued", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		ctx, cancel := context.WithCancel(context.Background())
		bus.process(ctx, "q", delivery(t, ack), func(ctx context.Context, _ ports.Message) error {
			cancel()
			return ctx.Err()
		})
		assert.Zero(t, ack.acks)
		assert.Equal(t, 1, ack.nacks)
		assert.True(t, ack.requeued)
	})
}

type fakeCommitter struct {
	committed []int64
}

func (f *fakeCommitter) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func kafkaMessage(t *testing.T, offset int64) kafkago.Message {
	t.Helper()
	km, err := toKafkaMessage(sampleMessage())
	require.NoError(t, err)
	km.Offset = offset
	return km
}

func TestKafka_ProcessCommits(t *testing.T) {
	bus := &KafkaBus{logger: discardLogger()}
	types := []string{"lending.create-requested"}

	t.Run("commits after the handler", func(t *testing.T) {
		c := &fakeCommitter{}
		var seen []int64
		handler := func(context.Context, ports.Message) error {
			seen = append(seen, int64(len(c.committed)))
			return nil
		}
		bus.process(context.Background(), "q", c, types, kafkaMessage(t, 4), handler)
		assert.Equal(t, []int64{0}, seen, "nothing committed while handling")
		assert.Equal(t, []int64{4}, c.committed)
	})

	t.Run("other types are committed without handling", func(t *testing.T) {
		c := &fakeCommitter{}
		bus.process(context.Background(), "q", c, []string{"book.created"}, kafkaMessage(t, 5),
			func(context.Context, ports.Message) error {
				t.Fatal("handler must not run")
				return nil
			})
		assert.Equal(t, []int64{5}, c.committed)
	})

	t.Run("handler cut off by shutdown is left uncommitted", func(t *testing.T) {
		c := &fakeCommitter{}
		ctx, cancel := context.WithCancel(context.Background())
		bus.process(ctx, "q", c, types, kafkaMessage(t, 6), func(ctx context.Context, _ ports.Message) error {
			cancel()
			return ctx.Err()
		})
		assert.Empty(t, c.committed)
	})
}

func TestKafka_PartitionsStickToOneWorker(t *testing.T) {
	for partition := 0; partition < 12; partition++ {
		w := partitionWorker(partition, 4)
		assert.Equal(t, w, partitionWorker(partition, 4))
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 4)
	}
	assert.Equal(t, 0, partitionWorker(7, 1))
	assert.NotEqual(t, partitionWorker(0, 4), partitionWorker(1, 4), "neighbouring partitions spread out")
}
