package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Workers int
}

// KafkaBus writes every message to one topic keyed by correlation id. Each
// subscribed queue is its own consumer group, so queues see every message
// and filter by the type header.
type KafkaBus struct {
	cfg    KafkaConfig
	writer *kafkago.Writer
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	timers  map[*time.Timer]struct{}
	pending sync.WaitGroup
}

func NewKafkaBus(cfg KafkaConfig, logger *slog.Logger) *KafkaBus {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &KafkaBus{
		cfg: cfg,
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
		},
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
}

func (b *KafkaBus) Publish(ctx context.Context, msg ports.Message) error {
	km, err := toKafkaMessage(msg)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", msg.Type, err)
	}
	return nil
}

// toKafkaMessage keys msg by correlation id so related messages share a
// partition, falling back to the message id.
func toKafkaMessage(msg ports.Message) (kafkago.Message, error) {
	body, err := Encode(msg)
	if err != nil {
		return kafkago.Message{}, err
	}

	key := msg.CorrelationID
	if key == "" {
		key = msg.ID
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: body,
		Time:  msg.OccurredAt,
		Headers: []kafkago.Header{
			{Key: headerType, Value: []byte(msg.Type)},
			{Key: headerAttempt, Value: []byte(strconv.Itoa(msg.Attempt))},
		},
	}, nil
}

// PublishDelayed holds msg on an in-process timer. Kafka has no broker side
// delay, so a restart loses pending requeues.
func (b *KafkaBus) PublishDelayed(ctx context.Context, msg ports.Message, delay time.Duration) error {
	if delay <= 0 {
		return b.Publish(ctx, msg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	b.pending.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer b.pending.Done()
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()

		publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.Publish(publishCtx, msg); err != nil {
			b.logger.Error("delayed publish failed", "type", msg.Type, "message_id", msg.ID, "error", err)
		}
	})
	b.timers[timer] = struct{}{}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, queue string, types []string, handler ports.Handler) error {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		Topic:    b.cfg.Topic,
		GroupID:  b.cfg.GroupID + "." + queue,
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024,
	})
	defer reader.Close()

	b.logger.Info("consumer starting", "topic", b.cfg.Topic, "queue", queue, "workers", b.cfg.Workers)

	// Each partition sticks to one worker, so its offsets are handled and
	// committed in order and a commit never passes a message still in flight.
	jobs := make([]chan kafkago.Message, b.cfg.Workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafkago.Message)
		wg.Add(1)
		go func(in <-chan kafkago.Message) {
			defer wg.Done()
			for m := range in {
				b.process(ctx, queue, reader, types, m, handler)
			}
		}(jobs[i])
	}
	defer wg.Wait()
	defer func() {
		for _, in := range jobs {
			close(in)
		}
	}()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				b.logger.Info("consumer stopping due to context cancellation", "queue", queue)
				return nil
			}
			return fmt.Errorf("kafka: fetch from %s: %w", queue, err)
		}

		select {
		case jobs[partitionWorker(m.Partition, len(jobs))] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func partitionWorker(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// committer is the part of *kafkago.Reader process needs.
type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// process handles m unless its type is not consumed by this queue, then
// commits it. Handler failures still commit; messages cut off by shutdown
// are left uncommitted for the next consumer of the group.
func (b *KafkaBus) process(ctx context.Context, queue string, reader committer, types []string, m kafkago.Message, handler ports.Handler) {
	if !matches(types, headerValue(m.Headers, headerType)) {
		b.commit(ctx, queue, reader, m)
		return
	}

	msg, err := Decode(m.Value)
	if err != nil {
		b.logger.Error("dropping undecodable message",
			"queue", queue,
			"partition", m.Partition,
			"offset", m.Offset,
			"error", err,
		)
		b.commit(ctx, queue, reader, m)
		return
	}

	if err := handler(ctx, msg); err != nil {
		b.logger.Debug("handler returned error", "queue", queue, "message_id", msg.ID, "error", err)
		if ctx.Err() != nil {
			return
		}
	}
	b.commit(ctx, queue, reader, m)
}

func (b *KafkaBus) commit(ctx context.Context, queue string, reader committer, m kafkago.Message) {
	if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		b.logger.Error("commit error",
			"queue", queue,
			"partition", m.Partition,
			"offset", m.Offset,
			"error", err,
		)
	}
}

// Close stops pending delayed publishes and closes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	b.closed = true
	for timer := range b.timers {
		if timer.Stop() {
			b.pending.Done()
		}
		delete(b.timers, timer)
	}
	b.mu.Unlock()

	b.pending.Wait()
	if err := b.writer.Close(); err != nil {
		return fmt.Errorf("kafka: close writer: %w", err)
	}
	return nil
}

func headerValue(headers []kafkago.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
