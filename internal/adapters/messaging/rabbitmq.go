package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DanielPopoola/librarian/internal/core/ports"
)

type RabbitMQConfig struct {
	URL      string
	Exchange string
	Prefetch int
}

// RabbitMQBus routes every message through one topic exchange with the
// message type as routing key. Delayed messages wait in a per-type holding
// queue whose dead-letter target is the main exchange.
type RabbitMQBus struct {
	cfg    RabbitMQConfig
	conn   *amqp.Connection
	logger *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	delayMu     sync.Mutex
	delayQueues map[string]struct{}
}

func NewRabbitMQBus(cfg RabbitMQConfig, logger *slog.Logger) (*RabbitMQBus, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.NewConnectionProperties(),
		Dial:       amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open publish channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare exchange %s: %w", cfg.Exchange, err)
	}

	logger.Info("connected to rabbitmq", "exchange", cfg.Exchange, "prefetch", cfg.Prefetch)

	return &RabbitMQBus{
		cfg:         cfg,
		conn:        conn,
		logger:      logger,
		pubCh:       ch,
		delayQueues: make(map[string]struct{}),
	}, nil
}

func (b *RabbitMQBus) Publish(ctx context.Context, msg ports.Message) error {
	publishing, err := toPublishing(msg)
	if err != nil {
		return err
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.pubCh.PublishWithContext(ctx, b.cfg.Exchange, msg.Type, false, false, publishing); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", msg.Type, err)
	}
	return nil
}

func (b *RabbitMQBus) PublishDelayed(ctx context.Context, msg ports.Message, delay time.Duration) error {
	if delay <= 0 {
		return b.Publish(ctx, msg)
	}

	queue, err := b.delayQueue(msg.Type)
	if err != nil {
		return err
	}

	publishing, err := toPublishing(msg)
	if err != nil {
		return err
	}
	publishing.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.pubCh.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("rabbitmq: publish delayed %s: %w", msg.Type, err)
	}
	return nil
}

// delayQueue declares, once per type, the holding queue that dead-letters
// expired messages back onto the exchange under their original routing key.
func (b *RabbitMQBus) delayQueue(msgType string) (string, error) {
	name := b.cfg.Exchange + ".delay." + msgType

	b.delayMu.Lock()
	defer b.delayMu.Unlock()
	if _, ok := b.delayQueues[name]; ok {
		return name, nil
	}

	b.pubMu.Lock()
	_, err := b.pubCh.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    b.cfg.Exchange,
		"x-dead-letter-routing-key": msgType,
	})
	b.pubMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("rabbitmq: declare delay queue %s: %w", name, err)
	}

	b.delayQueues[name] = struct{}{}
	return name, nil
}

// Subscribe declares queue, binds it to types and runs Prefetch workers over
// its deliveries. A delivery is acked once the handler returns, whatever the
// result, so a failing message is never redelivered forever. The exception is
// a handler cut off by shutdown: that delivery is requeued.
func (b *RabbitMQBus) Subscribe(ctx context.Context, queue string, types []string, handler ports.Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", queue, err)
	}
	for _, t := range types {
		if err := ch.QueueBind(queue, t, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("rabbitmq: bind %s to %s: %w", queue, t, err)
		}
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", queue, err)
	}

	b.logger.Info("started consuming messages", "queue", queue, "concurrency", b.cfg.Prefetch)

	var wg sync.WaitGroup
	for i := 0; i < b.cfg.Prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				b.process(ctx, queue, d, handler)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return errors.New("rabbitmq: delivery channel closed for " + queue)
}

func (b *RabbitMQBus) process(ctx context.Context, queue string, d amqp.Delivery, handler ports.Handler) {
	msg, err := Decode(d.Body)
	if err != nil {
		b.logger.Error("dropping undecodable message",
			"queue", queue,
			"message_id", d.MessageId,
			"error", err,
		)
		b.ack(queue, d)
		return
	}

	if err := handler(ctx, msg); err != nil {
		b.logger.Debug("handler returned error", "queue", queue, "message_id", msg.ID, "error", err)
		if ctx.Err() != nil {
			if err := d.Nack(false, true); err != nil {
				b.logger.Error("failed to requeue message",
					"queue", queue,
					"message_id", d.MessageId,
					"error", err,
				)
			}
			return
		}
	}
	b.ack(queue, d)
}

func (b *RabbitMQBus) ack(queue string, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		b.logger.Error("failed to acknowledge message",
			"queue", queue,
			"message_id", d.MessageId,
			"error", err,
		)
	}
}

func (b *RabbitMQBus) Close() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		b.logger.Warn("failed to close publish channel", "error", err)
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("rabbitmq: close connection: %w", err)
	}
	return nil
}

func toPublishing(msg ports.Message) (amqp.Publishing, error) {
	body, err := Encode(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		Headers: amqp.Table{
			headerAttempt: int32(msg.Attempt),
		},
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID,
		CorrelationId: msg.CorrelationID,
		Timestamp:     msg.OccurredAt,
		Type:          msg.Type,
		Body:          body,
	}, nil
}
