package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig configures a RabbitMQ queue consumer.
type AMQPConfig struct {
	URL         string
	Queue       string
	Concurrency int
	Logger      *slog.Logger
}

// AMQPSource consumes object-created notifications from a durable queue. The
// broker-side binding (for example a MinIO AMQP notification target) is
// configured outside this process.
type AMQPSource struct {
	url         string
	queue       string
	concurrency int
	logger      *slog.Logger
}

// NewAMQPSource validates cfg and applies defaults.
func NewAMQPSource(cfg AMQPConfig) (*AMQPSource, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url required")
	}
	queue := strings.TrimSpace(cfg.Queue)
	if queue == "" {
		return nil, errors.New("amqp queue required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPSource{url: cfg.URL, queue: queue, concurrency: concurrency, logger: logger}, nil
}

// Run consumes until ctx is done, reconnecting after broker failures.
func (s *AMQPSource) Run(ctx context.Context, handle Handler) error {
	for {
		err := s.consume(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("amqp consumer stopped", "queue", s.queue, "err", err)
		if !sleepWithContext(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (s *AMQPSource) consume(ctx context.Context, handle Handler) error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(s.concurrency, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, s.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	sem := make(chan struct{}, s.concurrency)
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("amqp connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				s.handleDelivery(ctx, d, handle)
			}()
		}
	}
}

// handleDelivery acks processed deliveries and rejects undecodable ones
// without requeue.
func (s *AMQPSource) handleDelivery(ctx context.Context, d amqp.Delivery, handle Handler) {
	evs, err := decodeAMQPBody(d.Body)
	if err != nil {
		s.logger.Warn("drop malformed event", "queue", s.queue, "delivery_tag", d.DeliveryTag, "err", err)
		_ = d.Reject(false)
		return
	}
	for _, ev := range evs {
		if err := handle(ctx, ev); err != nil {
			s.logger.Error("handle event", "queue", s.queue, "key", ev.Key, "err", err)
		}
	}
	_ = d.Ack(false)
}

func decodeAMQPBody(body []byte) ([]ObjectCreated, error) {
	var probe struct {
		Records json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(probe.Records) > 0 {
		return DecodeS3Event(body)
	}
	var ev ObjectCreated
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(ev.Key) == "" {
		return nil, fmt.Errorf("%w: missing key", ErrMalformedEvent)
	}
	return []ObjectCreated{ev}, nil
}
