package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"ohlcv-collector/internal/config"
	interfaces "ohlcv-collector/internal/domain/interfaces"
	"ohlcv-collector/internal/infrastructure/feed"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer is a TickSource reading tick messages from a RabbitMQ fanout
// exchange through an exclusive auto-delete queue.
type Consumer struct {
	cfg    config.RabbitMQConfig
	router *feed.Router
	logger *logrus.Entry

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	wg      sync.WaitGroup
	alive   atomic.Bool
}

var _ interfaces.TickSource = (*Consumer)(nil)

// NewConsumer prepares a consumer for the given configuration.
func NewConsumer(cfg config.RabbitMQConfig, logger *logrus.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if cfg.TicksExchange == "" {
		return nil, errors.New("ticks exchange is required")
	}
	return &Consumer{
		cfg:    cfg,
		router: feed.NewRouter(),
		logger: logger.WithField("component", "rabbitmq_consumer"),
	}, nil
}

func (c *Consumer) Subscribe(channel interfaces.Channel, instrument string, handler interfaces.TickHandler) error {
	return c.router.Subscribe(channel, instrument, handler)
}

// Start establishes the AMQP connection and begins consuming the exchange.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("rabbitmq consumer already running")
	}
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	deliveries, err := c.declare(ch)
	if err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = ch
	c.alive.Store(true)
	c.wg.Add(1)
	go c.consumeLoop(ctx, deliveries)

	c.logger.WithField("exchange", c.cfg.TicksExchange).Info("rabbitmq consumer started")
	return nil
}

func (c *Consumer) declare(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	exchange := c.cfg.TicksExchange
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s to %s: %w", queue.Name, exchange, err)
	}
	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consume: %w", err)
	}
	return deliveries, nil
}

// Stop closes the channel and connection and waits for the consume loop.
func (c *Consumer) Stop() {
	c.mu.Lock()
	ch, conn := c.channel, c.conn
	c.channel, c.conn = nil, nil
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

func (c *Consumer) IsAlive() bool {
	return c.alive.Load()
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	defer c.alive.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			c.handleDelivery(&delivery)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) handleDelivery(delivery *amqp.Delivery) {
	c.process(delivery.Body, delivery)
}

// process dispatches one message body. Malformed payloads are dropped
// without requeue since they would fail again.
func (c *Consumer) process(body []byte, ack acknowledger) {
	tick, err := decodeTick(body)
	if err != nil {
		c.logger.WithError(err).Warn("failed to process message")
		_ = ack.Nack(false, false)
		return
	}
	if !c.router.Dispatch(interfaces.ChannelTrades, tick) {
		c.logger.WithField("instrument", tick.Instrument).Debug("tick for unsubscribed instrument")
	}
	if err := ack.Ack(false); err != nil {
		c.logger.WithError(err).Warn("failed to ack delivery")
	}
}
