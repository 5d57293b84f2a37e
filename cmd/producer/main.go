package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"ohlcv-collector/internal/config"
	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"
	"ohlcv-collector/internal/infrastructure/broker"
	"ohlcv-collector/internal/infrastructure/invest"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// producer streams exchange trades from the T-Invest API into the RabbitMQ
// ticks exchange consumed by collectors with TICK_SOURCE=rabbitmq.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Invest.Token == "" {
		logger.Fatal("INVEST_TOKEN is required")
	}
	if len(cfg.Aggregation.Instruments) == 0 {
		logger.Fatal("instruments list is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rabbitConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatalf("connect rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	pub, err := broker.NewPublisher(rabbitConn, cfg.RabbitMQ.TicksExchange, "invest", logger)
	if err != nil {
		logger.Fatalf("init publisher: %v", err)
	}
	defer pub.Close()

	source := invest.NewSource(invest.Config{
		Token:         cfg.Invest.Token,
		Endpoint:      cfg.Invest.Endpoint,
		AppName:       cfg.Invest.AppName,
		SkipTLSVerify: cfg.Invest.SkipTLSVerify,
	}, logger)

	publish := func(tick domain.Tick) {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := pub.PublishTick(pubCtx, tick); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).WithField("instrument", tick.Instrument).Error("publish tick")
		}
	}
	for _, instrument := range cfg.Aggregation.Instruments {
		if err := source.Subscribe(interfaces.ChannelTrades, instrument, publish); err != nil {
			logger.Fatalf("subscribe %s: %v", instrument, err)
		}
	}

	if err := source.Start(ctx); err != nil {
		logger.Fatalf("start invest source: %v", err)
	}
	closed := rabbitConn.NotifyClose(make(chan *amqp.Error, 1))

	logger.WithFields(logrus.Fields{
		"instruments": len(cfg.Aggregation.Instruments),
		"exchange":    cfg.RabbitMQ.TicksExchange,
	}).Info("producer started")

	ticker := time.NewTicker(cfg.Aggregation.SuperviseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			source.Stop()
			logger.Info("producer stopped")
			return
		case amqpErr := <-closed:
			source.Stop()
			logger.Fatalf("rabbitmq connection closed: %v", amqpErr)
		case <-ticker.C:
			if !source.IsAlive() {
				logger.Fatal("invest trade stream stopped")
			}
		}
	}
}
