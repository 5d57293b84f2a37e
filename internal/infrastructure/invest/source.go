// Package invest is a TickSource backed by the T-Invest market data stream.
package invest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"
	"ohlcv-collector/internal/infrastructure/feed"

	"github.com/google/uuid"
	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config holds the API connection settings.
type Config struct {
	Token         string
	Endpoint      string
	AppName       string
	SkipTLSVerify bool
}

// Source subscribes to exchange trades for every subscribed instrument
// (FIGI or instrument UID) and forwards them as ticks.
type Source struct {
	cfg    Config
	router *feed.Router
	logger *logrus.Logger
	log    *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	alive  atomic.Bool
}

var _ interfaces.TickSource = (*Source)(nil)

func NewSource(cfg Config, logger *logrus.Logger) *Source {
	return &Source{
		cfg:    cfg,
		router: feed.NewRouter(),
		logger: logger,
		log:    logger.WithField("component", "invest_source"),
	}
}

func (s *Source) Subscribe(channel interfaces.Channel, instrument string, handler interfaces.TickHandler) error {
	return s.router.Subscribe(channel, instrument, handler)
}

// Start connects, subscribes to trades and pumps them until Stop or ctx ends.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.alive.Load() {
		return errors.New("invest source already running")
	}
	instruments := s.router.Instruments(interfaces.ChannelTrades)
	if len(instruments) == 0 {
		return errors.New("no instruments subscribed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	client, err := investgo.NewClient(runCtx, investgo.Config{
		EndPoint:           s.cfg.Endpoint,
		Token:              s.cfg.Token,
		AppName:            s.cfg.AppName,
		InsecureSkipVerify: s.cfg.SkipTLSVerify,
	}, s.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("create invest api client: %w", err)
	}

	stream, err := client.NewMarketDataStreamClient().MarketDataStream()
	if err != nil {
		cancel()
		_ = client.Stop()
		return fmt.Errorf("create market data stream: %w", err)
	}
	trades, err := stream.SubscribeTrade(instruments, pb.TradeSourceType_TRADE_SOURCE_EXCHANGE, false)
	if err != nil {
		cancel()
		stream.Stop()
		_ = client.Stop()
		return fmt.Errorf("subscribe trades: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.alive.Store(true)

	go func(done chan struct{}) {
		defer close(done)
		defer s.alive.Store(false)

		g, gctx := errgroup.WithContext(runCtx)
		g.Go(stream.Listen)
		g.Go(func() error {
			defer stream.Stop()
			return s.pump(gctx, trades)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("trade stream stopped")
		}
		if err := client.Stop(); err != nil {
			s.log.WithError(err).Warn("stop invest api client")
		}
	}(s.done)

	s.log.WithField("instruments", len(instruments)).Info("invest source started")
	return nil
}

func (s *Source) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.log.Warn("invest source did not stop in time")
	}
}

func (s *Source) IsAlive() bool {
	return s.alive.Load()
}

func (s *Source) pump(ctx context.Context, trades <-chan *pb.Trade) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trade, ok := <-trades:
			if !ok {
				return errors.New("trade channel closed")
			}
			s.dispatch(trade)
		}
	}
}

func (s *Source) dispatch(trade *pb.Trade) {
	for _, id := range []string{trade.GetInstrumentUid(), trade.GetFigi()} {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		tick, err := convertTrade(trade, id)
		if err != nil {
			s.log.WithError(err).Warn("skip trade")
			return
		}
		if s.router.Dispatch(interfaces.ChannelTrades, tick) {
			return
		}
	}
	s.log.WithField("figi", trade.GetFigi()).Debug("trade for unsubscribed instrument")
}

func convertTrade(msg *pb.Trade, instrument string) (domain.Tick, error) {
	if msg == nil {
		return domain.Tick{}, errors.New("trade payload is nil")
	}
	ts := msg.GetTime()
	if ts == nil {
		return domain.Tick{}, errors.New("trade time is missing")
	}
	if msg.GetQuantity() < 0 {
		return domain.Tick{}, fmt.Errorf("negative quantity %d", msg.GetQuantity())
	}
	return domain.Tick{
		ID:         uuid.New(),
		Instrument: instrument,
		Price:      quotationToFloat(msg.GetPrice()),
		Volume:     float64(msg.GetQuantity()),
		Timestamp:  ts.AsTime().UTC().Truncate(domain.TimestampPrecision),
	}, nil
}

func quotationToFloat(q *pb.Quotation) float64 {
	if q == nil {
		return 0
	}
	return q.ToFloat()
}
