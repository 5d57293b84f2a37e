package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appmarketdata "ohlcv-collector/internal/application/service/marketdata"
	"ohlcv-collector/internal/config"
	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"
	"ohlcv-collector/internal/infrastructure/broker"
	"ohlcv-collector/internal/infrastructure/invest"
	inframarketdata "ohlcv-collector/internal/infrastructure/marketdata"
	infrahttp "ohlcv-collector/internal/interfaces/http"
	"ohlcv-collector/internal/observability"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const finalFlushTimeout = 30 * time.Second

var errComponentDied = errors.New("component stopped unexpectedly")

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	app := &cli.App{
		Name:      "collector",
		Usage:     "aggregate trade ticks into multi-timeframe OHLCV candles",
		ArgsUsage: "[instrument ...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "timeframe", Aliases: []string{"t"}, Usage: "timeframe to aggregate (repeatable, default all)"},
			&cli.StringFlag{Name: "store", Usage: "durable store backend: postgres, clickhouse or memory"},
			&cli.StringFlag{Name: "source", Usage: "tick source: invest or rabbitmq"},
			&cli.DurationFlag{Name: "flush-interval", Usage: "flush cycle period"},
			&cli.StringFlag{Name: "flush-cron", Usage: "cron expression overriding the flush interval"},
			&cli.IntFlag{Name: "retention", Usage: "recent periods kept in memory per series after a flush"},
		},
		Action: func(c *cli.Context) error {
			return run(c, logger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.WithError(err).Error("collector exited")
		os.Exit(1)
	}
}

func run(c *cli.Context, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(c, cfg)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	logger.SetLevel(level)

	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	if err := cfg.ValidateSource(); err != nil {
		return err
	}

	timeframes := domain.AllTimeframes
	if len(cfg.Aggregation.Timeframes) > 0 {
		if timeframes, err = domain.ParseTimeframes(cfg.Aggregation.Timeframes); err != nil {
			return err
		}
	}
	catalog, err := domain.NewSeriesCatalog(cfg.Aggregation.Instruments, timeframes)
	if err != nil {
		return err
	}

	repo, err := inframarketdata.OpenRepository(ctx, cfg.Store, true)
	if err != nil {
		return fmt.Errorf("init candle repository: %w", err)
	}
	defer repo.Close()

	schedule, err := flushSchedule(cfg.Aggregation)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics("")
	store := appmarketdata.NewCandleStore()
	aggregator := appmarketdata.NewAggregator(catalog, store, repo, metrics, logger)
	flusher := appmarketdata.NewFlusher(store, repo, appmarketdata.FlushConfig{
		Interval:       cfg.Aggregation.FlushInterval,
		Schedule:       schedule,
		RetentionDepth: cfg.Aggregation.RetentionDepth,
	}, metrics, logger)

	source, err := newTickSource(cfg, logger)
	if err != nil {
		return err
	}
	handler := aggregator.Handler(ctx)
	for _, instrument := range catalog.Instruments() {
		if err := source.Subscribe(interfaces.ChannelTrades, instrument, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", instrument, err)
		}
	}

	redisClient, err := newRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	api := infrahttp.NewHandler(
		appmarketdata.NewService(repo, store, catalog),
		metrics.Handler(),
		map[string]infrahttp.LivenessCheck{
			"flusher": flusher.IsAlive,
			"source":  source.IsAlive,
		},
		redisClient,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
	)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Stopped explicitly once the group returns.
	componentCtx := context.WithoutCancel(ctx)
	if err := flusher.Start(componentCtx); err != nil {
		return err
	}
	if err := source.Start(componentCtx); err != nil {
		flusher.Stop()
		<-flusher.Done()
		return fmt.Errorf("start tick source: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"instruments": len(catalog.Instruments()),
		"timeframes":  len(catalog.Timeframes()),
		"store":       cfg.Store.Backend,
		"source":      cfg.Source.Kind,
	}).Info("collector started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return supervise(gctx, cfg.Aggregation.SuperviseInterval, source, flusher)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	logger.Info("shutting down collector")

	source.Stop()
	flusher.Stop()
	<-flusher.Done()

	flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if err := flusher.Flush(flushCtx); err != nil {
		logger.WithError(err).Error("final flush failed")
		runErr = errors.Join(runErr, err)
	}

	logger.Info("collector stopped")
	return runErr
}

type liveness interface {
	IsAlive() bool
}

// supervise returns an error as soon as the source or the flusher stops, so
// the process exits and gets restarted from outside.
func supervise(ctx context.Context, every time.Duration, source, flusher liveness) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			if !source.IsAlive() {
				return fmt.Errorf("tick source: %w", errComponentDied)
			}
			if !flusher.IsAlive() {
				return fmt.Errorf("flusher: %w", errComponentDied)
			}
		}
	}
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.Args().Present() {
		cfg.Aggregation.Instruments = c.Args().Slice()
	}
	if c.IsSet("timeframe") {
		cfg.Aggregation.Timeframes = c.StringSlice("timeframe")
	}
	if c.IsSet("store") {
		cfg.Store.Backend = c.String("store")
	}
	if c.IsSet("source") {
		cfg.Source.Kind = c.String("source")
	}
	if c.IsSet("flush-interval") {
		cfg.Aggregation.FlushInterval = c.Duration("flush-interval")
	}
	if c.IsSet("flush-cron") {
		cfg.Aggregation.FlushCron = c.String("flush-cron")
	}
	if c.IsSet("retention") {
		cfg.Aggregation.RetentionDepth = c.Int("retention")
	}
}

// flushSchedule parses FLUSH_CRON. Both five-field and seconds-first
// six-field expressions as well as descriptors like @every 10s are accepted.
func flushSchedule(cfg config.AggregationConfig) (cron.Schedule, error) {
	if cfg.FlushCron == "" {
		return nil, nil
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.FlushCron)
	if err != nil {
		return nil, fmt.Errorf("parse FLUSH_CRON: %w", err)
	}
	return schedule, nil
}

func newTickSource(cfg *config.Config, logger *logrus.Logger) (interfaces.TickSource, error) {
	switch cfg.Source.Kind {
	case config.TickSourceInvest:
		return invest.NewSource(invest.Config{
			Token:         cfg.Invest.Token,
			Endpoint:      cfg.Invest.Endpoint,
			AppName:       cfg.Invest.AppName,
			SkipTLSVerify: cfg.Invest.SkipTLSVerify,
		}, logger), nil
	case config.TickSourceRabbitMQ:
		return broker.NewConsumer(cfg.RabbitMQ, logger)
	default:
		return nil, fmt.Errorf("unsupported tick source %q", cfg.Source.Kind)
	}
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
