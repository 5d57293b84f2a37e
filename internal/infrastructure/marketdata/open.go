package marketdata

import (
	"context"
	"fmt"

	"ohlcv-collector/internal/config"
	interfaces "ohlcv-collector/internal/domain/interfaces"
	"ohlcv-collector/internal/infrastructure/marketdata/clickhouse"
	"ohlcv-collector/internal/infrastructure/marketdata/memory"
)

// OpenRepository connects to the configured backend. When migrate is set the
// candles table is created if missing.
func OpenRepository(ctx context.Context, cfg config.StoreConfig, migrate bool) (interfaces.CandleRepository, error) {
	switch cfg.Backend {
	case config.StoreBackendPostgres:
		repo, err := NewRepository(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				repo.Close()
				return nil, err
			}
		}
		return repo, nil
	case config.StoreBackendClickHouse:
		repo, err := clickhouse.NewRepository(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				repo.Close()
				return nil, err
			}
		}
		return repo, nil
	case config.StoreBackendMemory:
		return memory.NewRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
