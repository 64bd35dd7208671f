package levels

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/observability"
	"market-data-lab/internal/storage"
)

// DefaultLookback is the candle window size when none is requested.
const DefaultLookback = 500

// Service runs zone detection over windows read from the candle store.
// Detection itself is pure; the service owns the windowed read, logging
// and metrics around it.
type Service struct {
	candles storage.CandleStore
	config  Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService creates a new level detection service. Metrics and logger
// are optional.
func NewService(candles storage.CandleStore, config Config, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		candles: candles,
		config:  config.withDefaults(),
		metrics: metrics,
		logger:  logger,
	}
}

// Detect reads the most recent lookback candles for a pair and returns
// the zones found. An empty or short window yields empty zone sets, not
// an error.
func (s *Service) Detect(ctx context.Context, symbol string, tf domain.Timeframe, lookback int) (domain.LevelSet, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	start := time.Now()
	candles, err := s.candles.GetLatest(ctx, symbol, tf, lookback)
	if err != nil {
		if s.metrics != nil {
			s.metrics.LevelRunsTotal.WithLabelValues("error").Inc()
		}
		return domain.LevelSet{}, fmt.Errorf("read candle window: %w", err)
	}

	set := DetectZones(candles, s.config)

	if s.metrics != nil {
		s.metrics.LevelRunsTotal.WithLabelValues("ok").Inc()
		s.metrics.LevelRunDuration.Observe(time.Since(start).Seconds())
		s.metrics.ZonesDetected.WithLabelValues(string(domain.SideSupport)).Add(float64(len(set.Support)))
		s.metrics.ZonesDetected.WithLabelValues(string(domain.SideResistance)).Add(float64(len(set.Resistance)))
	}

	s.logger.Debug("zone detection complete",
		zap.String("symbol", symbol), zap.String("timeframe", string(tf)),
		zap.Int("window", len(candles)),
		zap.Int("support", len(set.Support)), zap.Int("resistance", len(set.Resistance)))

	return set, nil
}
