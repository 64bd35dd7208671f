package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"market-data-lab/internal/cache"
	"market-data-lab/internal/domain"
	"market-data-lab/internal/observability"
	"market-data-lab/internal/provider"
	"market-data-lab/internal/storage"
)

// DefaultPageLimit is the fetch page size when none is configured.
const DefaultPageLimit = 1000

// Options configures a Pipeline.
type Options struct {
	Source  provider.KlineSource
	Candles storage.CandleStore
	Cursors storage.CursorStore

	// Cache is notified after successful writes. Optional.
	Cache cache.Invalidator
	// Metrics receives ingestion counters. Optional.
	Metrics *observability.Metrics
	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Retry controls backoff for transient source failures.
	Retry RetryConfig
	// PageLimit caps candles per source fetch.
	PageLimit int
}

// Pipeline moves candles from a source into the store: fetch, normalize,
// validate, dedup, upsert, advance cursor. Each page is committed before
// the next fetch, so a failure mid-range loses nothing already written.
type Pipeline struct {
	source  provider.KlineSource
	candles storage.CandleStore
	cursors storage.CursorStore
	cache   cache.Invalidator
	metrics *observability.Metrics
	logger  *zap.Logger
	retryer *Retryer
	pageLim int
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if opts.Candles == nil {
		return nil, fmt.Errorf("candle store is required")
	}
	if opts.Cursors == nil {
		return nil, fmt.Errorf("cursor store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultPageLimit
	}

	return &Pipeline{
		source:  opts.Source,
		candles: opts.Candles,
		cursors: opts.Cursors,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		retryer: NewRetryer(opts.Retry, opts.Logger),
		pageLim: opts.PageLimit,
	}, nil
}

// ResumeFrom returns where ingestion for a pair should restart: the cursor
// minus one timeframe of overlap, so a revised final candle is re-fetched.
// Falls back to the given time when the pair has never been ingested.
func (p *Pipeline) ResumeFrom(ctx context.Context, symbol string, tf domain.Timeframe, fallback time.Time) (time.Time, error) {
	cur, err := p.cursors.Get(ctx, symbol, tf)
	if err != nil {
		if err == storage.ErrNotFound {
			return fallback.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}

	from := cur.LastTime.Add(-tf.Duration())
	if from.Before(fallback) {
		from = fallback
	}
	return from.UTC(), nil
}

// Ingest pulls all candles for a pair with open times in [from, to),
// page by page, and commits each page before fetching the next.
func (p *Pipeline) Ingest(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) (Report, error) {
	var report Report

	if !tf.Valid() {
		return report, fmt.Errorf("unknown timeframe %q: %w", tf, storage.ErrInvalidInput)
	}
	if !from.Before(to) {
		return report, nil
	}

	cursor := from
	for cursor.Before(to) {
		var raws []*domain.RawCandle
		fetch := func() error {
			var err error
			raws, err = p.source.FetchKlines(ctx, symbol, tf, cursor, to, p.pageLim)
			return err
		}
		name := fmt.Sprintf("fetch %s %s", symbol, tf)
		if err := p.retryer.Execute(ctx, name, provider.IsTransient, fetch); err != nil {
			p.observeFailure(symbol, tf)
			return report, fmt.Errorf("fetch klines from %s: %w", cursor.Format(time.RFC3339), err)
		}
		report.Pages++
		report.Fetched += len(raws)

		if len(raws) == 0 {
			break
		}

		pageReport, err := p.commit(ctx, symbol, tf, raws)
		report.Add(pageReport)
		if err != nil {
			p.observeFailure(symbol, tf)
			return report, err
		}

		last := time.UnixMilli(raws[len(raws)-1].OpenTimeMs).UTC()
		next := last.Add(tf.Duration())
		if !next.After(cursor) {
			// A page that fails to advance would loop forever.
			break
		}
		cursor = next
	}

	p.logger.Info("ingestion run complete",
		zap.String("symbol", symbol), zap.String("timeframe", string(tf)),
		zap.Int("pages", report.Pages), zap.Int("fetched", report.Fetched),
		zap.Int("inserted", report.Inserted), zap.Int("updated", report.Updated),
		zap.Int("dropped", report.Dropped))

	return report, nil
}

// IngestPrefetched commits candles already fetched elsewhere, typically a
// live stream. Same normalize, validate, dedup and cursor semantics as
// Ingest.
func (p *Pipeline) IngestPrefetched(ctx context.Context, symbol string, tf domain.Timeframe, raws []*domain.RawCandle) (Report, error) {
	var report Report
	if !tf.Valid() {
		return report, fmt.Errorf("unknown timeframe %q: %w", tf, storage.ErrInvalidInput)
	}
	if len(raws) == 0 {
		return report, nil
	}
	report.Fetched = len(raws)

	pageReport, err := p.commit(ctx, symbol, tf, raws)
	report.Add(pageReport)
	return report, err
}

// commit normalizes, validates, dedups and upserts one page, then
// advances the cursor to the newest committed candle.
func (p *Pipeline) commit(ctx context.Context, symbol string, tf domain.Timeframe, raws []*domain.RawCandle) (Report, error) {
	var report Report

	candles := make([]*domain.Candle, 0, len(raws))
	for _, raw := range raws {
		c, err := raw.Normalize(symbol, tf)
		if err != nil {
			report.Dropped++
			p.logger.Warn("dropping unparseable candle",
				zap.String("symbol", symbol), zap.String("timeframe", string(tf)),
				zap.Int64("open_time_ms", raw.OpenTimeMs), zap.Error(err))
			continue
		}
		if err := c.Validate(); err != nil {
			report.Dropped++
			p.logger.Warn("dropping invalid candle",
				zap.String("symbol", symbol), zap.String("timeframe", string(tf)),
				zap.Time("time", c.Time), zap.Error(err))
			continue
		}
		candles = append(candles, c)
	}

	candles = dedup(candles)
	if len(candles) == 0 {
		return report, nil
	}

	result, err := p.candles.UpsertBatch(ctx, candles)
	if err != nil {
		return report, fmt.Errorf("upsert batch: %w", err)
	}
	report.Inserted = result.Inserted
	report.Updated = result.Updated

	last := candles[len(candles)-1].Time
	err = p.cursors.Put(ctx, &domain.IngestionCursor{
		Symbol:    symbol,
		Timeframe: tf,
		LastTime:  last,
	})
	if err != nil {
		return report, fmt.Errorf("advance cursor: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.InvalidateCandles(ctx, symbol, tf); err != nil {
			// Serving a stale cache entry beats failing the run.
			p.logger.Warn("cache invalidation failed",
				zap.String("symbol", symbol), zap.String("timeframe", string(tf)), zap.Error(err))
		}
	}

	if p.metrics != nil {
		p.metrics.CandlesIngested.WithLabelValues(symbol, string(tf)).Add(float64(result.Inserted + result.Updated))
		p.metrics.CandlesDropped.WithLabelValues(symbol, string(tf)).Add(float64(report.Dropped))
	}

	return report, nil
}

func (p *Pipeline) observeFailure(symbol string, tf domain.Timeframe) {
	if p.metrics != nil {
		p.metrics.IngestionFailures.WithLabelValues(symbol, string(tf)).Inc()
	}
}

// dedup collapses candles sharing an open time, keeping the last
// occurrence, and returns the result sorted by time ASC.
func dedup(candles []*domain.Candle) []*domain.Candle {
	byTime := make(map[int64]*domain.Candle, len(candles))
	for _, c := range candles {
		byTime[c.Time.UnixMilli()] = c
	}

	out := make([]*domain.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
