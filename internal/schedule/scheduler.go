// Package schedule drives ingestion and maintenance on timers: startup
// backfill, intraday refresh, end-of-day reconciliation, retention and
// rollup upkeep. Every job is scoped to one (symbol, timeframe) pair;
// a failing pair never blocks the others.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/ingest"
	"market-data-lab/internal/observability"
	"market-data-lab/internal/storage"
)

// Default configuration values.
const (
	DefaultIntradayInterval       = 5 * time.Minute
	DefaultWorkers                = 4
	DefaultBackfillLookback       = 30 * 24 * time.Hour
	DefaultEODLookback            = 7 * 24 * time.Hour
	DefaultRetention              = 30 * 24 * time.Hour
	DefaultMaxConsecutiveFailures = 5
	DefaultPartitionMonthsAhead   = 12
)

// Pair is one scheduled (symbol, timeframe) ingestion unit.
type Pair struct {
	Symbol    string
	Timeframe domain.Timeframe
	// Calendar gates intraday refresh. Nil means always open.
	Calendar Calendar
}

// PartitionMaintainer is the slice of partition management the scheduler
// drives during maintenance.
type PartitionMaintainer interface {
	EnsureAhead(ctx context.Context, now time.Time, months int) ([]string, error)
	DropBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Options configures a Scheduler.
type Options struct {
	Pipeline *ingest.Pipeline
	Candles  storage.CandleStore
	Pairs    []Pair

	// Refresher rebuilds rollups after end-of-day runs. Optional.
	Refresher *ingest.Refresher
	// RollupBucket is the rollup bucket size. Required when Refresher is set.
	RollupBucket time.Duration
	// Partitions maintains candle table partitions. Optional.
	Partitions PartitionMaintainer

	Metrics *observability.Metrics
	Logger  *zap.Logger

	// IntradayInterval is the refresh cadence inside open sessions.
	IntradayInterval time.Duration
	// EODHourUTC and EODMinuteUTC set the daily reconciliation time.
	EODHourUTC   int
	EODMinuteUTC int
	// Workers bounds how many pairs run concurrently in one cycle.
	Workers int
	// BackfillLookback is how far the startup backfill reaches.
	BackfillLookback time.Duration
	// EODLookback is how far the daily reconciliation re-ingests.
	EODLookback time.Duration
	// Retention is the maximum candle age kept by maintenance.
	Retention time.Duration
	// MaxConsecutiveFailures disables a pair until the next end-of-day
	// run once reached.
	MaxConsecutiveFailures int
}

// pairState tracks one pair's run status. Guarded by Scheduler.mu.
type pairState struct {
	running             bool
	disabled            bool
	consecutiveFailures int
	lastRun             time.Time
	lastErr             error
}

// Scheduler owns the periodic jobs around the ingestion pipeline.
type Scheduler struct {
	opts Options

	mu     sync.Mutex
	states map[string]*pairState
}

// PairStatus is a snapshot of one pair's scheduling state.
type PairStatus struct {
	Symbol              string    `json:"symbol"`
	Timeframe           string    `json:"timeframe"`
	Running             bool      `json:"running"`
	Disabled            bool      `json:"disabled"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastRun             time.Time `json:"last_run,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// New creates a new Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if opts.Candles == nil {
		return nil, fmt.Errorf("candle store is required")
	}
	if len(opts.Pairs) == 0 {
		return nil, fmt.Errorf("at least one pair is required")
	}
	if opts.Refresher != nil && opts.RollupBucket <= 0 {
		return nil, fmt.Errorf("rollup bucket is required with a refresher")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IntradayInterval <= 0 {
		opts.IntradayInterval = DefaultIntradayInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BackfillLookback <= 0 {
		opts.BackfillLookback = DefaultBackfillLookback
	}
	if opts.EODLookback <= 0 {
		opts.EODLookback = DefaultEODLookback
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	states := make(map[string]*pairState, len(opts.Pairs))
	for _, p := range opts.Pairs {
		if !p.Timeframe.Valid() {
			return nil, fmt.Errorf("pair %s: unknown timeframe %q", p.Symbol, p.Timeframe)
		}
		states[pairKey(p)] = &pairState{}
	}

	return &Scheduler{opts: opts, states: states}, nil
}

func pairKey(p Pair) string {
	return p.Symbol + "|" + string(p.Timeframe)
}

// Run performs the startup backfill and then blocks driving the periodic
// jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.RunBackfill(ctx); err != nil {
		return fmt.Errorf("startup backfill: %w", err)
	}

	intraday := time.NewTicker(s.opts.IntradayInterval)
	defer intraday.Stop()

	eod := time.NewTimer(untilNextDaily(time.Now().UTC(), s.opts.EODHourUTC, s.opts.EODMinuteUTC))
	defer eod.Stop()

	// Maintenance runs at midnight UTC, offset from the EOD job.
	maintenance := time.NewTimer(untilNextDaily(time.Now().UTC(), 0, 0))
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-intraday.C:
			s.runIntraday(ctx)
		case <-eod.C:
			s.runEOD(ctx)
			eod.Reset(untilNextDaily(time.Now().UTC(), s.opts.EODHourUTC, s.opts.EODMinuteUTC))
		case <-maintenance.C:
			s.runMaintenance(ctx)
			maintenance.Reset(untilNextDaily(time.Now().UTC(), 0, 0))
		}
	}
}

// RunBackfill fills gaps for every pair from its cursor, or from the
// configured lookback for pairs never ingested.
func (s *Scheduler) RunBackfill(ctx context.Context) error {
	now := time.Now().UTC()
	fallback := now.Add(-s.opts.BackfillLookback)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, pair := range s.opts.Pairs {
		pair := pair
		g.Go(func() error {
			s.runPair(gctx, pair, "backfill", func(runCtx context.Context) error {
				from, err := s.opts.Pipeline.ResumeFrom(runCtx, pair.Symbol, pair.Timeframe, fallback)
				if err != nil {
					return err
				}
				_, err = s.opts.Pipeline.Ingest(runCtx, pair.Symbol, pair.Timeframe, from, time.Now().UTC())
				return err
			})
			// Pair failures are isolated; the backfill as a whole
			// only stops on cancellation.
			return gctx.Err()
		})
	}

	return g.Wait()
}

// runIntraday refreshes every pair whose session is open. Pairs still
// running from a previous tick are skipped, not queued.
func (s *Scheduler) runIntraday(ctx context.Context) {
	now := time.Now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, pair := range s.opts.Pairs {
		pair := pair
		if pair.Calendar != nil && !pair.Calendar.IsOpen(now) {
			continue
		}
		g.Go(func() error {
			s.runPair(gctx, pair, "intraday", func(runCtx context.Context) error {
				from, err := s.opts.Pipeline.ResumeFrom(runCtx, pair.Symbol, pair.Timeframe, now.Add(-s.opts.IntradayInterval*2))
				if err != nil {
					return err
				}
				_, err = s.opts.Pipeline.Ingest(runCtx, pair.Symbol, pair.Timeframe, from, time.Now().UTC())
				return err
			})
			return nil
		})
	}

	g.Wait()
}

// runEOD re-ingests the recent window for every pair regardless of
// session, rebuilds rollups, and gives disabled pairs another chance.
func (s *Scheduler) runEOD(ctx context.Context) {
	now := time.Now().UTC()
	from := now.Add(-s.opts.EODLookback)

	s.mu.Lock()
	for _, st := range s.states {
		if st.disabled {
			st.disabled = false
			st.consecutiveFailures = 0
		}
	}
	s.mu.Unlock()
	s.updateGauges()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, pair := range s.opts.Pairs {
		pair := pair
		g.Go(func() error {
			s.runPair(gctx, pair, "eod", func(runCtx context.Context) error {
				if _, err := s.opts.Pipeline.Ingest(runCtx, pair.Symbol, pair.Timeframe, from, time.Now().UTC()); err != nil {
					return err
				}
				if s.opts.Refresher != nil {
					if _, err := s.opts.Refresher.Refresh(runCtx, pair.Symbol, pair.Timeframe, s.opts.RollupBucket, from, time.Now().UTC()); err != nil {
						return err
					}
				}
				return nil
			})
			return nil
		})
	}

	g.Wait()

	if s.opts.Metrics != nil {
		s.opts.Metrics.LastSuccessfulEOD.SetToCurrentTime()
	}
}

// runMaintenance applies retention and keeps partitions ahead of the
// write frontier. Operates on historical ranges only.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.opts.Retention)
	logger := s.opts.Logger

	purged, err := s.opts.Candles.DeleteBefore(ctx, cutoff)
	if err != nil {
		logger.Error("retention purge failed", zap.Error(err))
	} else if purged > 0 {
		logger.Info("retention purge complete", zap.Int64("candles", purged), zap.Time("cutoff", cutoff))
		if s.opts.Metrics != nil {
			s.opts.Metrics.CandlesPurged.Add(float64(purged))
		}
	}

	if s.opts.Partitions != nil {
		if _, err := s.opts.Partitions.EnsureAhead(ctx, now, DefaultPartitionMonthsAhead); err != nil {
			logger.Error("partition pre-creation failed", zap.Error(err))
		}
		dropped, err := s.opts.Partitions.DropBefore(ctx, cutoff)
		if err != nil {
			logger.Error("partition drop failed", zap.Error(err))
		} else if len(dropped) > 0 {
			logger.Info("dropped expired partitions", zap.Strings("partitions", dropped))
			if s.opts.Metrics != nil {
				s.opts.Metrics.PartitionsDropped.Add(float64(len(dropped)))
			}
		}
	}
}

// runPair executes one job for one pair with overlap skip and failure
// accounting. The job never runs if the pair is disabled or already
// running.
func (s *Scheduler) runPair(ctx context.Context, pair Pair, job string, fn func(context.Context) error) {
	key := pairKey(pair)
	logger := s.opts.Logger.With(
		zap.String("symbol", pair.Symbol),
		zap.String("timeframe", string(pair.Timeframe)),
		zap.String("job", job))

	s.mu.Lock()
	st := s.states[key]
	if st.disabled {
		s.mu.Unlock()
		return
	}
	if st.running {
		s.mu.Unlock()
		logger.Info("previous run still active, skipping cycle")
		if s.opts.Metrics != nil {
			s.opts.Metrics.JobsSkipped.WithLabelValues(job).Inc()
		}
		return
	}
	st.running = true
	s.mu.Unlock()

	start := time.Now()
	err := fn(ctx)

	s.mu.Lock()
	st.running = false
	st.lastRun = start.UTC()
	st.lastErr = err
	if err != nil {
		st.consecutiveFailures++
		if st.consecutiveFailures >= s.opts.MaxConsecutiveFailures {
			st.disabled = true
		}
	} else {
		st.consecutiveFailures = 0
	}
	disabled := st.disabled
	s.mu.Unlock()
	s.updateGauges()

	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.JobRunsTotal.WithLabelValues(job, status).Inc()
		s.opts.Metrics.JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
		if err == nil && job != "backfill" {
			s.opts.Metrics.LastSuccessfulIngestion.SetToCurrentTime()
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("job failed", zap.Error(err))
		if disabled {
			logger.Warn("pair disabled until next end-of-day run",
				zap.Int("consecutive_failures", s.opts.MaxConsecutiveFailures))
		}
	}
}

// Status returns a snapshot of every pair's scheduling state, in the
// order pairs were configured.
func (s *Scheduler) Status() []PairStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PairStatus, 0, len(s.opts.Pairs))
	for _, pair := range s.opts.Pairs {
		st := s.states[pairKey(pair)]
		ps := PairStatus{
			Symbol:              pair.Symbol,
			Timeframe:           string(pair.Timeframe),
			Running:             st.running,
			Disabled:            st.disabled,
			ConsecutiveFailures: st.consecutiveFailures,
			LastRun:             st.lastRun,
		}
		if st.lastErr != nil {
			ps.LastError = st.lastErr.Error()
		}
		out = append(out, ps)
	}
	return out
}

func (s *Scheduler) updateGauges() {
	if s.opts.Metrics == nil {
		return
	}

	s.mu.Lock()
	var failed, disabled int
	for _, st := range s.states {
		if st.consecutiveFailures > 0 {
			failed++
		}
		if st.disabled {
			disabled++
		}
	}
	s.mu.Unlock()

	s.opts.Metrics.PairsFailed.Set(float64(failed))
	s.opts.Metrics.PairsDisabled.Set(float64(disabled))
}

// untilNextDaily returns the duration until the next occurrence of
// hour:minute UTC strictly after now.
func untilNextDaily(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
