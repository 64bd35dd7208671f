package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/ingest"
	"market-data-lab/internal/storage/memory"
)

// scriptedSource counts fetches per symbol and fails the configured ones
// with a permanent error, so runs finish without retry delays.
type scriptedSource struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool

	// block, when set, parks every fetch until released. started is
	// closed on the first parked call.
	block   bool
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		calls:   make(map[string]int),
		fail:    make(map[string]bool),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *scriptedSource) FetchKlines(ctx context.Context, symbol string, _ domain.Timeframe, _, _ time.Time, _ int) ([]*domain.RawCandle, error) {
	s.mu.Lock()
	s.calls[symbol]++
	shouldFail := s.fail[symbol]
	block := s.block
	s.mu.Unlock()

	if block {
		s.once.Do(func() { close(s.started) })
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if shouldFail {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func (s *scriptedSource) callCount(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

func newTestScheduler(t *testing.T, src *scriptedSource, mutate func(*Options)) *Scheduler {
	t.Helper()

	candles := memory.NewCandleStore()
	pipeline, err := ingest.NewPipeline(ingest.Options{
		Source:  src,
		Candles: candles,
		Cursors: memory.NewCursorStore(),
		Retry:   ingest.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)

	opts := Options{
		Pipeline: pipeline,
		Candles:  candles,
		Pairs: []Pair{
			{Symbol: "BTCUSDT", Timeframe: domain.Timeframe1h},
		},
		Workers: 2,
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func pairStatus(t *testing.T, s *Scheduler, symbol string) PairStatus {
	t.Helper()
	for _, ps := range s.Status() {
		if ps.Symbol == symbol {
			return ps
		}
	}
	t.Fatalf("no status for %s", symbol)
	return PairStatus{}
}

func TestScheduler_OverlapSkipsCycle(t *testing.T) {
	src := newScriptedSource()
	src.block = true

	s := newTestScheduler(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.RunBackfill(ctx) }()

	<-src.started
	assert.True(t, pairStatus(t, s, "BTCUSDT").Running)

	// A new cycle arriving while the pair still runs is skipped, not
	// queued: no second fetch happens.
	s.runIntraday(ctx)
	assert.Equal(t, 1, src.callCount("BTCUSDT"))

	close(src.release)
	require.NoError(t, <-done)

	st := pairStatus(t, s, "BTCUSDT")
	assert.False(t, st.Running)
	assert.Empty(t, st.LastError)
}

func TestScheduler_FailureIsolation(t *testing.T) {
	src := newScriptedSource()
	src.fail["BTCUSDT"] = true

	s := newTestScheduler(t, src, func(o *Options) {
		o.Pairs = []Pair{
			{Symbol: "BTCUSDT", Timeframe: domain.Timeframe1h},
			{Symbol: "ETHUSDT", Timeframe: domain.Timeframe1h},
		}
	})

	require.NoError(t, s.RunBackfill(context.Background()))

	btc := pairStatus(t, s, "BTCUSDT")
	assert.Equal(t, 1, btc.ConsecutiveFailures)
	assert.Contains(t, btc.LastError, "boom")

	eth := pairStatus(t, s, "ETHUSDT")
	assert.Zero(t, eth.ConsecutiveFailures)
	assert.Empty(t, eth.LastError)
	assert.Equal(t, 1, src.callCount("ETHUSDT"))
}

func TestScheduler_DisablesAfterMaxFailures(t *testing.T) {
	src := newScriptedSource()
	src.fail["BTCUSDT"] = true

	s := newTestScheduler(t, src, func(o *Options) {
		o.MaxConsecutiveFailures = 2
	})

	ctx := context.Background()

	s.runIntraday(ctx)
	assert.False(t, pairStatus(t, s, "BTCUSDT").Disabled)

	s.runIntraday(ctx)
	assert.True(t, pairStatus(t, s, "BTCUSDT").Disabled)
	assert.Equal(t, 2, src.callCount("BTCUSDT"))

	// Disabled pairs sit out intraday cycles entirely.
	s.runIntraday(ctx)
	assert.Equal(t, 2, src.callCount("BTCUSDT"))
}

func TestScheduler_EODReenablesDisabledPairs(t *testing.T) {
	src := newScriptedSource()
	src.fail["BTCUSDT"] = true

	s := newTestScheduler(t, src, func(o *Options) {
		o.MaxConsecutiveFailures = 1
	})

	ctx := context.Background()

	s.runIntraday(ctx)
	assert.True(t, pairStatus(t, s, "BTCUSDT").Disabled)

	// The end-of-day run clears the disable flag and tries again.
	src.mu.Lock()
	src.fail["BTCUSDT"] = false
	src.mu.Unlock()

	s.runEOD(ctx)

	st := pairStatus(t, s, "BTCUSDT")
	assert.False(t, st.Disabled)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, 2, src.callCount("BTCUSDT"))
}

func TestScheduler_IntradayHonorsCalendar(t *testing.T) {
	src := newScriptedSource()

	closed := &SessionCalendar{
		Location:  time.UTC,
		Days:      map[time.Weekday]bool{},
		OpenHour:  9,
		CloseHour: 16,
	}

	s := newTestScheduler(t, src, func(o *Options) {
		o.Pairs = []Pair{
			{Symbol: "AAPL", Timeframe: domain.Timeframe1h, Calendar: closed},
			{Symbol: "BTCUSDT", Timeframe: domain.Timeframe1h, Calendar: AlwaysOpen{}},
		}
	})

	s.runIntraday(context.Background())

	assert.Zero(t, src.callCount("AAPL"))
	assert.Equal(t, 1, src.callCount("BTCUSDT"))
}

func TestScheduler_RunBackfillStopsOnCancel(t *testing.T) {
	src := newScriptedSource()
	src.block = true

	s := newTestScheduler(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.RunBackfill(ctx) }()

	<-src.started
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	src := newScriptedSource()
	candles := memory.NewCandleStore()
	pipeline, err := ingest.NewPipeline(ingest.Options{
		Source:  src,
		Candles: candles,
		Cursors: memory.NewCursorStore(),
	})
	require.NoError(t, err)

	_, err = New(Options{Pipeline: pipeline, Candles: candles})
	assert.Error(t, err, "pairs are required")

	_, err = New(Options{
		Pipeline: pipeline,
		Candles:  candles,
		Pairs:    []Pair{{Symbol: "BTCUSDT", Timeframe: "2h"}},
	})
	assert.Error(t, err, "timeframe must be known")
}

func TestUntilNextDaily(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 10*time.Hour+45*time.Minute, untilNextDaily(now, 20, 45))

	// Already past today's slot: schedule tomorrow's.
	now = time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
	assert.Equal(t, 23*time.Hour+45*time.Minute, untilNextDaily(now, 20, 45))

	// Exactly at the slot counts as past.
	now = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 24*time.Hour, untilNextDaily(now, 0, 0))
}
