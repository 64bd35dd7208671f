// Package main provides the unified service that runs all components
// together:
// - Scheduler (periodic): backfill, intraday refresh, end-of-day, retention
// - Streaming (optional): live kline updates folded into the same pipeline
// - HTTP API: health, metrics, scheduler status, levels, annotations
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"market-data-lab/internal/cache"
	"market-data-lab/internal/config"
	"market-data-lab/internal/domain"
	"market-data-lab/internal/ingest"
	"market-data-lab/internal/levels"
	"market-data-lab/internal/observability"
	"market-data-lab/internal/provider"
	"market-data-lab/internal/provider/stub"
	"market-data-lab/internal/schedule"
	"market-data-lab/internal/storage"
	chstore "market-data-lab/internal/storage/clickhouse"
	"market-data-lab/internal/storage/memory"
	"market-data-lab/internal/storage/migrations"
	pgstore "market-data-lab/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	stores    *allStores
	pipeline  *ingest.Pipeline
	scheduler *schedule.Scheduler
	levels    *levels.Service
	stream    provider.StreamSource
	pairs     []schedule.Pair

	started time.Time
}

// allStores holds all storage implementations.
type allStores struct {
	candles     storage.CandleStore
	cursors     storage.CursorStore
	annotations storage.AnnotationStore
	rollups     storage.RollupStore
	partitions  schedule.PartitionMaintainer
	invalidator cache.Invalidator
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.App)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics("")

	stores, cleanup, err := createStores(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	source, stream, err := createProvider(cfg.Provider, logger)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	pipeline, err := ingest.NewPipeline(ingest.Options{
		Source:  source,
		Candles: stores.candles,
		Cursors: stores.cursors,
		Cache:   stores.invalidator,
		Metrics: metrics,
		Logger:  logger.Named("ingest"),
		Retry:   ingest.DefaultRetryConfig(),
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	pairs, err := cfg.Scheduler.ParsePairs()
	if err != nil {
		return fmt.Errorf("parse pairs: %w", err)
	}

	var refresher *ingest.Refresher
	if stores.rollups != nil {
		refresher = ingest.NewRefresher(stores.candles, stores.rollups, logger.Named("rollup"))
	}

	scheduler, err := schedule.New(schedule.Options{
		Pipeline:         pipeline,
		Candles:          stores.candles,
		Pairs:            pairs,
		Refresher:        refresher,
		RollupBucket:     cfg.Scheduler.RollupBucket,
		Partitions:       stores.partitions,
		Metrics:          metrics,
		Logger:           logger.Named("schedule"),
		IntradayInterval: cfg.Scheduler.IntradayInterval,
		EODHourUTC:       cfg.Scheduler.EODHourUTC,
		EODMinuteUTC:     cfg.Scheduler.EODMinuteUTC,
		Workers:          cfg.Scheduler.Workers,
		BackfillLookback: cfg.Scheduler.BackfillLookback,
		EODLookback:      cfg.Scheduler.EODLookback,
		Retention:        cfg.Scheduler.Retention,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	levelsService := levels.NewService(stores.candles, levels.Config{
		K:               cfg.Levels.SwingNeighbors,
		TolerancePct:    cfg.Levels.TolerancePct,
		MaxZonesPerSide: cfg.Levels.MaxZonesPerSide,
		MinTouches:      cfg.Levels.MinTouches,
	}, metrics, logger.Named("levels"))

	server := &Server{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		stores:    stores,
		pipeline:  pipeline,
		scheduler: scheduler,
		levels:    levelsService,
		stream:    stream,
		pairs:     pairs,
		started:   time.Now().UTC(),
	}

	// Pre-create partitions before the first write.
	if stores.partitions != nil {
		if _, err := stores.partitions.EnsureAhead(ctx, time.Now().UTC(), schedule.DefaultPartitionMonthsAhead); err != nil {
			return fmt.Errorf("pre-create partitions: %w", err)
		}
	}

	errCh := make(chan error, 3)

	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	if stream != nil {
		go func() {
			if err := server.runStream(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("stream: %w", err)
			}
		}()
	}

	go server.startHTTPServer(ctx, fmt.Sprintf(":%d", cfg.App.Port))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func newLogger(cfg config.AppConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// createStores creates all required stores. Empty DSNs select in-memory
// implementations so the service runs without any infrastructure.
func createStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*allStores, func(), error) {
	stores := &allStores{invalidator: cache.NewNoop()}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN == "" {
		logger.Info("no postgres dsn, using in-memory candle storage")
		stores.candles = memory.NewCandleStore()
		stores.cursors = memory.NewCursorStore()
		stores.annotations = memory.NewAnnotationStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
		}

		stores.candles = pgstore.NewCandleStore(pool)
		stores.cursors = pgstore.NewCursorStore(pool)
		stores.annotations = pgstore.NewAnnotationStore(pool)
		stores.partitions = pgstore.NewPartitionManager(pool)
	}

	if cfg.ClickhouseDSN == "" {
		logger.Info("no clickhouse dsn, using in-memory rollup storage")
		stores.rollups = memory.NewRollupStore()
	} else {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		stores.rollups = chstore.NewRollupStore(conn)
	}

	if cfg.RedisAddr != "" {
		rds, err := cache.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			// The cache is an optimization; run degraded without it.
			logger.Warn("redis unavailable, running without cache invalidation", zap.Error(err))
		} else {
			closers = append(closers, func() { rds.Close() })
			stores.invalidator = rds
		}
	}

	return stores, cleanup, nil
}

// createProvider builds the kline source and, when enabled, the stream.
func createProvider(cfg config.ProviderConfig, logger *zap.Logger) (provider.KlineSource, provider.StreamSource, error) {
	switch cfg.Kind {
	case "stub":
		return stub.NewSource(), nil, nil
	case "binance":
		var opts []provider.BinanceOption
		if cfg.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(cfg.BaseURL))
		}
		source := provider.NewBinanceClient(opts...)

		var stream provider.StreamSource
		if cfg.Stream {
			streamCfg := provider.DefaultStreamConfig()
			if cfg.StreamURL != "" {
				streamCfg.BaseURL = cfg.StreamURL
			}
			stream = provider.NewBinanceStream(streamCfg, logger.Named("stream"))
		}
		return source, stream, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// runStream folds closed live candles into the ingestion pipeline.
func (s *Server) runStream(ctx context.Context) error {
	pairs := make([]provider.Pair, len(s.pairs))
	for i, p := range s.pairs {
		pairs[i] = provider.Pair{Symbol: p.Symbol, Timeframe: p.Timeframe}
	}

	events, err := s.stream.Subscribe(ctx, pairs)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("live stream started", zap.Int("pairs", len(pairs)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if !event.Closed {
				continue
			}
			_, err := s.pipeline.IngestPrefetched(ctx, event.Symbol, event.Timeframe, []*domain.RawCandle{event.Candle})
			if err != nil {
				s.logger.Warn("stream candle commit failed",
					zap.String("symbol", event.Symbol),
					zap.String("timeframe", string(event.Timeframe)),
					zap.Error(err))
			}
		}
	}
}

// startHTTPServer serves health, metrics, status and the thin data API.
func (s *Server) startHTTPServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/levels", s.handleLevels)
	mux.HandleFunc("/annotations", s.handleAnnotations)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("http server error", zap.Error(err))
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status  string                `json:"status"`
	Uptime  string                `json:"uptime"`
	Started time.Time             `json:"started"`
	Pairs   []schedule.PairStatus `json:"pairs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:  "running",
		Uptime:  time.Since(s.started).String(),
		Started: s.started,
		Pairs:   s.scheduler.Status(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleLevels runs zone detection on demand:
// GET /levels?symbol=BTCUSDT&timeframe=1h&lookback=500
func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	tf, err := domain.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lookback := 0
	if v := r.URL.Query().Get("lookback"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &lookback); err != nil {
			http.Error(w, "invalid lookback", http.StatusBadRequest)
			return
		}
	}

	set, err := s.levels.Detect(r.Context(), symbol, tf, lookback)
	if err != nil {
		s.logger.Error("level detection failed", zap.Error(err))
		http.Error(w, "detection failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

// annotationRequest is the POST /annotations body.
type annotationRequest struct {
	Symbol  string          `json:"symbol"`
	Payload json.RawMessage `json:"payload"`
}

// handleAnnotations reads and writes chart annotations:
// GET /annotations?symbol=BTCUSDT&limit=100
// POST /annotations {"symbol": "...", "payload": {...}}
func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
		}

		annotations, err := s.stores.annotations.GetBySymbol(r.Context(), symbol, limit)
		if err != nil {
			s.logger.Error("read annotations failed", zap.Error(err))
			http.Error(w, "read failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(annotations)

	case http.MethodPost:
		var req annotationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if req.Symbol == "" || len(req.Payload) == 0 {
			http.Error(w, "symbol and payload are required", http.StatusBadRequest)
			return
		}

		a := &domain.Annotation{
			ID:        uuid.NewString(),
			Symbol:    req.Symbol,
			Payload:   req.Payload,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.stores.annotations.Insert(r.Context(), a); err != nil {
			s.logger.Error("insert annotation failed", zap.Error(err))
			http.Error(w, "write failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(a)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
