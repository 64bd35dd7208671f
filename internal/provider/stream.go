package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-data-lab/internal/domain"
)

// StreamConfig configures WebSocket stream behavior.
type StreamConfig struct {
	// BaseURL is the combined-stream endpoint, without the streams query.
	BaseURL string
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BaseURL:           "wss://stream.binance.com:9443/stream",
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
	}
}

// BinanceStream implements StreamSource using Binance combined kline
// streams over gorilla/websocket. Subscriptions are encoded in the
// connection URL, so reconnecting re-establishes them for free.
type BinanceStream struct {
	config StreamConfig
	logger *zap.Logger
}

// NewBinanceStream creates a new stream source. A nil logger disables
// logging.
func NewBinanceStream(config StreamConfig, logger *zap.Logger) *BinanceStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BinanceStream{config: config, logger: logger}
}

// Compile-time interface check.
var _ StreamSource = (*BinanceStream)(nil)

// Subscribe starts streaming raw candles for the pairs. The returned
// channel closes when ctx is cancelled.
func (s *BinanceStream) Subscribe(ctx context.Context, pairs []Pair) (<-chan StreamEvent, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs to subscribe")
	}

	streams := make([]string, len(pairs))
	for i, p := range pairs {
		if !p.Timeframe.Valid() {
			return nil, fmt.Errorf("unknown timeframe %q for %s", p.Timeframe, p.Symbol)
		}
		streams[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(p.Symbol), p.Timeframe)
	}
	endpoint := fmt.Sprintf("%s?streams=%s", s.config.BaseURL, strings.Join(streams, "/"))

	events := make(chan StreamEvent)
	go s.run(ctx, endpoint, events)

	return events, nil
}

// run owns the connection lifecycle: dial, read until failure, reconnect
// with backoff, until ctx is cancelled.
func (s *BinanceStream) run(ctx context.Context, endpoint string, events chan<- StreamEvent) {
	defer close(events)

	delay := s.config.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx, endpoint)
		if err != nil {
			s.logger.Warn("stream dial failed", zap.Error(err), zap.Duration("retry_in", delay))
		} else {
			delay = s.config.ReconnectDelay
			err = s.readLoop(ctx, conn, events)
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("stream read failed", zap.Error(err), zap.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

func (s *BinanceStream) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

func (s *BinanceStream) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- StreamEvent) error {
	// The server pings; answering keeps the read deadline moving.
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		event, ok, err := parseStreamMessage(data)
		if err != nil {
			s.logger.Warn("skipping malformed stream message", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// klineMessage mirrors the combined-stream kline payload.
type klineMessage struct {
	Data struct {
		Symbol string `json:"s"`
		Kline  struct {
			OpenTimeMs int64  `json:"t"`
			Interval   string `json:"i"`
			Open       string `json:"o"`
			High       string `json:"h"`
			Low        string `json:"l"`
			Close      string `json:"c"`
			Volume     string `json:"v"`
			Closed     bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func parseStreamMessage(data []byte) (StreamEvent, bool, error) {
	var msg klineMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return StreamEvent{}, false, fmt.Errorf("decode stream message: %w", err)
	}
	if msg.Data.Symbol == "" {
		// Subscription acks and other control frames carry no kline.
		return StreamEvent{}, false, nil
	}

	tf, err := domain.ParseTimeframe(msg.Data.Kline.Interval)
	if err != nil {
		return StreamEvent{}, false, err
	}

	return StreamEvent{
		Symbol:    msg.Data.Symbol,
		Timeframe: tf,
		Closed:    msg.Data.Kline.Closed,
		Candle: &domain.RawCandle{
			OpenTimeMs: msg.Data.Kline.OpenTimeMs,
			Open:       msg.Data.Kline.Open,
			High:       msg.Data.Kline.High,
			Low:        msg.Data.Kline.Low,
			Close:      msg.Data.Kline.Close,
			Volume:     msg.Data.Kline.Volume,
		},
	}, true, nil
}
