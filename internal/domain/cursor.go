package domain

import "time"

// IngestionCursor tracks the last successfully ingested candle time for a
// (symbol, timeframe) pair. It is advanced only after a successful batch
// commit, minus a small re-fetch overlap to tolerate late provider
// revisions.
type IngestionCursor struct {
	Symbol    string
	Timeframe Timeframe
	LastTime  time.Time
	UpdatedAt time.Time
}
