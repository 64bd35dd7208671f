package ingest

// Report summarizes one ingestion run for a (symbol, timeframe) pair.
type Report struct {
	// Pages is the number of source fetches performed.
	Pages int
	// Fetched is the number of raw candles the source returned.
	Fetched int
	// Dropped is the number of candles rejected by validation.
	Dropped int
	// Inserted is the number of new rows written.
	Inserted int
	// Updated is the number of existing rows overwritten.
	Updated int
}

// Add accumulates another report into this one.
func (r *Report) Add(other Report) {
	r.Pages += other.Pages
	r.Fetched += other.Fetched
	r.Dropped += other.Dropped
	r.Inserted += other.Inserted
	r.Updated += other.Updated
}
