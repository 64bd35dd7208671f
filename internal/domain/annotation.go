package domain

import (
	"encoding/json"
	"time"
)

// Annotation is an externally-owned visual marker keyed by symbol. The
// payload is opaque to the core: geometry, style and label belong to the
// charting layer.
type Annotation struct {
	ID        string
	Symbol    string
	Payload   json.RawMessage
	CreatedAt time.Time
}
