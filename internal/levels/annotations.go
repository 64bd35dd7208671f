package levels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"market-data-lab/internal/domain"
	"market-data-lab/internal/storage"
)

// zonePayload is the annotation body written for a confirmed zone. The
// annotation store treats it as opaque; this is the producer side of the
// contract with the charting layer.
type zonePayload struct {
	Kind       string    `json:"kind"`
	Timeframe  string    `json:"timeframe"`
	Side       string    `json:"side"`
	PriceLow   string    `json:"price_low"`
	PriceHigh  string    `json:"price_high"`
	Price      string    `json:"price"`
	Strength   float64   `json:"strength"`
	TouchCount int       `json:"touch_count"`
	DetectedAt time.Time `json:"detected_at"`
}

// PublishAnnotations writes one annotation per zone in the set. Called
// by the outward layer once a detection result is confirmed; returns the
// IDs written.
func PublishAnnotations(ctx context.Context, store storage.AnnotationStore, symbol string, tf domain.Timeframe, set domain.LevelSet) ([]string, error) {
	now := time.Now().UTC()

	var ids []string
	publish := func(zones []domain.LiquidityZone) error {
		for _, z := range zones {
			payload, err := json.Marshal(zonePayload{
				Kind:       "liquidity_zone",
				Timeframe:  string(tf),
				Side:       string(z.Side),
				PriceLow:   z.PriceLow.String(),
				PriceHigh:  z.PriceHigh.String(),
				Price:      z.RepresentativePrice.String(),
				Strength:   z.Strength,
				TouchCount: z.TouchCount,
				DetectedAt: now,
			})
			if err != nil {
				return fmt.Errorf("marshal zone payload: %w", err)
			}

			id := uuid.NewString()
			err = store.Insert(ctx, &domain.Annotation{
				ID:        id,
				Symbol:    symbol,
				Payload:   payload,
				CreatedAt: now,
			})
			if err != nil {
				return fmt.Errorf("insert zone annotation: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	}

	if err := publish(set.Support); err != nil {
		return ids, err
	}
	if err := publish(set.Resistance); err != nil {
		return ids, err
	}
	return ids, nil
}
