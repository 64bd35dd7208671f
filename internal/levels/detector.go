// Package levels finds liquidity zones in a candle window: price bands
// repeatedly visited by swing extremes, scored for likely support and
// resistance. Detection is a pure function of its input window.
package levels

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"market-data-lab/internal/domain"
)

// Config tunes zone detection.
type Config struct {
	// K is the number of neighbors on each side a swing extreme must
	// dominate. Candles within K of the window edge are never swings.
	K int
	// TolerancePct is the maximum price gap between neighboring swing
	// points merged into one zone, as a fraction of the zone midpoint.
	TolerancePct float64
	// MaxZonesPerSide caps how many zones are returned per side.
	MaxZonesPerSide int
	// MinTouches drops zones with fewer swing points.
	MinTouches int
	// RecencyDecay controls how fast old touches lose weight.
	RecencyDecay float64
	// VolumeBonus is the extra weight for touches whose candle volume
	// exceeds the window median.
	VolumeBonus float64
}

// DefaultConfig returns the default detection tuning.
func DefaultConfig() Config {
	return Config{
		K:               2,
		TolerancePct:    0.02,
		MaxZonesPerSide: 5,
		MinTouches:      1,
		RecencyDecay:    2.0,
		VolumeBonus:     0.25,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.K <= 0 {
		c.K = def.K
	}
	if c.TolerancePct <= 0 {
		c.TolerancePct = def.TolerancePct
	}
	if c.MaxZonesPerSide <= 0 {
		c.MaxZonesPerSide = def.MaxZonesPerSide
	}
	if c.MinTouches <= 0 {
		c.MinTouches = def.MinTouches
	}
	if c.RecencyDecay <= 0 {
		c.RecencyDecay = def.RecencyDecay
	}
	if c.VolumeBonus < 0 {
		c.VolumeBonus = def.VolumeBonus
	}
	return c
}

// DetectZones finds support and resistance zones in a candle window.
// Candles must be ordered by time ASC. Deterministic for a given input;
// fewer than 2K+1 candles yields empty zone sets.
func DetectZones(candles []*domain.Candle, cfg Config) domain.LevelSet {
	cfg = cfg.withDefaults()

	swings := ExtractSwings(candles, cfg.K)
	if len(swings) == 0 {
		return domain.LevelSet{}
	}

	clusters := cluster(swings, cfg.TolerancePct)

	lastClose := candles[len(candles)-1].Close
	median := medianVolume(candles)

	var set domain.LevelSet
	for _, cl := range clusters {
		if len(cl) < cfg.MinTouches {
			continue
		}
		zone := buildZone(cl, cfg, len(candles), median, lastClose)
		if zone.Side == domain.SideSupport {
			set.Support = append(set.Support, zone)
		} else {
			set.Resistance = append(set.Resistance, zone)
		}
	}

	set.Support = selectTop(set.Support, cfg.MaxZonesPerSide, lastClose)
	set.Resistance = selectTop(set.Resistance, cfg.MaxZonesPerSide, lastClose)
	return set
}

// ExtractSwings finds swing highs and lows: candles whose high (low) is
// the strict extreme among the k neighbors on each side. Edge candles
// without k neighbors on both sides are excluded.
func ExtractSwings(candles []*domain.Candle, k int) []domain.SwingPoint {
	if k <= 0 || len(candles) < 2*k+1 {
		return nil
	}

	var swings []domain.SwingPoint
	for i := k; i < len(candles)-k; i++ {
		isHigh := true
		isLow := true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if !candles[i].High.GreaterThan(candles[j].High) {
				isHigh = false
			}
			if !candles[i].Low.LessThan(candles[j].Low) {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			swings = append(swings, domain.SwingPoint{
				Time:   candles[i].Time,
				Price:  candles[i].High,
				Kind:   domain.SwingHigh,
				Volume: candles[i].Volume,
				Index:  i,
			})
		}
		if isLow {
			swings = append(swings, domain.SwingPoint{
				Time:   candles[i].Time,
				Price:  candles[i].Low,
				Kind:   domain.SwingLow,
				Volume: candles[i].Volume,
				Index:  i,
			})
		}
	}

	return swings
}

// cluster merges price-sorted swing points into zones: a point joins the
// current zone while its gap to the previous member stays within
// tolerance of the zone's running midpoint.
func cluster(swings []domain.SwingPoint, tolerancePct float64) [][]domain.SwingPoint {
	sorted := make([]domain.SwingPoint, len(swings))
	copy(sorted, swings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Price.Equal(sorted[j].Price) {
			return sorted[i].Price.LessThan(sorted[j].Price)
		}
		return sorted[i].Index < sorted[j].Index
	})

	var clusters [][]domain.SwingPoint
	var current []domain.SwingPoint

	for _, sp := range sorted {
		if len(current) == 0 {
			current = []domain.SwingPoint{sp}
			continue
		}

		low, _ := current[0].Price.Float64()
		high, _ := current[len(current)-1].Price.Float64()
		midpoint := (low + high) / 2

		prev, _ := current[len(current)-1].Price.Float64()
		price, _ := sp.Price.Float64()

		if price-prev <= tolerancePct*midpoint {
			current = append(current, sp)
		} else {
			clusters = append(clusters, current)
			current = []domain.SwingPoint{sp}
		}
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}

	return clusters
}

// buildZone scores and classifies one cluster. Strength sums per-touch
// weights, so adding a touch, or making one more recent or higher
// volume, never lowers it.
func buildZone(cl []domain.SwingPoint, cfg Config, windowLen int, medianVol, lastClose decimal.Decimal) domain.LiquidityZone {
	low := cl[0].Price
	high := cl[len(cl)-1].Price
	representative := low.Add(high).Div(decimal.NewFromInt(2))

	byAge := make([]domain.SwingPoint, len(cl))
	copy(byAge, cl)
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].Index < byAge[j].Index })

	var strength float64
	zone := domain.LiquidityZone{
		PriceLow:            low,
		PriceHigh:           high,
		RepresentativePrice: representative,
		TouchCount:          len(cl),
	}
	for _, sp := range byAge {
		age := float64(windowLen - 1 - sp.Index)
		recency := math.Exp(-cfg.RecencyDecay * age / float64(windowLen))
		weight := 1.0
		if sp.Volume.GreaterThan(medianVol) {
			weight += cfg.VolumeBonus
		}
		strength += recency * weight
		zone.ContributingTimes = append(zone.ContributingTimes, sp.Time)
	}
	zone.Strength = strength

	// A zone straddling the close is classified by where its
	// representative price lands.
	if representative.LessThanOrEqual(lastClose) {
		zone.Side = domain.SideSupport
	} else {
		zone.Side = domain.SideResistance
	}

	return zone
}

// selectTop keeps the strongest max zones, ties broken by proximity to
// the current close.
func selectTop(zones []domain.LiquidityZone, max int, lastClose decimal.Decimal) []domain.LiquidityZone {
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Strength != zones[j].Strength {
			return zones[i].Strength > zones[j].Strength
		}
		di := zones[i].RepresentativePrice.Sub(lastClose).Abs()
		dj := zones[j].RepresentativePrice.Sub(lastClose).Abs()
		return di.LessThan(dj)
	})

	if len(zones) > max {
		zones = zones[:max]
	}
	return zones
}

// medianVolume returns the median candle volume of the window.
func medianVolume(candles []*domain.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}

	volumes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	sort.Slice(volumes, func(i, j int) bool {
		return volumes[i].LessThan(volumes[j])
	})

	mid := len(volumes) / 2
	if len(volumes)%2 == 1 {
		return volumes[mid]
	}
	return volumes[mid-1].Add(volumes[mid]).Div(decimal.NewFromInt(2))
}
