// Package rates derives market exchange rates from recorded conversions.
// Every rate is LBP per USD, volume-weighted by the USD leg of each
// conversion.
package rates

import (
	"context"
	"sort"
	"time"

	"github.com/hkanaan/sarraf/internal/apperr"
	"github.com/hkanaan/sarraf/internal/db"
	"github.com/hkanaan/sarraf/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultWindow is the trailing window for the current-rate endpoint.
const DefaultWindow = 72 * time.Hour

const (
	IntervalHourly = "hourly"
	IntervalDaily  = "daily"
)

// Service computes rate statistics from the transactions table.
type Service struct {
	db *db.DB
}

// NewService creates a rate service backed by database.
func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

// Pair holds one rate per conversion direction. A side is nil when no
// conversions exist for it in the window.
type Pair struct {
	USDToLBP *decimal.Decimal `json:"usd_to_lbp"`
	LBPToUSD *decimal.Decimal `json:"lbp_to_usd"`
}

// Stats summarizes one direction over a window.
type Stats struct {
	Min         *decimal.Decimal `json:"min"`
	Max         *decimal.Decimal `json:"max"`
	WeightedAvg *decimal.Decimal `json:"weighted_avg"`
	PctChange   decimal.Decimal  `json:"pct_change"`
}

// Point is one bucket of a rate series.
type Point struct {
	Timestamp time.Time       `json:"timestamp"`
	Rate      decimal.Decimal `json:"rate"`
}

// Current returns volume-weighted average rates over the trailing window.
func (s *Service) Current(ctx context.Context) (*Pair, error) {
	end := time.Now().UTC()
	start := end.Add(-DefaultWindow)

	usdTxns, lbpTxns, err := s.window(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return &Pair{
		USDToLBP: weightedAvg(weightedRates(usdTxns)),
		LBPToUSD: weightedAvg(weightedRates(lbpTxns)),
	}, nil
}

// Analytics returns min/max/weighted-average/percent-change per direction
// for [start, end].
func (s *Service) Analytics(ctx context.Context, start, end time.Time) (usdToLBP, lbpToUSD Stats, err error) {
	usdTxns, lbpTxns, err := s.window(ctx, start, end)
	if err != nil {
		return Stats{}, Stats{}, err
	}
	return stats(weightedRates(usdTxns)), stats(weightedRates(lbpTxns)), nil
}

// History returns one volume-weighted rate per hourly or daily bucket for
// each direction. Any interval other than "hourly" buckets by day.
func (s *Service) History(ctx context.Context, start, end time.Time, interval string) (usdToLBP, lbpToUSD []Point, err error) {
	usdTxns, lbpTxns, err := s.window(ctx, start, end)
	if err != nil {
		return nil, nil, err
	}

	bucket := func(t time.Time) time.Time {
		return t.UTC().Truncate(24 * time.Hour)
	}
	if interval == IntervalHourly {
		bucket = func(t time.Time) time.Time {
			return t.UTC().Truncate(time.Hour)
		}
	}
	return series(usdTxns, bucket), series(lbpTxns, bucket), nil
}

// window fetches both directions for [start, end]. The end bound is pushed
// out a day so a same-day range still covers that day's conversions.
func (s *Service) window(ctx context.Context, start, end time.Time) (usdTxns, lbpTxns []models.Transaction, err error) {
	end = end.Add(24 * time.Hour)

	usdTxns, err = s.db.GetTransactionsBetween(ctx, start, end, true)
	if err != nil {
		return nil, nil, apperr.Internal("could not load conversions", err)
	}
	lbpTxns, err = s.db.GetTransactionsBetween(ctx, start, end, false)
	if err != nil {
		return nil, nil, apperr.Internal("could not load conversions", err)
	}
	return usdTxns, lbpTxns, nil
}

type weightedRate struct {
	rate   decimal.Decimal
	weight decimal.Decimal // the USD leg
}

func weightedRates(txns []models.Transaction) []weightedRate {
	rates := make([]weightedRate, 0, len(txns))
	for _, t := range txns {
		if t.USDAmount.IsZero() {
			continue
		}
		rates = append(rates, weightedRate{
			rate:   t.LBPAmount.Div(t.USDAmount),
			weight: t.USDAmount,
		})
	}
	return rates
}

func weightedAvg(rates []weightedRate) *decimal.Decimal {
	totalWeight := decimal.Zero
	weightedSum := decimal.Zero
	for _, r := range rates {
		totalWeight = totalWeight.Add(r.weight)
		weightedSum = weightedSum.Add(r.rate.Mul(r.weight))
	}
	if totalWeight.IsZero() {
		return nil
	}
	avg := weightedSum.Div(totalWeight)
	return &avg
}

func stats(rates []weightedRate) Stats {
	st := Stats{WeightedAvg: weightedAvg(rates)}
	if len(rates) == 0 {
		return st
	}

	min, max := rates[0].rate, rates[0].rate
	for _, r := range rates[1:] {
		if r.rate.LessThan(min) {
			min = r.rate
		}
		if r.rate.GreaterThan(max) {
			max = r.rate
		}
	}
	st.Min, st.Max = &min, &max

	if len(rates) > 1 && !rates[0].rate.IsZero() {
		first, last := rates[0].rate, rates[len(rates)-1].rate
		st.PctChange = last.Sub(first).Div(first).Mul(decimal.NewFromInt(100))
	}
	return st
}

func series(txns []models.Transaction, bucket func(time.Time) time.Time) []Point {
	grouped := make(map[time.Time][]weightedRate)
	for _, t := range txns {
		if t.USDAmount.IsZero() {
			continue
		}
		key := bucket(t.AddedDate)
		grouped[key] = append(grouped[key], weightedRate{
			rate:   t.LBPAmount.Div(t.USDAmount),
			weight: t.USDAmount,
		})
	}

	keys := make([]time.Time, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	points := make([]Point, 0, len(keys))
	for _, k := range keys {
		if avg := weightedAvg(grouped[k]); avg != nil {
			points = append(points, Point{Timestamp: k, Rate: *avg})
		}
	}
	return points
}
