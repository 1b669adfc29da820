package rates

import (
	"testing"
	"time"

	"github.com/hkanaan/sarraf/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func txn(usd, lbp string, addedAt time.Time) models.Transaction {
	return models.Transaction{
		USDAmount: d(usd),
		LBPAmount: d(lbp),
		AddedDate: addedAt,
	}
}

func TestWeightedAvg(t *testing.T) {
	now := time.Now()

	t.Run("Empty", func(t *testing.T) {
		require.Nil(t, weightedAvg(nil))
	})

	t.Run("SingleConversion", func(t *testing.T) {
		rates := weightedRates([]models.Transaction{txn("100", "9000000", now)})
		avg := weightedAvg(rates)
		require.NotNil(t, avg)
		require.True(t, avg.Equal(d("90000")))
	})

	t.Run("VolumeWeighted", func(t *testing.T) {
		// 100 USD at 90000 and 300 USD at 94000: avg = (9000000 + 28200000) / 400
		rates := weightedRates([]models.Transaction{
			txn("100", "9000000", now),
			txn("300", "28200000", now),
		})
		avg := weightedAvg(rates)
		require.NotNil(t, avg)
		require.True(t, avg.Equal(d("93000")))
	})

	t.Run("ZeroUSDLegSkipped", func(t *testing.T) {
		rates := weightedRates([]models.Transaction{
			txn("0", "9000000", now),
			txn("100", "9000000", now),
		})
		require.Len(t, rates, 1)
	})
}

func TestStats(t *testing.T) {
	now := time.Now()

	t.Run("Empty", func(t *testing.T) {
		st := stats(nil)
		require.Nil(t, st.Min)
		require.Nil(t, st.Max)
		require.Nil(t, st.WeightedAvg)
		require.True(t, st.PctChange.IsZero())
	})

	t.Run("MinMaxPctChange", func(t *testing.T) {
		// Rates 80000, 95000, 90000 in chronological order.
		st := stats(weightedRates([]models.Transaction{
			txn("100", "8000000", now),
			txn("100", "9500000", now.Add(time.Hour)),
			txn("100", "9000000", now.Add(2*time.Hour)),
		}))
		require.True(t, st.Min.Equal(d("80000")))
		require.True(t, st.Max.Equal(d("95000")))
		// first 80000 -> last 90000 is +12.5%
		require.True(t, st.PctChange.Equal(d("12.5")))
	})

	t.Run("SingleRateNoChange", func(t *testing.T) {
		st := stats(weightedRates([]models.Transaction{txn("100", "9000000", now)}))
		require.True(t, st.PctChange.IsZero())
	})
}

func TestSeries(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)

	// First two land in the same hour, the third three hours later on
	// the same day, the last on the next day.
	txns := []models.Transaction{
		txn("100", "9000000", base),
		txn("100", "9200000", base.Add(20*time.Minute)),
		txn("100", "9400000", base.Add(3*time.Hour)),
		txn("100", "9600000", base.Add(26*time.Hour)),
	}

	daily := func(t time.Time) time.Time { return t.UTC().Truncate(24 * time.Hour) }
	hourly := func(t time.Time) time.Time { return t.UTC().Truncate(time.Hour) }

	t.Run("Daily", func(t *testing.T) {
		points := series(txns, daily)
		require.Len(t, points, 2)
		require.True(t, points[0].Timestamp.Before(points[1].Timestamp))
		// day 20 bucket: (90000 + 92000 + 94000) / 3 equally weighted
		require.True(t, points[0].Rate.Equal(d("92000")))
		require.True(t, points[1].Rate.Equal(d("96000")))
	})

	t.Run("Hourly", func(t *testing.T) {
		points := series(txns, hourly)
		require.Len(t, points, 3)
		require.True(t, points[0].Rate.Equal(d("91000")))
		require.True(t, points[1].Rate.Equal(d("94000")))
		require.True(t, points[2].Rate.Equal(d("96000")))
	})

	t.Run("Empty", func(t *testing.T) {
		require.Empty(t, series(nil, daily))
	})
}
