// Package analytics computes the query-side metrics: footfall, zone and
// shelf aggregates, queue statistics, promo uplift, and spike detection. SQL
// does the filtering and grouping; the statistics live here as pure functions
// so they are testable without a database.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/winklabs/storepulse/internal/store"
)

// Mean of values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the sample standard deviation (n-1 denominator). Returns 0 for
// fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// Percentile computes the p-th percentile with linear interpolation between
// closest ranks. values need not be sorted; p is in [0, 100].
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	frac := rank - float64(lower)
	if lower+1 >= len(sorted) {
		return sorted[lower]
	}
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Spike is one anomalous day in a daily metric series.
type Spike struct {
	Date   string  `json:"date"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	ZScore float64 `json:"z_score"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// DefaultSpikeThreshold is the z-score above which a day counts as a spike.
const DefaultSpikeThreshold = 2.0

// DetectSpikes flags days whose value deviates from the series mean by at
// least thresholdZ sample standard deviations. Fewer than three days, or a
// flat series, yields nothing: there is no distribution to deviate from.
func DetectSpikes(days []store.DayValue, metric string, thresholdZ float64) []Spike {
	if len(days) < 3 {
		return nil
	}

	values := make([]float64, len(days))
	for i, d := range days {
		values[i] = d.Value
	}
	mean := Mean(values)
	sd := StdDev(values)
	if sd == 0 {
		return nil
	}

	var spikes []Spike
	for _, d := range days {
		z := (d.Value - mean) / sd
		if math.Abs(z) >= thresholdZ {
			spikes = append(spikes, Spike{
				Date:   d.Day.UTC().Format("2006-01-02"),
				Metric: metric,
				Value:  d.Value,
				ZScore: round2(z),
				Mean:   round2(mean),
				StdDev: round2(sd),
			})
		}
	}
	return spikes
}

// UpliftReport compares a promo window against the immediately preceding
// baseline window, normalized to per-day rates.
type UpliftReport struct {
	Metric        string  `json:"metric"`
	PromoFrom     string  `json:"promo_from"`
	PromoTo       string  `json:"promo_to"`
	BaselineFrom  string  `json:"baseline_from"`
	BaselineTo    string  `json:"baseline_to"`
	PromoValue    float64 `json:"promo_value"`
	BaselineValue float64 `json:"baseline_value"`
	PromoDaily    float64 `json:"promo_daily"`
	BaselineDaily float64 `json:"baseline_daily"`
	UpliftPercent float64 `json:"uplift_percent"`
}

// ComputeUplift normalizes both windows to per-day rates and reports the
// relative change. A zero baseline yields 0% rather than a division blowup.
func ComputeUplift(metric string, promoFrom, promoTo time.Time, baselineDays int,
	promoValue, baselineValue float64) UpliftReport {

	baselineStart := promoFrom.AddDate(0, 0, -baselineDays)
	baselineEnd := promoFrom.Add(-time.Second)

	promoDuration := promoTo.Sub(promoFrom).Seconds() / 86400
	promoDaily := 0.0
	if promoDuration > 0 {
		promoDaily = promoValue / promoDuration
	}
	baselineDaily := 0.0
	if baselineDays > 0 {
		baselineDaily = baselineValue / float64(baselineDays)
	}

	uplift := 0.0
	if baselineDaily > 0 {
		uplift = (promoDaily - baselineDaily) / baselineDaily * 100
	}

	return UpliftReport{
		Metric:        metric,
		PromoFrom:     promoFrom.UTC().Format(time.RFC3339),
		PromoTo:       promoTo.UTC().Format(time.RFC3339),
		BaselineFrom:  baselineStart.UTC().Format(time.RFC3339),
		BaselineTo:    baselineEnd.UTC().Format(time.RFC3339),
		PromoValue:    round2(promoValue),
		BaselineValue: round2(baselineValue),
		PromoDaily:    round2(promoDaily),
		BaselineDaily: round2(baselineDaily),
		UpliftPercent: round2(uplift),
	}
}
