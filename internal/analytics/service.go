package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/winklabs/storepulse/internal/store"
)

// Querier is the slice of the store the analytics service reads.
type Querier interface {
	FootfallByBucket(ctx context.Context, storeID string, from, to time.Time, bucket string) ([]store.BucketCount, error)
	ZoneMetrics(ctx context.Context, storeID string, from, to time.Time) ([]store.ZoneMetric, error)
	ShelfMetrics(ctx context.Context, storeID string, from, to time.Time) ([]store.ShelfMetric, error)
	QueueWaits(ctx context.Context, storeID string, from, to time.Time) ([]float64, error)
	LiveFootfall(ctx context.Context, storeID string, since time.Time) (int, error)
	LiveZoneActive(ctx context.Context, storeID string, since time.Time) (map[string]int, error)
	LiveQueueCount(ctx context.Context, storeID string, since time.Time) (int, error)
	MetricValue(ctx context.Context, storeID, metric string, from, to time.Time) (float64, error)
	DailyMetricValues(ctx context.Context, storeID, metric string, from, to time.Time) ([]store.DayValue, error)
}

// Service answers the analytics queries behind the HTTP API.
type Service struct {
	q   Querier
	now func() time.Time
}

// NewService builds the analytics service on a store.
func NewService(q Querier) *Service {
	return &Service{q: q, now: time.Now}
}

// FootfallBucket is one bucket of the footfall series.
type FootfallBucket struct {
	Bucket   string `json:"bucket"`
	Footfall int    `json:"footfall"`
}

// ZoneStats is the per-zone aggregate.
type ZoneStats struct {
	UniqueVisitors int     `json:"unique_visitors"`
	AvgDwell       float64 `json:"avg_dwell"`
}

// ShelfStats is the per-shelf aggregate.
type ShelfStats struct {
	Interactions int     `json:"interactions"`
	AvgDwell     float64 `json:"avg_dwell"`
}

// QueueStats summarizes waits over a window.
type QueueStats struct {
	AvgWait     float64 `json:"avg_wait"`
	P90Wait     float64 `json:"p90_wait"`
	TotalEvents int     `json:"total_events"`
}

// PeakHour is the busiest hour of a window.
type PeakHour struct {
	PeakHour string `json:"peak_hour,omitempty"`
	Footfall int    `json:"footfall"`
}

// LiveSnapshot is the rolling-window live view.
type LiveSnapshot struct {
	FootfallNow   int            `json:"footfall_now"`
	PerZoneActive map[string]int `json:"per_zone_active"`
	QueueNow      int            `json:"queue_now"`
	Timestamp     string         `json:"timestamp"`
}

// Summary is the one-call dashboard payload.
type Summary struct {
	FootfallByHour []FootfallBucket      `json:"footfall_by_hour"`
	ZoneMetrics    map[string]ZoneStats  `json:"zone_metrics"`
	ShelfMetrics   map[string]ShelfStats `json:"shelf_metrics"`
	QueueMetrics   QueueStats            `json:"queue_metrics"`
	PeakHour       PeakHour              `json:"peak_hour"`
	Live           LiveSnapshot          `json:"live"`
	PeriodFrom     string                `json:"period_from"`
	PeriodTo       string                `json:"period_to"`
}

// Footfall returns the footfall series grouped by hour or day.
func (s *Service) Footfall(ctx context.Context, storeID string, from, to time.Time, bucket string) ([]FootfallBucket, error) {
	rows, err := s.q.FootfallByBucket(ctx, storeID, from, to, bucket)
	if err != nil {
		return nil, err
	}

	layout := time.RFC3339
	if bucket == store.BucketDay {
		layout = "2006-01-02"
	}
	return lo.Map(rows, func(bc store.BucketCount, _ int) FootfallBucket {
		return FootfallBucket{Bucket: bc.Bucket.UTC().Format(layout), Footfall: bc.Count}
	}), nil
}

// Zones returns per-zone unique visitors and average dwell.
func (s *Service) Zones(ctx context.Context, storeID string, from, to time.Time) (map[string]ZoneStats, error) {
	rows, err := s.q.ZoneMetrics(ctx, storeID, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ZoneStats, len(rows))
	for _, zm := range rows {
		out[zm.ZoneID] = ZoneStats{UniqueVisitors: zm.UniqueVisitors, AvgDwell: round2(zm.AvgDwell)}
	}
	return out, nil
}

// Shelves returns per-shelf touch counts and average dwell.
func (s *Service) Shelves(ctx context.Context, storeID string, from, to time.Time) (map[string]ShelfStats, error) {
	rows, err := s.q.ShelfMetrics(ctx, storeID, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ShelfStats, len(rows))
	for _, sm := range rows {
		out[sm.ShelfID] = ShelfStats{Interactions: sm.Interactions, AvgDwell: round2(sm.AvgDwell)}
	}
	return out, nil
}

// Queue returns average and p90 wait over the window.
func (s *Service) Queue(ctx context.Context, storeID string, from, to time.Time) (QueueStats, error) {
	waits, err := s.q.QueueWaits(ctx, storeID, from, to)
	if err != nil {
		return QueueStats{}, err
	}
	if len(waits) == 0 {
		return QueueStats{}, nil
	}
	return QueueStats{
		AvgWait:     round2(Mean(waits)),
		P90Wait:     round2(Percentile(waits, 90)),
		TotalEvents: len(waits),
	}, nil
}

// Peak returns the hour with the highest footfall. Ties go to the earliest
// hour since buckets arrive in ascending order.
func (s *Service) Peak(ctx context.Context, storeID string, from, to time.Time) (PeakHour, error) {
	hourly, err := s.Footfall(ctx, storeID, from, to, store.BucketHour)
	if err != nil {
		return PeakHour{}, err
	}
	if len(hourly) == 0 {
		return PeakHour{}, nil
	}

	peak := hourly[0]
	for _, b := range hourly[1:] {
		if b.Footfall > peak.Footfall {
			peak = b
		}
	}
	return PeakHour{PeakHour: peak.Bucket, Footfall: peak.Footfall}, nil
}

// Live returns the rolling-window snapshot.
func (s *Service) Live(ctx context.Context, storeID string, window time.Duration) (LiveSnapshot, error) {
	now := s.now().UTC()
	since := now.Add(-window)

	footfall, err := s.q.LiveFootfall(ctx, storeID, since)
	if err != nil {
		return LiveSnapshot{}, err
	}
	zones, err := s.q.LiveZoneActive(ctx, storeID, since)
	if err != nil {
		return LiveSnapshot{}, err
	}
	queue, err := s.q.LiveQueueCount(ctx, storeID, since)
	if err != nil {
		return LiveSnapshot{}, err
	}

	return LiveSnapshot{
		FootfallNow:   footfall,
		PerZoneActive: zones,
		QueueNow:      queue,
		Timestamp:     now.Format(time.RFC3339),
	}, nil
}

// Promo compares a promo window against the preceding baseline window.
func (s *Service) Promo(ctx context.Context, storeID string, from, to time.Time, baselineDays int, metric string) (UpliftReport, error) {
	if baselineDays <= 0 {
		baselineDays = 14
	}
	baselineStart := from.AddDate(0, 0, -baselineDays)
	baselineEnd := from.Add(-time.Second)

	promoVal, err := s.q.MetricValue(ctx, storeID, metric, from, to)
	if err != nil {
		return UpliftReport{}, err
	}
	baselineVal, err := s.q.MetricValue(ctx, storeID, metric, baselineStart, baselineEnd)
	if err != nil {
		return UpliftReport{}, err
	}

	return ComputeUplift(metric, from, to, baselineDays, promoVal, baselineVal), nil
}

// Spikes flags anomalous days in the window.
func (s *Service) Spikes(ctx context.Context, storeID string, from, to time.Time, metric string, thresholdZ float64) ([]Spike, error) {
	if thresholdZ <= 0 {
		thresholdZ = DefaultSpikeThreshold
	}
	days, err := s.q.DailyMetricValues(ctx, storeID, metric, from, to)
	if err != nil {
		return nil, err
	}
	return DetectSpikes(days, metric, thresholdZ), nil
}

// Aggregate builds the full dashboard summary in one call.
func (s *Service) Aggregate(ctx context.Context, storeID string, from, to time.Time) (Summary, error) {
	footfall, err := s.Footfall(ctx, storeID, from, to, store.BucketHour)
	if err != nil {
		return Summary{}, fmt.Errorf("summary footfall: %w", err)
	}
	zones, err := s.Zones(ctx, storeID, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("summary zones: %w", err)
	}
	shelves, err := s.Shelves(ctx, storeID, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("summary shelves: %w", err)
	}
	queue, err := s.Queue(ctx, storeID, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("summary queue: %w", err)
	}
	peak, err := s.Peak(ctx, storeID, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("summary peak: %w", err)
	}
	live, err := s.Live(ctx, storeID, time.Minute)
	if err != nil {
		return Summary{}, fmt.Errorf("summary live: %w", err)
	}

	return Summary{
		FootfallByHour: footfall,
		ZoneMetrics:    zones,
		ShelfMetrics:   shelves,
		QueueMetrics:   queue,
		PeakHour:       peak,
		Live:           live,
		PeriodFrom:     from.UTC().Format(time.RFC3339),
		PeriodTo:       to.UTC().Format(time.RFC3339),
	}, nil
}
