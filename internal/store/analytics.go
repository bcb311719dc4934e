package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Aggregation metrics selectable on the promo and spike endpoints.
const (
	MetricFootfall     = "footfall"
	MetricInteractions = "interactions"
	MetricZoneDwell    = "zone_dwell"
)

// Bucket widths for footfall grouping.
const (
	BucketHour = "hour"
	BucketDay  = "day"
)

// BucketCount is one time bucket of footfall.
type BucketCount struct {
	Bucket time.Time
	Count  int
}

// ZoneMetric is per-zone unique visitors and average dwell.
type ZoneMetric struct {
	ZoneID         string
	UniqueVisitors int
	AvgDwell       float64
}

// ShelfMetric is per-shelf touch count and average dwell.
type ShelfMetric struct {
	ShelfID      string
	Interactions int
	AvgDwell     float64
}

// DayValue is one day's metric value, for uplift and spike analysis.
type DayValue struct {
	Day   time.Time
	Value float64
}

// FootfallByBucket counts store entries grouped by hour or day. Only
// entrance events with direction=in from cameras flagged is_entrance count;
// an interior camera that happens to emit entrance events cannot inflate
// footfall.
func (s *Store) FootfallByBucket(ctx context.Context, storeID string, from, to time.Time, bucket string) ([]BucketCount, error) {
	if bucket != BucketHour && bucket != BucketDay {
		return nil, fmt.Errorf("bucket must be %s or %s, got %q", BucketHour, BucketDay, bucket)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc($4, e.ts) AS bucket, COUNT(*) AS footfall
		FROM events e
		JOIN cameras c ON e.camera_id = c.camera_id
		WHERE e.store_id = $1
		  AND e.type = 'entrance'
		  AND e.payload->>'direction' = 'in'
		  AND c.is_entrance = true
		  AND e.ts BETWEEN $2 AND $3
		GROUP BY 1
		ORDER BY 1`,
		storeID, from, to, bucket)
	if err != nil {
		return nil, fmt.Errorf("footfall query: %w", err)
	}
	defer rows.Close()

	var out []BucketCount
	for rows.Next() {
		var bc BucketCount
		if err := rows.Scan(&bc.Bucket, &bc.Count); err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// ZoneMetrics aggregates zone visits. Visitors are deduplicated per
// (camera, person, minute): the same person bouncing on a zone border within
// a minute counts once, and two cameras seeing the same zone do not double
// count within the minute either.
func (s *Store) ZoneMetrics(ctx context.Context, storeID string, from, to time.Time) ([]ZoneMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			payload->>'logical_zone' AS zone_id,
			COUNT(DISTINCT (camera_id || '_' || payload->>'person_id' || '_' ||
				date_trunc('minute', ts)::text)) AS unique_visitors,
			AVG((payload->>'dwell_seconds')::float) AS avg_dwell
		FROM events
		WHERE store_id = $1
		  AND type = 'zone_dwell'
		  AND payload->>'dwell_seconds' IS NOT NULL
		  AND (payload->>'dwell_seconds')::float >= 4.0
		  AND ts BETWEEN $2 AND $3
		GROUP BY 1
		ORDER BY 1`,
		storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("zone metrics query: %w", err)
	}
	defer rows.Close()

	var out []ZoneMetric
	for rows.Next() {
		var (
			zm  ZoneMetric
			avg sql.NullFloat64
		)
		if err := rows.Scan(&zm.ZoneID, &zm.UniqueVisitors, &avg); err != nil {
			return nil, err
		}
		zm.AvgDwell = avg.Float64
		if zm.ZoneID != "" {
			out = append(out, zm)
		}
	}
	return out, rows.Err()
}

// ShelfMetrics aggregates completed shelf touches.
func (s *Store) ShelfMetrics(ctx context.Context, storeID string, from, to time.Time) ([]ShelfMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			payload->>'logical_shelf' AS shelf_id,
			COUNT(*) AS interactions,
			AVG((payload->>'dwell_seconds')::float) AS avg_dwell
		FROM events
		WHERE store_id = $1
		  AND type = 'shelf_interaction'
		  AND payload->>'action' = 'touch'
		  AND payload->>'dwell_seconds' IS NOT NULL
		  AND (payload->>'dwell_seconds')::float >= 4.0
		  AND ts BETWEEN $2 AND $3
		GROUP BY 1
		ORDER BY 1`,
		storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("shelf metrics query: %w", err)
	}
	defer rows.Close()

	var out []ShelfMetric
	for rows.Next() {
		var (
			sm  ShelfMetric
			avg sql.NullFloat64
		)
		if err := rows.Scan(&sm.ShelfID, &sm.Interactions, &avg); err != nil {
			return nil, err
		}
		sm.AvgDwell = avg.Float64
		if sm.ShelfID != "" {
			out = append(out, sm)
		}
	}
	return out, rows.Err()
}

// QueueWaits returns every recorded wait in the window, ascending. The stats
// layer computes avg and p90 in code since percentile interpolation does not
// map cleanly to SQL.
func (s *Store) QueueWaits(ctx context.Context, storeID string, from, to time.Time) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT (payload->>'wait_seconds')::float AS wait_seconds
		FROM events
		WHERE store_id = $1
		  AND type = 'queue_presence'
		  AND payload->>'wait_seconds' IS NOT NULL
		  AND ts BETWEEN $2 AND $3
		ORDER BY wait_seconds`,
		storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("queue waits query: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var w float64
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// LiveFootfall counts entries since the window start, entrance cameras only.
func (s *Store) LiveFootfall(ctx context.Context, storeID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM events e
		JOIN cameras c ON e.camera_id = c.camera_id
		WHERE e.store_id = $1
		  AND e.type = 'entrance'
		  AND e.payload->>'direction' = 'in'
		  AND c.is_entrance = true
		  AND e.ts >= $2`,
		storeID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("live footfall query: %w", err)
	}
	return n, nil
}

// LiveZoneActive counts distinct people per zone since the window start.
func (s *Store) LiveZoneActive(ctx context.Context, storeID string, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload->>'logical_zone' AS zone_id,
		       COUNT(DISTINCT payload->>'person_id') AS active_count
		FROM events
		WHERE store_id = $1
		  AND type = 'zone_dwell'
		  AND ts >= $2
		GROUP BY 1`,
		storeID, since)
	if err != nil {
		return nil, fmt.Errorf("live zones query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			zone  sql.NullString
			count int
		)
		if err := rows.Scan(&zone, &count); err != nil {
			return nil, err
		}
		if zone.String != "" {
			out[zone.String] = count
		}
	}
	return out, rows.Err()
}

// LiveQueueCount counts distinct people with queue activity since the window
// start.
func (s *Store) LiveQueueCount(ctx context.Context, storeID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT payload->>'person_id')
		FROM events
		WHERE store_id = $1
		  AND type = 'queue_presence'
		  AND ts >= $2`,
		storeID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("live queue query: %w", err)
	}
	return n, nil
}

// MetricValue computes one metric over a window: footfall and interactions
// are counts, zone_dwell is the average dwell. Used for promo uplift.
func (s *Store) MetricValue(ctx context.Context, storeID, metric string, from, to time.Time) (float64, error) {
	var (
		query string
		out   sql.NullFloat64
	)
	switch metric {
	case MetricFootfall:
		query = `
			SELECT COUNT(*) FROM events
			WHERE store_id = $1
			  AND type = 'entrance'
			  AND payload->>'direction' = 'in'
			  AND ts BETWEEN $2 AND $3`
	case MetricInteractions:
		query = `
			SELECT COUNT(*) FROM events
			WHERE store_id = $1
			  AND type = 'shelf_interaction'
			  AND payload->>'action' = 'touch'
			  AND ts BETWEEN $2 AND $3`
	case MetricZoneDwell:
		query = `
			SELECT AVG((payload->>'dwell_seconds')::float) FROM events
			WHERE store_id = $1
			  AND type = 'zone_dwell'
			  AND ts BETWEEN $2 AND $3`
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}

	if err := s.db.QueryRowContext(ctx, query, storeID, from, to).Scan(&out); err != nil {
		return 0, fmt.Errorf("metric %s query: %w", metric, err)
	}
	return out.Float64, nil
}

// DailyMetricValues returns per-day values of a countable metric, ascending
// by day. Days with no events produce no row.
func (s *Store) DailyMetricValues(ctx context.Context, storeID, metric string, from, to time.Time) ([]DayValue, error) {
	var query string
	switch metric {
	case MetricFootfall:
		query = `
			SELECT date_trunc('day', ts) AS day, COUNT(*) AS value
			FROM events
			WHERE store_id = $1
			  AND type = 'entrance'
			  AND payload->>'direction' = 'in'
			  AND ts BETWEEN $2 AND $3
			GROUP BY 1
			ORDER BY 1`
	case MetricInteractions:
		query = `
			SELECT date_trunc('day', ts) AS day, COUNT(*) AS value
			FROM events
			WHERE store_id = $1
			  AND type = 'shelf_interaction'
			  AND payload->>'action' = 'touch'
			  AND ts BETWEEN $2 AND $3
			GROUP BY 1
			ORDER BY 1`
	default:
		return nil, fmt.Errorf("unknown daily metric %q", metric)
	}

	rows, err := s.db.QueryContext(ctx, query, storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("daily %s query: %w", metric, err)
	}
	defer rows.Close()

	var out []DayValue
	for rows.Next() {
		var dv DayValue
		if err := rows.Scan(&dv.Day, &dv.Value); err != nil {
			return nil, err
		}
		out = append(out, dv)
	}
	return out, rows.Err()
}
