package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/winklabs/storepulse/internal/events"
	"github.com/winklabs/storepulse/internal/pipeline"
)

// LoadTestConfig holds load test parameters.
type LoadTestConfig struct {
	APIBase      string
	Token        string
	OrgID        string
	StoreID      string
	Cameras      int
	NumBatches   int
	BatchSize    int
	Concurrency  int
	ResendEveryN int
}

// LoadTestStats tracks ingest metrics.
type LoadTestStats struct {
	BatchesSent   uint64
	BatchesFailed uint64
	Inserted      uint64
	Duplicates    uint64
}

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "ingestion API base URL")
	token := flag.String("token", "", "edge API key (required)")
	orgID := flag.String("org", "org-loadtest", "org id stamped on events")
	storeID := flag.String("store", "store-loadtest", "store id stamped on events")
	cameras := flag.Int("cameras", 4, "number of synthetic cameras")
	batches := flag.Int("batches", 200, "number of batches to send")
	batchSize := flag.Int("batch-size", 500, "events per batch")
	concurrency := flag.Int("concurrency", 8, "concurrent senders")
	resendEveryN := flag.Int("resend-every", 10, "resend every Nth batch to exercise dedup (0 = never)")
	flag.Parse()

	if *token == "" {
		slog.Error("❌ -token is required")
		return
	}

	config := LoadTestConfig{
		APIBase:      *apiBase,
		Token:        *token,
		OrgID:        *orgID,
		StoreID:      *storeID,
		Cameras:      *cameras,
		NumBatches:   *batches,
		BatchSize:    *batchSize,
		Concurrency:  *concurrency,
		ResendEveryN: *resendEveryN,
	}

	slog.Info("🚀 Starting ingest load test",
		"batches", config.NumBatches, "batch_size", config.BatchSize, "concurrency", config.Concurrency)

	stats, latencies, elapsed := runLoadTest(config)
	printResults(config, stats, latencies, elapsed)
}

func runLoadTest(config LoadTestConfig) (*LoadTestStats, []time.Duration, time.Duration) {
	client := pipeline.NewClient(config.APIBase, config.Token)
	stats := &LoadTestStats{}

	var latencies []time.Duration
	var latenciesMu sync.Mutex

	batchChan := make(chan int, config.NumBatches)
	var wg sync.WaitGroup

	ctx := context.Background()
	startTime := time.Now()

	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for batchID := range batchChan {
				batch := makeBatch(config)

				sendOnce := func() {
					start := time.Now()
					resp, err := client.PostBulk(ctx, batch)
					latency := time.Since(start)

					atomic.AddUint64(&stats.BatchesSent, 1)
					if err != nil {
						atomic.AddUint64(&stats.BatchesFailed, 1)
						return
					}
					atomic.AddUint64(&stats.Inserted, uint64(resp.Inserted))
					atomic.AddUint64(&stats.Duplicates, uint64(resp.Duplicates))

					latenciesMu.Lock()
					latencies = append(latencies, latency)
					latenciesMu.Unlock()
				}

				sendOnce()
				if config.ResendEveryN > 0 && batchID%config.ResendEveryN == 0 {
					sendOnce()
				}
			}
		}(i)
	}

	for i := 0; i < config.NumBatches; i++ {
		batchChan <- i
	}
	close(batchChan)
	wg.Wait()

	return stats, latencies, time.Since(startTime)
}

// makeBatch builds one batch of synthetic entrance events with unique track
// ids, so a batch inserts fully the first time and dedups fully on resend.
func makeBatch(config LoadTestConfig) []events.Event {
	batch := make([]events.Event, 0, config.BatchSize)
	base := time.Now().UTC()

	for i := 0; i < config.BatchSize; i++ {
		cameraID := fmt.Sprintf("cam-%d", rand.Intn(config.Cameras))
		trackID := uuid.NewString()
		ts := events.FormatTS(base.Add(time.Duration(i) * time.Millisecond))

		payload := events.EntrancePayload{
			Direction: "in",
			PersonID:  fmt.Sprintf("%s_t%s", cameraID, trackID[:8]),
		}
		batch = append(batch, events.Event{
			EventID:  events.EventID(cameraID, trackID, ts, events.TypeEntrance, payload.LogicalKey()),
			OrgID:    config.OrgID,
			StoreID:  config.StoreID,
			CameraID: cameraID,
			Type:     events.TypeEntrance,
			TS:       ts,
			Payload:  payload,
		})
	}
	return batch
}

func printResults(config LoadTestConfig, stats *LoadTestStats, latencies []time.Duration, elapsed time.Duration) {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"

	eventsSent := stats.Inserted + stats.Duplicates

	fmt.Println("\n" + separator)
	fmt.Println("📊 INGEST LOAD TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Batches sent:           %d (failed: %d)\n", stats.BatchesSent, stats.BatchesFailed)
	fmt.Printf("Events accepted:        %d\n", eventsSent)
	fmt.Printf("  inserted:             %d\n", stats.Inserted)
	fmt.Printf("  duplicates:           %d\n", stats.Duplicates)
	fmt.Println(divider)
	fmt.Printf("Total duration:         %v\n", elapsed)
	fmt.Printf("Throughput:             %.0f events/sec\n", float64(eventsSent)/elapsed.Seconds())
	if len(latencies) > 0 {
		fmt.Printf("Batch latency (avg):    %v\n", calculateAverage(latencies))
		fmt.Printf("Batch latency (p95):    %v\n", calculatePercentile(latencies, 95))
		fmt.Printf("Batch latency (p99):    %v\n", calculatePercentile(latencies, 99))
	}
	fmt.Println(separator)

	if stats.BatchesFailed == 0 {
		fmt.Println("✅ PASS: No failed batches")
	} else {
		fmt.Println("❌ FAIL: Some batches failed")
	}

	// Every resent batch must dedup completely.
	expectedDupes := uint64(0)
	if config.ResendEveryN > 0 {
		resent := (config.NumBatches + config.ResendEveryN - 1) / config.ResendEveryN
		expectedDupes = uint64(resent * config.BatchSize)
	}
	if stats.Duplicates == expectedDupes {
		fmt.Println("✅ PASS: Dedup matched resent batches exactly")
	} else {
		fmt.Printf("⚠️  WARN: Expected %d duplicates, got %d\n", expectedDupes, stats.Duplicates)
	}
	fmt.Println(separator + "\n")
}

func calculateAverage(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func calculatePercentile(latencies []time.Duration, percentile int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * percentile / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
