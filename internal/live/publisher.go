// Package live pushes per-store event summaries to Redis pub/sub so
// dashboards can update without polling the query API.
package live

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/winklabs/storepulse/internal/events"
)

// Summary is the per-store counter block published after each bulk insert.
type Summary struct {
	Footfall int `json:"footfall"`
	Zones    int `json:"zones"`
	Shelves  int `json:"shelves"`
	Queues   int `json:"queues"`
}

type message struct {
	Timestamp string  `json:"timestamp"`
	Summary   Summary `json:"summary"`
}

// Publisher fans out live updates on channel live_updates:<store_id>.
// Everything here is best-effort: a dead Redis degrades dashboards, never
// ingestion.
type Publisher struct {
	client *redis.Client
	logger *log.Logger
}

// NewPublisher connects to Redis at url. Returns nil (publishing disabled)
// when url is empty.
func NewPublisher(url string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		client: redis.NewClient(opts),
		logger: log.New(log.Writer(), "[LIVE] ", log.LstdFlags),
	}, nil
}

// Summarize groups a bulk batch into per-store counters. Only direction=in
// entrance events count toward live footfall.
func Summarize(batch []events.Event) map[string]Summary {
	out := make(map[string]Summary)
	for _, ev := range batch {
		s := out[ev.StoreID]
		switch ev.Type {
		case events.TypeEntrance:
			if p, ok := ev.Payload.(events.EntrancePayload); ok && p.Direction == "in" {
				s.Footfall++
			}
		case events.TypeZoneDwell:
			s.Zones++
		case events.TypeShelfInteraction:
			s.Shelves++
		case events.TypeQueuePresence:
			s.Queues++
		}
		out[ev.StoreID] = s
	}
	return out
}

// PublishBatch sends one summary message per store in the batch. Failures
// are logged and swallowed.
func (p *Publisher) PublishBatch(ctx context.Context, batch []events.Event) {
	if p == nil {
		return
	}
	for storeID, summary := range Summarize(batch) {
		payload, err := json.Marshal(message{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Summary:   summary,
		})
		if err != nil {
			continue
		}
		if err := p.client.Publish(ctx, "live_updates:"+storeID, payload).Err(); err != nil {
			p.logger.Printf("⚠️  Live publish failed for %s: %v", storeID, err)
		}
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
