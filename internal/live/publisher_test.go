package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/winklabs/storepulse/internal/events"
)

func ev(storeID string, etype events.Type, payload events.Payload) events.Event {
	ts := events.FormatTS(time.Now())
	return events.Event{
		EventID:  events.EventID("cam-1", "1", ts, etype, payload.LogicalKey()),
		OrgID:    "org-1",
		StoreID:  storeID,
		CameraID: "cam-1",
		Type:     etype,
		TS:       ts,
		Payload:  payload,
	}
}

func TestSummarizeGroupsByStore(t *testing.T) {
	batch := []events.Event{
		ev("store-1", events.TypeEntrance, events.EntrancePayload{Direction: "in", PersonID: "p1"}),
		ev("store-1", events.TypeEntrance, events.EntrancePayload{Direction: "out", PersonID: "p2"}),
		ev("store-1", events.TypeZoneDwell, events.ZoneDwellPayload{LogicalZone: "z", DwellSeconds: 5, PersonID: "p1"}),
		ev("store-2", events.TypeQueuePresence, events.QueuePresencePayload{Queue: "q", WaitSeconds: 30, PersonID: "p3"}),
		ev("store-2", events.TypeShelfInteraction, events.ShelfInteractionPayload{LogicalShelf: "s", Action: "touch", DwellSeconds: 6, PersonID: "p3"}),
	}

	got := Summarize(batch)
	assert.Equal(t, Summary{Footfall: 1, Zones: 1}, got["store-1"], "direction=out does not count")
	assert.Equal(t, Summary{Shelves: 1, Queues: 1}, got["store-2"])
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.PublishBatch(t.Context(), []events.Event{ev("store-1", events.TypeZoneDwell,
		events.ZoneDwellPayload{LogicalZone: "z", DwellSeconds: 5, PersonID: "p"})})
	assert.NoError(t, p.Close())
}

func TestNewPublisherEmptyURLDisabled(t *testing.T) {
	p, err := NewPublisher("")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewPublisherBadURL(t *testing.T) {
	_, err := NewPublisher("not-a-redis-url")
	assert.Error(t, err)
}
