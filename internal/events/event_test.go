package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIDDeterministic(t *testing.T) {
	ts := FormatTS(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))

	a := EventID("cam-1", "track-7", ts, TypeZoneDwell, "zone_a")
	b := EventID("cam-1", "track-7", ts, TypeZoneDwell, "zone_a")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Any input change yields a different ID.
	assert.NotEqual(t, a, EventID("cam-2", "track-7", ts, TypeZoneDwell, "zone_a"))
	assert.NotEqual(t, a, EventID("cam-1", "track-8", ts, TypeZoneDwell, "zone_a"))
	assert.NotEqual(t, a, EventID("cam-1", "track-7", ts, TypeZoneDwell, "zone_b"))
	assert.NotEqual(t, a, EventID("cam-1", "track-7", ts, TypeShelfInteraction, "zone_a"))
}

func TestFormatTSIsUTCMicroseconds(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := FormatTS(time.Date(2026, 3, 14, 10, 30, 0, 123456789, loc))
	assert.Equal(t, "2026-03-14T09:30:00.123456Z", ts)

	parsed, err := ParseTS(ts)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 0, 123456000, time.UTC), parsed.UTC())
}

func TestParseTSRejectsGarbage(t *testing.T) {
	_, err := ParseTS("2026-03-14 09:30:00")
	assert.Error(t, err)
	_, err = ParseTS("")
	assert.Error(t, err)
}

func validEvent() Event {
	ts := FormatTS(time.Now())
	p := EntrancePayload{Direction: "in", PersonID: "cam-1:42"}
	return Event{
		EventID:  EventID("cam-1", "42", ts, TypeEntrance, p.LogicalKey()),
		OrgID:    "org-1",
		StoreID:  "store-1",
		CameraID: "cam-1",
		Type:     TypeEntrance,
		TS:       ts,
		Payload:  p,
	}
}

func TestEventValidate(t *testing.T) {
	ev := validEvent()
	require.NoError(t, ev.Validate())

	missing := ev
	missing.EventID = ""
	assert.Error(t, missing.Validate())

	noOrg := ev
	noOrg.OrgID = ""
	assert.Error(t, noOrg.Validate())

	badType := ev
	badType.Type = "loitering"
	assert.Error(t, badType.Validate())

	mismatch := ev
	mismatch.Payload = QueuePresencePayload{Queue: "checkout", WaitSeconds: 10, PersonID: "x"}
	assert.Error(t, mismatch.Validate())

	badTS := ev
	badTS.TS = "yesterday"
	assert.Error(t, badTS.Validate())
}

func TestPayloadValidation(t *testing.T) {
	assert.Error(t, EntrancePayload{Direction: "sideways", PersonID: "p"}.Validate())
	assert.Error(t, EntrancePayload{Direction: "in"}.Validate())

	assert.Error(t, ZoneDwellPayload{LogicalZone: "z", DwellSeconds: 3.9, PersonID: "p"}.Validate())
	assert.NoError(t, ZoneDwellPayload{LogicalZone: "z", DwellSeconds: 4.0, PersonID: "p"}.Validate())

	assert.Error(t, ShelfInteractionPayload{LogicalShelf: "s", Action: "grab", DwellSeconds: 5, PersonID: "p"}.Validate())
	assert.NoError(t, ShelfInteractionPayload{LogicalShelf: "s", Action: "touch", DwellSeconds: 5, PersonID: "p"}.Validate())

	assert.Error(t, QueuePresencePayload{Queue: "q", WaitSeconds: -1, PersonID: "p"}.Validate())
	assert.NoError(t, QueuePresencePayload{Queue: "q", WaitSeconds: 0, PersonID: "p"}.Validate())
}

func TestEventJSONRoundTrip(t *testing.T) {
	ev := validEvent()

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ev, decoded)
	require.NoError(t, decoded.Validate())
	assert.Equal(t, "cam-1:42", decoded.PersonID())
}

func TestEventUnmarshalPicksVariantByType(t *testing.T) {
	raw := `{
		"event_id": "abc",
		"org_id": "org-1",
		"store_id": "store-1",
		"camera_id": "cam-1",
		"type": "queue_presence",
		"ts": "2026-03-14T09:30:00.000000Z",
		"payload": {"queue": "checkout_main", "wait_seconds": 81.5, "person_id": "cam-1:9"}
	}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	p, ok := ev.Payload.(QueuePresencePayload)
	require.True(t, ok)
	assert.Equal(t, "checkout_main", p.Queue)
	assert.InDelta(t, 81.5, p.WaitSeconds, 1e-9)
}

func TestEventUnmarshalUnknownType(t *testing.T) {
	raw := `{"type": "teleport", "payload": {}}`
	var ev Event
	assert.Error(t, json.Unmarshal([]byte(raw), &ev))
}
