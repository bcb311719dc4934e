package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winklabs/storepulse/internal/events"
)

func testEvent(i int) events.Event {
	ts := events.FormatTS(time.Date(2026, 3, 14, 9, 0, i, 0, time.UTC))
	p := events.EntrancePayload{Direction: "in", PersonID: fmt.Sprintf("cam-1_t%d", i)}
	return events.Event{
		EventID:  events.EventID("cam-1", fmt.Sprintf("%d", i), ts, events.TypeEntrance, p.LogicalKey()),
		OrgID:    "org-1",
		StoreID:  "store-1",
		CameraID: "cam-1",
		Type:     events.TypeEntrance,
		TS:       ts,
		Payload:  p,
	}
}

func testBatch(n int) []events.Event {
	out := make([]events.Event, n)
	for i := range out {
		out[i] = testEvent(i)
	}
	return out
}

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := NewSpool(filepath.Join(t.TempDir(), "buffer", "events.jsonl"))
	require.NoError(t, err)
	return s
}

func TestSpoolAppendAndDrain(t *testing.T) {
	s := newTestSpool(t)
	require.NoError(t, s.Append(testBatch(5)))

	depth, err := s.Depth()
	require.NoError(t, err)
	assert.Equal(t, 5, depth)

	first, err := s.Drain(3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, testEvent(0), first[0])

	depth, err = s.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	rest, err := s.Drain(10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, testEvent(3), rest[0])

	// Fully drained spool disappears from disk.
	depth, err = s.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSpoolDrainEmpty(t *testing.T) {
	s := newTestSpool(t)
	got, err := s.Drain(100)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSpoolReplayRoundTripPreservesEventIDs(t *testing.T) {
	s := newTestSpool(t)
	batch := testBatch(4)
	require.NoError(t, s.Append(batch))

	got, err := s.Drain(10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, batch[i].EventID, ev.EventID)
		require.NoError(t, ev.Validate())
	}
}

func TestSpoolSkipsCorruptLines(t *testing.T) {
	s := newTestSpool(t)
	require.NoError(t, s.Append(testBatch(2)))

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	f.WriteString("{not json\n")
	f.Close()
	require.NoError(t, s.Append(testBatch(1)))

	got, err := s.Drain(10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
