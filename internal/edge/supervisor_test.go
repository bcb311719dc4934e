package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winklabs/storepulse/internal/detector"
	"github.com/winklabs/storepulse/internal/events"
	"github.com/winklabs/storepulse/internal/geometry"
	"github.com/winklabs/storepulse/internal/pipeline"
)

// scriptedTracker replays a fixed frame sequence, then blocks until ctx ends.
type scriptedTracker struct {
	frames []Frame
	i      int
}

func (s *scriptedTracker) Next(ctx context.Context) (Frame, error) {
	if s.i < len(s.frames) {
		f := s.frames[s.i]
		s.i++
		return f, nil
	}
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

func (s *scriptedTracker) Close() error { return nil }

type ingestStub struct {
	mu         sync.Mutex
	events     []events.Event
	heartbeats int
}

func (s *ingestStub) router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/bulk", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []events.Event `json:"events"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.events = append(s.events, body.Events...)
		s.mu.Unlock()
		json.NewEncoder(w).Encode(pipeline.BulkResponse{Status: "ok", Inserted: len(body.Events), Total: len(body.Events)})
	})
	mux.HandleFunc("/v1/ingest/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.heartbeats++
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
	})
	return mux
}

func (s *ingestStub) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *ingestStub) heartbeatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats
}

func TestSupervisorEndToEnd(t *testing.T) {
	stub := &ingestStub{}
	srv := httptest.NewServer(stub.router())
	defer srv.Close()

	cfg := &Config{
		APIBase:        srv.URL,
		APIKey:         "edge_test.secret",
		OrgID:          "org-1",
		StoreID:        "store-1",
		HeartbeatEvery: 0.05,
		Cameras: []CameraConfig{{
			CameraID:       "cam-door",
			RTSP:           "rtsp://example/stream",
			Capabilities:   []string{detector.CapEntrance},
			ScreenshotSize: geometry.Size{Width: 640, Height: 360},
			Geometry: GeometryConfig{
				Entrance: [][]float64{{320, 0}, {320, 360}},
			},
		}},
	}
	require.NoError(t, cfg.Validate())

	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	frameSize := geometry.Size{Width: 640, Height: 360}
	// Track 1 walks left to right across the entrance line at x=320.
	tracker := &scriptedTracker{frames: []Frame{
		{TS: t0, Size: frameSize, Detections: []detector.Detection{
			{TrackID: "1", Box: detector.BBox{X1: 280, Y1: 100, X2: 320, Y2: 200}},
		}},
		{TS: t0.Add(time.Second), Size: frameSize, Detections: []detector.Detection{
			{TrackID: "1", Box: detector.BBox{X1: 320, Y1: 100, X2: 360, Y2: 200}},
		}},
	}}

	client := pipeline.NewClient(srv.URL, cfg.APIKey)
	spool, err := pipeline.NewSpool(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	dispatcher := pipeline.NewDispatcher(pipeline.Config{
		BatchInterval: 20 * time.Millisecond,
		BackoffBase:   time.Millisecond,
	}, client, spool, nil)

	sup := NewSupervisor(cfg, func(cam CameraConfig) (Tracker, error) {
		return tracker, nil
	}, dispatcher, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return stub.eventCount() == 1 && stub.heartbeatCount() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down")
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	ev := stub.events[0]
	assert.Equal(t, events.TypeEntrance, ev.Type)
	assert.Equal(t, "cam-door", ev.CameraID)
	assert.Equal(t, "org-1", ev.OrgID)
	require.NoError(t, ev.Validate())
}
