package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winklabs/storepulse/internal/events"
)

type bulkRecorder struct {
	mu      sync.Mutex
	batches [][]events.Event
	failing bool
}

func (r *bulkRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		failing := r.failing
		r.mu.Unlock()
		if failing {
			http.Error(w, "backend down", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []events.Event `json:"events"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.batches = append(r.batches, body.Events)
		r.mu.Unlock()

		json.NewEncoder(w).Encode(BulkResponse{
			Status: "ok", Inserted: len(body.Events), Total: len(body.Events),
		})
	}
}

func (r *bulkRecorder) setFailing(v bool) {
	r.mu.Lock()
	r.failing = v
	r.mu.Unlock()
}

func (r *bulkRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func fastConfig() Config {
	return Config{
		MaxBatch:      10,
		BatchInterval: 20 * time.Millisecond,
		MaxRetries:    1,
		BackoffBase:   time.Millisecond,
		BackoffMax:    5 * time.Millisecond,
	}
}

func TestDispatcherFlushesOnBatchSize(t *testing.T) {
	rec := &bulkRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxBatch = 3
	cfg.BatchInterval = time.Hour // size is the only trigger here

	spool, err := NewSpool(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	d := NewDispatcher(cfg, NewClient(srv.URL, "tok"), spool, nil)

	for i := 0; i < 3; i++ {
		d.Publish(testEvent(i))
	}
	require.Eventually(t, func() bool { return rec.total() == 3 }, 2*time.Second, 10*time.Millisecond)
	d.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.batches, 1)
	assert.Equal(t, testEvent(0).EventID, rec.batches[0][0].EventID)
}

func TestDispatcherFlushesOnInterval(t *testing.T) {
	rec := &bulkRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	spool, err := NewSpool(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	d := NewDispatcher(fastConfig(), NewClient(srv.URL, "tok"), spool, nil)
	defer d.Close()

	d.Publish(testEvent(0))
	require.Eventually(t, func() bool { return rec.total() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherSpoolsAfterRetryExhaustion(t *testing.T) {
	rec := &bulkRecorder{}
	rec.setFailing(true)
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	spool, err := NewSpool(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	d := NewDispatcher(fastConfig(), NewClient(srv.URL, "tok"), spool, nil)

	d.Publish(testEvent(0))
	d.Publish(testEvent(1))
	require.Eventually(t, func() bool {
		n, err := spool.Depth()
		return err == nil && n == 2
	}, 3*time.Second, 10*time.Millisecond)
	d.Close()

	assert.Equal(t, 0, rec.total())
}

func TestDispatcherReplaysSpoolAfterRecovery(t *testing.T) {
	rec := &bulkRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	spool, err := NewSpool(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	require.NoError(t, spool.Append(testBatch(4)))

	d := NewDispatcher(fastConfig(), NewClient(srv.URL, "tok"), spool, nil)
	defer d.Close()

	require.Eventually(t, func() bool { return rec.total() == 4 }, 3*time.Second, 10*time.Millisecond)
	depth, err := spool.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestBackoffLadder(t *testing.T) {
	d := &Dispatcher{cfg: Config{
		BackoffBase:   500 * time.Millisecond,
		BackoffFactor: 1.5,
		BackoffMax:    60 * time.Second,
	}}

	assert.Equal(t, 500*time.Millisecond, d.backoff(0))
	assert.Equal(t, 750*time.Millisecond, d.backoff(1))
	assert.Equal(t, 1125*time.Millisecond, d.backoff(2))
	assert.Equal(t, 60*time.Second, d.backoff(50))
}
