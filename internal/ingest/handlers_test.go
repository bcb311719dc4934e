package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winklabs/storepulse/internal/events"
	"github.com/winklabs/storepulse/internal/store"
)

// fakeStore keeps inserted event ids in memory, duplicating the event_id
// uniqueness the database enforces.
type fakeStore struct {
	creds    map[string]*store.Credential
	seen     map[string]bool
	touched  []string
	insertCh error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		creds: map[string]*store.Credential{
			"edge_good.secret": {CredentialID: "good", OrgID: "org-1", StoreID: "store-1", Active: true},
			"edge_cam.secret":  {CredentialID: "cam", OrgID: "org-1", StoreID: "store-1", CameraID: "cam-1", Active: true},
		},
		seen: make(map[string]bool),
	}
}

func (f *fakeStore) AuthenticateToken(_ context.Context, token string) (*store.Credential, error) {
	cred, ok := f.creds[token]
	if !ok {
		return nil, store.ErrInvalidToken
	}
	return cred, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, ev events.Event) (bool, error) {
	if f.insertCh != nil {
		return false, f.insertCh
	}
	if f.seen[ev.EventID] {
		return false, nil
	}
	f.seen[ev.EventID] = true
	return true, nil
}

func (f *fakeStore) TouchCredential(_ context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

func makeEvent(orgID, storeID, cameraID string, track int) events.Event {
	ts := events.FormatTS(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
	p := events.EntrancePayload{Direction: "in", PersonID: fmt.Sprintf("%s_t%d", cameraID, track)}
	return events.Event{
		EventID:  events.EventID(cameraID, fmt.Sprintf("%d", track), ts, events.TypeEntrance, p.LogicalKey()),
		OrgID:    orgID,
		StoreID:  storeID,
		CameraID: cameraID,
		Type:     events.TypeEntrance,
		TS:       ts,
		Payload:  p,
	}
}

func postBulk(t *testing.T, h *Handlers, token string, evs []events.Event) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string][]events.Event{"events": evs})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/events/bulk", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.Bulk()(rec, req)
	return rec
}

func decodeBulk(t *testing.T, rec *httptest.ResponseRecorder) BulkResponse {
	t.Helper()
	var resp BulkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestBulkIdempotentResubmit(t *testing.T) {
	fs := newFakeStore()
	h := NewHandlers(fs, nil, nil)
	batch := []events.Event{makeEvent("org-1", "store-1", "cam-1", 7)}

	rec := postBulk(t, h, "edge_good.secret", batch)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBulk(t, rec)
	assert.Equal(t, BulkResponse{Status: "ok", Inserted: 1, Duplicates: 0, Total: 1}, resp)

	// Same batch again: nothing inserted, everything reported duplicate.
	rec = postBulk(t, h, "edge_good.secret", batch)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBulk(t, rec)
	assert.Equal(t, BulkResponse{Status: "ok", Inserted: 0, Duplicates: 1, Total: 1}, resp)
	assert.Len(t, fs.seen, 1)
}

func TestBulkMixedBatchCountsDuplicates(t *testing.T) {
	fs := newFakeStore()
	h := NewHandlers(fs, nil, nil)

	postBulk(t, h, "edge_good.secret", []events.Event{makeEvent("org-1", "store-1", "cam-1", 1)})
	rec := postBulk(t, h, "edge_good.secret", []events.Event{
		makeEvent("org-1", "store-1", "cam-1", 1),
		makeEvent("org-1", "store-1", "cam-1", 2),
	})
	resp := decodeBulk(t, rec)
	assert.Equal(t, 1, resp.Inserted)
	assert.Equal(t, 1, resp.Duplicates)
	assert.Equal(t, 2, resp.Total)
}

func TestBulkRejectsScopeMismatch(t *testing.T) {
	fs := newFakeStore()
	h := NewHandlers(fs, nil, nil)

	// Wrong store for this credential: whole request refused, nothing stored.
	rec := postBulk(t, h, "edge_good.secret", []events.Event{
		makeEvent("org-1", "store-1", "cam-1", 1),
		makeEvent("org-1", "store-9", "cam-1", 2),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fs.seen)

	rec = postBulk(t, h, "edge_good.secret", []events.Event{makeEvent("org-2", "store-1", "cam-1", 1)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBulkCameraScopedCredential(t *testing.T) {
	fs := newFakeStore()
	h := NewHandlers(fs, nil, nil)

	rec := postBulk(t, h, "edge_cam.secret", []events.Event{makeEvent("org-1", "store-1", "cam-1", 1)})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postBulk(t, h, "edge_cam.secret", []events.Event{makeEvent("org-1", "store-1", "cam-2", 2)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBulkAuthFailures(t *testing.T) {
	h := NewHandlers(newFakeStore(), nil, nil)

	rec := postBulk(t, h, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postBulk(t, h, "edge_bogus.nope", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBulkRejectsInvalidEvent(t *testing.T) {
	h := NewHandlers(newFakeStore(), nil, nil)

	bad := makeEvent("org-1", "store-1", "cam-1", 1)
	bad.TS = "not-a-timestamp"
	rec := postBulk(t, h, "edge_good.secret", []events.Event{bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkMalformedBody(t *testing.T) {
	h := NewHandlers(newFakeStore(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/events/bulk", bytes.NewReader([]byte("{nope")))
	req.Header.Set("Authorization", "Bearer edge_good.secret")
	rec := httptest.NewRecorder()
	h.Bulk()(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkInsertErrorIs500(t *testing.T) {
	fs := newFakeStore()
	fs.insertCh = assert.AnError
	h := NewHandlers(fs, nil, nil)

	rec := postBulk(t, h, "edge_good.secret", []events.Event{makeEvent("org-1", "store-1", "cam-1", 1)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBulkTouchesCredential(t *testing.T) {
	fs := newFakeStore()
	h := NewHandlers(fs, nil, nil)

	postBulk(t, h, "edge_good.secret", []events.Event{makeEvent("org-1", "store-1", "cam-1", 1)})
	assert.Equal(t, []string{"good"}, fs.touched)
}

func postHeartbeat(t *testing.T, h *Handlers, token string, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest/heartbeat", bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.Heartbeat()(rec, req)
	return rec
}

func TestHeartbeat(t *testing.T) {
	fs := newFakeStore()
	h := NewHandlers(fs, nil, nil)

	rec := postHeartbeat(t, h, "edge_good.secret", map[string]interface{}{
		"org_id":     "org-1",
		"store_id":   "store-1",
		"camera_ids": []string{"cam-1", "cam-2"},
		"ts":         events.FormatTS(time.Now()),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(2), resp["cameras_count"])
	assert.Equal(t, []string{"good"}, fs.touched)
}

func TestHeartbeatScopeMismatch(t *testing.T) {
	h := NewHandlers(newFakeStore(), nil, nil)

	rec := postHeartbeat(t, h, "edge_good.secret", map[string]interface{}{
		"org_id":   "org-1",
		"store_id": "store-9",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
