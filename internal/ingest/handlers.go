// Package ingest implements the edge-facing write path: bearer-token
// authentication, scope enforcement, idempotent bulk inserts, and heartbeats.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/winklabs/storepulse/internal/events"
	"github.com/winklabs/storepulse/internal/live"
	"github.com/winklabs/storepulse/internal/metrics"
	"github.com/winklabs/storepulse/internal/store"
)

// EventStore is the persistence surface the handlers need.
type EventStore interface {
	AuthenticateToken(ctx context.Context, token string) (*store.Credential, error)
	InsertEvent(ctx context.Context, ev events.Event) (bool, error)
	TouchCredential(ctx context.Context, credentialID string) error
}

// Handlers serves /v1/events/bulk and /v1/ingest/heartbeat.
type Handlers struct {
	store   EventStore
	live    *live.Publisher
	metrics *metrics.Server
	logger  *log.Logger
}

// NewHandlers wires the ingest endpoints. live and m may be nil.
func NewHandlers(es EventStore, lp *live.Publisher, m *metrics.Server) *Handlers {
	return &Handlers{
		store:   es,
		live:    lp,
		metrics: m,
		logger:  log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// BulkResponse mirrors the wire contract for /v1/events/bulk.
type BulkResponse struct {
	Status     string `json:"status"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Total      int    `json:"total"`
}

// authenticate resolves the bearer token to a credential, or writes 401.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) *store.Credential {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return nil
	}

	cred, err := h.store.AuthenticateToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidToken) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
		} else {
			h.logger.Printf("❌ Credential lookup failed: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return nil
	}
	return cred
}

// Bulk handles POST /v1/events/bulk. The whole batch is checked against the
// credential scope before anything is written: a single out-of-scope event
// fails the request with 403 so a misconfigured edge is loud, not silently
// partial.
func (h *Handlers) Bulk() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		cred := h.authenticate(w, r)
		if cred == nil {
			return
		}

		var body struct {
			Events []events.Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.reject("malformed_body")
			http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		credScope := cred.Scope()
		for _, ev := range body.Events {
			if err := ev.Validate(); err != nil {
				h.reject("invalid_event")
				http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
				return
			}
			if err := credScope.Authorize(ev.OrgID, ev.StoreID, ev.CameraID); err != nil {
				h.reject("scope")
				h.logger.Printf("⚠️  Scope violation from credential %s: org=%s store=%s",
					cred.CredentialID, ev.OrgID, ev.StoreID)
				http.Error(w, "event outside credential scope", http.StatusForbidden)
				return
			}
		}

		inserted, duplicates := 0, 0
		for _, ev := range body.Events {
			ok, err := h.store.InsertEvent(r.Context(), ev)
			if err != nil {
				h.logger.Printf("❌ Insert failed for %s: %v", ev.EventID, err)
				http.Error(w, "insert failed", http.StatusInternalServerError)
				return
			}
			if ok {
				inserted++
				if h.metrics != nil {
					h.metrics.EventsIngested.WithLabelValues(ev.StoreID, string(ev.Type)).Inc()
				}
			} else {
				duplicates++
				if h.metrics != nil {
					h.metrics.EventsDuplicate.WithLabelValues(ev.StoreID).Inc()
				}
			}
		}

		// Post-insert side effects are best-effort and never fail the request.
		if err := h.store.TouchCredential(r.Context(), cred.CredentialID); err != nil {
			h.logger.Printf("⚠️  last_seen update failed for %s: %v", cred.CredentialID, err)
		}
		h.live.PublishBatch(r.Context(), body.Events)

		if h.metrics != nil {
			h.metrics.BulkBatchSize.Observe(float64(len(body.Events)))
			h.metrics.IngestDuration.Observe(time.Since(start).Seconds())
		}

		writeJSON(w, http.StatusOK, BulkResponse{
			Status:     "ok",
			Inserted:   inserted,
			Duplicates: duplicates,
			Total:      len(body.Events),
		})
	}
}

// Heartbeat handles POST /v1/ingest/heartbeat.
func (h *Handlers) Heartbeat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred := h.authenticate(w, r)
		if cred == nil {
			return
		}

		var hb struct {
			OrgID     string   `json:"org_id"`
			StoreID   string   `json:"store_id"`
			CameraIDs []string `json:"camera_ids"`
			TS        string   `json:"ts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		// Heartbeats are store-wide, so camera-scoped credentials pass their
		// own camera id through the check.
		if err := cred.Scope().Authorize(hb.OrgID, hb.StoreID, cred.CameraID); err != nil {
			http.Error(w, "heartbeat outside credential scope", http.StatusForbidden)
			return
		}

		if err := h.store.TouchCredential(r.Context(), cred.CredentialID); err != nil {
			h.logger.Printf("⚠️  last_seen update failed for %s: %v", cred.CredentialID, err)
		}
		if h.metrics != nil {
			h.metrics.Heartbeats.WithLabelValues(hb.StoreID).Inc()
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
			"cameras_count": len(hb.CameraIDs),
		})
	}
}

func (h *Handlers) reject(reason string) {
	if h.metrics != nil {
		h.metrics.EventsRejected.WithLabelValues(reason).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
