package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/winklabs/storepulse/internal/analytics"
	"github.com/winklabs/storepulse/internal/store"
)

// window is the parsed (store_id, from, to) triple every range query needs.
type window struct {
	storeID string
	from    time.Time
	to      time.Time
}

// parseWindow reads the common query params. from/to are RFC 3339.
func parseWindow(r *http.Request) (window, error) {
	q := r.URL.Query()

	w := window{storeID: q.Get("store_id")}
	if w.storeID == "" {
		return w, errBadRequest("store_id is required")
	}

	var err error
	w.from, err = parseTimeParam(q.Get("from"))
	if err != nil {
		return w, errBadRequest("invalid from: " + err.Error())
	}
	w.to, err = parseTimeParam(q.Get("to"))
	if err != nil {
		return w, errBadRequest("invalid to: " + err.Error())
	}
	if !w.to.After(w.from) {
		return w, errBadRequest("to must be after from")
	}
	return w, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errBadRequest("missing")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	// Bare dates are accepted as midnight UTC.
	return time.Parse("2006-01-02", v)
}

type apiError struct {
	msg string
}

func (e apiError) Error() string { return e.msg }

func errBadRequest(msg string) error { return apiError{msg: msg} }

func (s *Server) handleFootfall(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, win.storeID) {
		return
	}

	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		bucket = store.BucketHour
	}

	series, err := s.analytics.Footfall(r.Context(), win.storeID, win.from, win.to, bucket)
	if err != nil {
		s.queryError(w, "footfall", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"store_id": win.storeID, "footfall": series})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, win.storeID) {
		return
	}

	zones, err := s.analytics.Zones(r.Context(), win.storeID, win.from, win.to)
	if err != nil {
		s.queryError(w, "zones", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"store_id": win.storeID, "zones": zones})
}

func (s *Server) handleShelves(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, win.storeID) {
		return
	}

	shelves, err := s.analytics.Shelves(r.Context(), win.storeID, win.from, win.to)
	if err != nil {
		s.queryError(w, "shelves", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"store_id": win.storeID, "shelves": shelves})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, win.storeID) {
		return
	}

	stats, err := s.analytics.Queue(r.Context(), win.storeID, win.from, win.to)
	if err != nil {
		s.queryError(w, "queue", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePeakHour(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, win.storeID) {
		return
	}

	peak, err := s.analytics.Peak(r.Context(), win.storeID, win.from, win.to)
	if err != nil {
		s.queryError(w, "peak_hour", err)
		return
	}
	writeJSON(w, http.StatusOK, peak)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		http.Error(w, "store_id is required", http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, storeID) {
		return
	}

	windowSec := 60
	if v := r.URL.Query().Get("window_sec"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "window_sec must be a positive integer", http.StatusBadRequest)
			return
		}
		windowSec = n
	}

	snap, err := s.analytics.Live(r.Context(), storeID, time.Duration(windowSec)*time.Second)
	if err != nil {
		s.queryError(w, "live", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePromo(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, win.storeID) {
		return
	}

	baselineDays := 14
	if v := r.URL.Query().Get("baseline_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "baseline_days must be a positive integer", http.StatusBadRequest)
			return
		}
		baselineDays = n
	}
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = store.MetricFootfall
	}
	if metric != store.MetricFootfall && metric != store.MetricInteractions && metric != store.MetricZoneDwell {
		http.Error(w, "unknown metric", http.StatusBadRequest)
		return
	}

	report, err := s.analytics.Promo(r.Context(), win.storeID, win.from, win.to, baselineDays, metric)
	if err != nil {
		s.queryError(w, "promo", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSpikes(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, win.storeID) {
		return
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = store.MetricFootfall
	}
	if metric != store.MetricFootfall && metric != store.MetricInteractions {
		http.Error(w, "unknown metric", http.StatusBadRequest)
		return
	}

	thresholdZ := 0.0
	if v := r.URL.Query().Get("threshold_z"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			http.Error(w, "threshold_z must be a positive number", http.StatusBadRequest)
			return
		}
		thresholdZ = f
	}

	spikes, err := s.analytics.Spikes(r.Context(), win.storeID, win.from, win.to, metric, thresholdZ)
	if err != nil {
		s.queryError(w, "spikes", err)
		return
	}
	if spikes == nil {
		spikes = []analytics.Spike{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"spikes": spikes})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.authorizeStore(w, r, win.storeID) {
		return
	}

	summary, err := s.analytics.Aggregate(r.Context(), win.storeID, win.from, win.to)
	if err != nil {
		s.queryError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) queryError(w http.ResponseWriter, endpoint string, err error) {
	s.logger.Printf("❌ %s query failed: %v", endpoint, err)
	http.Error(w, "query failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
