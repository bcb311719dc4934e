package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/winklabs/storepulse/internal/events"
)

// Client posts event batches and heartbeats to the cloud ingestion service.
type Client struct {
	apiBase    string
	token      string
	httpClient *http.Client
	hbClient   *http.Client
}

// BulkResponse is the ingestion service's answer to a bulk post.
type BulkResponse struct {
	Status     string `json:"status"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Total      int    `json:"total"`
}

// Heartbeat is the liveness report posted every heartbeat interval.
type Heartbeat struct {
	OrgID     string   `json:"org_id"`
	StoreID   string   `json:"store_id"`
	CameraIDs []string `json:"camera_ids"`
	TS        string   `json:"ts"`
}

// NewClient builds an API client for apiBase with a bearer token. Heartbeats
// get a tighter timeout than bulk posts so a stalled backend cannot hold the
// heartbeat loop for long.
func NewClient(apiBase, token string) *Client {
	return &Client{
		apiBase:    apiBase,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		hbClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

// PostBulk sends one batch to /v1/events/bulk. Non-2xx statuses are errors so
// the dispatcher's retry ladder treats them the same as transport failures.
func (c *Client) PostBulk(ctx context.Context, batch []events.Event) (*BulkResponse, error) {
	body, err := json.Marshal(map[string][]events.Event{"events": batch})
	if err != nil {
		return nil, fmt.Errorf("marshal bulk payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/events/bulk", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post bulk: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bulk endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var out BulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	return &out, nil
}

// PostHeartbeat sends a liveness report to /v1/ingest/heartbeat.
func (c *Client) PostHeartbeat(ctx context.Context, hb Heartbeat) error {
	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/ingest/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.hbClient.Do(req)
	if err != nil {
		return fmt.Errorf("post heartbeat: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("heartbeat endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
}
