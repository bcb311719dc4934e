// Package events defines the wire-level event model shared by the edge
// collector and the ingestion service: the envelope, the per-type payload
// variants, and the deterministic event identity used for deduplication.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type discriminates event payloads.
type Type string

const (
	TypeEntrance         Type = "entrance"
	TypeZoneDwell        Type = "zone_dwell"
	TypeShelfInteraction Type = "shelf_interaction"
	TypeQueuePresence    Type = "queue_presence"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeEntrance, TypeZoneDwell, TypeShelfInteraction, TypeQueuePresence:
		return true
	}
	return false
}

// MinDwellSeconds is the anti-noise threshold: zone and shelf intervals
// shorter than this are never reported.
const MinDwellSeconds = 4.0

// tsLayout is the canonical UTC timestamp format. The same string is hashed
// into the event ID and sent on the wire, so it must never change.
const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTS renders t in the canonical wire format (UTC, microseconds).
func FormatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// ParseTS parses a wire timestamp. Timestamps without an explicit offset are
// rejected: edge clocks are the time authority and must be unambiguous.
func ParseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// ============================================================================
// PAYLOAD VARIANTS
// ============================================================================

// Payload is the per-type body of an event. Each variant knows its logical
// key (zone/shelf/queue id or direction) which feeds the event identity.
type Payload interface {
	EventType() Type
	// LogicalKey is the per-variant discriminator hashed into the event ID.
	LogicalKey() string
	Validate() error
}

// EntrancePayload records a one-shot entrance line crossing.
type EntrancePayload struct {
	Direction string `json:"direction"`
	PersonID  string `json:"person_id"`
}

func (p EntrancePayload) EventType() Type    { return TypeEntrance }
func (p EntrancePayload) LogicalKey() string { return p.Direction }

func (p EntrancePayload) Validate() error {
	if p.Direction != "in" && p.Direction != "out" {
		return fmt.Errorf("entrance direction must be in or out, got %q", p.Direction)
	}
	if p.PersonID == "" {
		return errors.New("entrance person_id is required")
	}
	return nil
}

// ZoneDwellPayload records a completed zone visit above the dwell threshold.
type ZoneDwellPayload struct {
	LogicalZone  string  `json:"logical_zone"`
	DwellSeconds float64 `json:"dwell_seconds"`
	PersonID     string  `json:"person_id"`
}

func (p ZoneDwellPayload) EventType() Type    { return TypeZoneDwell }
func (p ZoneDwellPayload) LogicalKey() string { return p.LogicalZone }

func (p ZoneDwellPayload) Validate() error {
	if p.LogicalZone == "" {
		return errors.New("zone_dwell logical_zone is required")
	}
	if p.DwellSeconds < MinDwellSeconds {
		return fmt.Errorf("zone_dwell dwell_seconds %.2f below minimum %.1f", p.DwellSeconds, MinDwellSeconds)
	}
	if p.PersonID == "" {
		return errors.New("zone_dwell person_id is required")
	}
	return nil
}

// ShelfInteractionPayload records a completed shelf touch interval.
type ShelfInteractionPayload struct {
	LogicalShelf string  `json:"logical_shelf"`
	Action       string  `json:"action"`
	DwellSeconds float64 `json:"dwell_seconds"`
	PersonID     string  `json:"person_id"`
}

func (p ShelfInteractionPayload) EventType() Type    { return TypeShelfInteraction }
func (p ShelfInteractionPayload) LogicalKey() string { return p.LogicalShelf }

func (p ShelfInteractionPayload) Validate() error {
	if p.LogicalShelf == "" {
		return errors.New("shelf_interaction logical_shelf is required")
	}
	if p.Action != "touch" {
		return fmt.Errorf("shelf_interaction action must be touch, got %q", p.Action)
	}
	if p.DwellSeconds < MinDwellSeconds {
		return fmt.Errorf("shelf_interaction dwell_seconds %.2f below minimum %.1f", p.DwellSeconds, MinDwellSeconds)
	}
	if p.PersonID == "" {
		return errors.New("shelf_interaction person_id is required")
	}
	return nil
}

// QueuePresencePayload records a completed queue wait.
type QueuePresencePayload struct {
	Queue       string  `json:"queue"`
	WaitSeconds float64 `json:"wait_seconds"`
	PersonID    string  `json:"person_id"`
}

func (p QueuePresencePayload) EventType() Type    { return TypeQueuePresence }
func (p QueuePresencePayload) LogicalKey() string { return p.Queue }

func (p QueuePresencePayload) Validate() error {
	if p.Queue == "" {
		return errors.New("queue_presence queue is required")
	}
	if p.WaitSeconds < 0 {
		return fmt.Errorf("queue_presence wait_seconds must be >= 0, got %.2f", p.WaitSeconds)
	}
	if p.PersonID == "" {
		return errors.New("queue_presence person_id is required")
	}
	return nil
}

// ============================================================================
// ENVELOPE
// ============================================================================

// Event is the wire envelope posted to /v1/events/bulk. TS is the
// edge-assigned event time in canonical format; it is the time authority for
// all aggregation.
type Event struct {
	EventID  string  `json:"event_id"`
	OrgID    string  `json:"org_id"`
	StoreID  string  `json:"store_id"`
	CameraID string  `json:"camera_id"`
	Type     Type    `json:"type"`
	TS       string  `json:"ts"`
	Payload  Payload `json:"payload"`
}

// PersonID returns the per-camera person identifier carried in the payload.
func (e Event) PersonID() string {
	switch p := e.Payload.(type) {
	case EntrancePayload:
		return p.PersonID
	case ZoneDwellPayload:
		return p.PersonID
	case ShelfInteractionPayload:
		return p.PersonID
	case QueuePresencePayload:
		return p.PersonID
	}
	return ""
}

// Validate checks the envelope and the payload variant against the wire
// contract. The event ID itself is opaque and only checked for presence.
func (e Event) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.OrgID == "" || e.StoreID == "" {
		return errors.New("org_id and store_id are required")
	}
	if e.CameraID == "" {
		return errors.New("camera_id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if _, err := ParseTS(e.TS); err != nil {
		return err
	}
	if e.Payload == nil {
		return errors.New("payload is required")
	}
	if e.Payload.EventType() != e.Type {
		return fmt.Errorf("payload kind %s does not match envelope type %s", e.Payload.EventType(), e.Type)
	}
	return e.Payload.Validate()
}

// UnmarshalJSON decodes the envelope and picks the payload variant from the
// type tag, so malformed payloads are rejected at the wire boundary instead
// of deep inside the aggregation layer.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		EventID  string          `json:"event_id"`
		OrgID    string          `json:"org_id"`
		StoreID  string          `json:"store_id"`
		CameraID string          `json:"camera_id"`
		Type     Type            `json:"type"`
		TS       string          `json:"ts"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.EventID = raw.EventID
	e.OrgID = raw.OrgID
	e.StoreID = raw.StoreID
	e.CameraID = raw.CameraID
	e.Type = raw.Type
	e.TS = raw.TS
	e.Payload = nil

	if len(raw.Payload) == 0 {
		return nil
	}

	switch raw.Type {
	case TypeEntrance:
		var p EntrancePayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case TypeZoneDwell:
		var p ZoneDwellPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case TypeShelfInteraction:
		var p ShelfInteractionPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case TypeQueuePresence:
		var p QueuePresencePayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	return nil
}

// ============================================================================
// EVENT IDENTITY
// ============================================================================

// EventID derives the globally unique, deterministic dedup key:
// SHA256(camera_id | track_id | ts | type | logical_key). Two workers with
// identical inputs produce identical IDs, which makes retries and spool
// replays idempotent at the database layer.
func EventID(cameraID, trackID, tsISO string, etype Type, logicalKey string) string {
	h := sha256.New()
	h.Write([]byte(cameraID))
	h.Write([]byte("|"))
	h.Write([]byte(trackID))
	h.Write([]byte("|"))
	h.Write([]byte(tsISO))
	h.Write([]byte("|"))
	h.Write([]byte(etype))
	if logicalKey != "" {
		h.Write([]byte("|"))
		h.Write([]byte(logicalKey))
	}
	return hex.EncodeToString(h.Sum(nil))
}
