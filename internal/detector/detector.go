// Package detector turns raw tracker output into analytics events. It keeps
// per-track state for one camera and runs the capability state machines
// (entrance, zones, shelves, queue) over each frame's detections.
package detector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/winklabs/storepulse/internal/events"
	"github.com/winklabs/storepulse/internal/geometry"
)

// Camera capabilities. Geometry for a capability is ignored unless the
// capability is enabled.
const (
	CapEntrance = "entrance"
	CapZones    = "zones"
	CapShelves  = "shelves"
	CapQueue    = "queue"
)

// TrackMaxAge is how long a track survives without a detection before it is
// garbage collected. Open zone, shelf, and queue intervals die with it.
const TrackMaxAge = 10 * time.Second

// BBox is a tracker bounding box in frame pixels.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Centroid is the knee-height reference point: bottom-center of the box
// raised by a quarter of its height. It sits on the floor plane better than
// the box center, which is what the zone and queue polygons are drawn for.
func (b BBox) Centroid() geometry.Point {
	return geometry.Point{
		X: (b.X1 + b.X2) / 2,
		Y: b.Y2 - (b.Y2-b.Y1)/4,
	}
}

// Detection is one tracked person in one frame.
type Detection struct {
	TrackID string
	Box     BBox
}

// Geometry is the camera's calibrated layout in live frame coordinates.
type Geometry struct {
	Entrance *geometry.Line
	Zones    map[string]geometry.Polygon
	Shelves  map[string]geometry.Polygon
	Queues   map[string]geometry.Polygon
}

// PersonTrack is the ephemeral per-person state. It exists only on the edge
// and never leaves the process.
type PersonTrack struct {
	TrackID      string
	PersonID     string
	LastSeen     time.Time
	Centroid     geometry.Point
	PrevCentroid geometry.Point

	CurrentZones map[string]struct{}
	ZoneEnterTS  map[string]time.Time

	CurrentShelves map[string]struct{}
	ShelfEnterTS   map[string]time.Time

	InQueue      bool
	QueueID      string
	QueueEnterTS time.Time

	EntranceCrossed bool
}

func newPersonTrack(trackID, cameraID string) *PersonTrack {
	return &PersonTrack{
		TrackID:        trackID,
		PersonID:       fmt.Sprintf("%s_t%s", cameraID, trackID),
		CurrentZones:   make(map[string]struct{}),
		ZoneEnterTS:    make(map[string]time.Time),
		CurrentShelves: make(map[string]struct{}),
		ShelfEnterTS:   make(map[string]time.Time),
	}
}

// Detector runs the capability state machines for one camera. Not safe for
// concurrent use; each camera worker owns exactly one.
type Detector struct {
	orgID    string
	storeID  string
	cameraID string

	caps map[string]bool
	geo  Geometry

	tracks map[string]*PersonTrack
}

// New builds a detector for one camera with the given capability set.
func New(orgID, storeID, cameraID string, capabilities []string, geo Geometry) *Detector {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	return &Detector{
		orgID:    orgID,
		storeID:  storeID,
		cameraID: cameraID,
		caps:     caps,
		geo:      geo,
		tracks:   make(map[string]*PersonTrack),
	}
}

// TrackCount reports live tracks, for metrics.
func (d *Detector) TrackCount() int { return len(d.tracks) }

// ProcessFrame updates track state from one frame's detections and returns
// the events completed by this frame. It also garbage-collects tracks unseen
// for longer than TrackMaxAge.
func (d *Detector) ProcessFrame(now time.Time, dets []Detection) []events.Event {
	var out []events.Event
	tsISO := events.FormatTS(now)

	for _, det := range dets {
		track, ok := d.tracks[det.TrackID]
		if !ok {
			track = newPersonTrack(det.TrackID, d.cameraID)
			// First sighting: prev and current coincide so a single frame
			// never reads as movement across the entrance line.
			track.Centroid = det.Box.Centroid()
		}
		track.PrevCentroid = track.Centroid
		track.Centroid = det.Box.Centroid()
		track.LastSeen = now
		d.tracks[det.TrackID] = track

		if d.caps[CapEntrance] {
			if ev, ok := d.processEntrance(track, tsISO); ok {
				out = append(out, ev)
			}
		}
		if d.caps[CapZones] {
			out = append(out, d.processZones(track, now, tsISO)...)
		}
		if d.caps[CapShelves] {
			out = append(out, d.processShelves(track, now, tsISO)...)
		}
		if d.caps[CapQueue] {
			if ev, ok := d.processQueue(track, now, tsISO); ok {
				out = append(out, ev)
			}
		}
	}

	d.gc(now)
	return out
}

// processEntrance emits at most one entrance event per track lifetime. Once a
// track has crossed it stays counted until the tracker forgets it, so a
// person loitering on the line is not double counted.
func (d *Detector) processEntrance(track *PersonTrack, tsISO string) (events.Event, bool) {
	if d.geo.Entrance == nil || track.EntranceCrossed {
		return events.Event{}, false
	}
	p1, p2 := d.geo.Entrance[0], d.geo.Entrance[1]
	if !geometry.LineCrossing(track.PrevCentroid, track.Centroid, p1, p2) {
		return events.Event{}, false
	}
	track.EntranceCrossed = true
	dir := string(geometry.CrossingDirection(track.PrevCentroid, track.Centroid, p1, p2))

	payload := events.EntrancePayload{Direction: dir, PersonID: track.PersonID}
	return d.envelope(track, tsISO, events.TypeEntrance, payload), true
}

func (d *Detector) processZones(track *PersonTrack, now time.Time, tsISO string) []events.Event {
	if len(d.geo.Zones) == 0 {
		return nil
	}

	current := make(map[string]struct{})
	for _, zid := range sortedKeys(d.geo.Zones) {
		if geometry.PointInPolygon(track.Centroid, d.geo.Zones[zid], geometry.DefaultTolerance) {
			current[zid] = struct{}{}
		}
	}

	for zid := range current {
		if _, was := track.CurrentZones[zid]; !was {
			track.ZoneEnterTS[zid] = now
		}
	}

	var out []events.Event
	for _, zid := range sortedKeys(d.geo.Zones) {
		_, was := track.CurrentZones[zid]
		_, is := current[zid]
		if !was || is {
			continue
		}
		enter, ok := track.ZoneEnterTS[zid]
		if !ok {
			continue
		}
		dwell := now.Sub(enter).Seconds()
		if dwell >= events.MinDwellSeconds {
			payload := events.ZoneDwellPayload{
				LogicalZone:  zid,
				DwellSeconds: round2(dwell),
				PersonID:     track.PersonID,
			}
			out = append(out, d.envelope(track, tsISO, events.TypeZoneDwell, payload))
		}
		delete(track.ZoneEnterTS, zid)
	}

	track.CurrentZones = current
	return out
}

func (d *Detector) processShelves(track *PersonTrack, now time.Time, tsISO string) []events.Event {
	if len(d.geo.Shelves) == 0 {
		return nil
	}

	current := make(map[string]struct{})
	for _, sid := range sortedKeys(d.geo.Shelves) {
		if geometry.PointInPolygon(track.Centroid, d.geo.Shelves[sid], geometry.DefaultTolerance) {
			current[sid] = struct{}{}
		}
	}

	for sid := range current {
		if _, was := track.CurrentShelves[sid]; !was {
			track.ShelfEnterTS[sid] = now
		}
	}

	var out []events.Event
	for _, sid := range sortedKeys(d.geo.Shelves) {
		_, was := track.CurrentShelves[sid]
		_, is := current[sid]
		if !was || is {
			continue
		}
		enter, ok := track.ShelfEnterTS[sid]
		if !ok {
			continue
		}
		dwell := now.Sub(enter).Seconds()
		if dwell >= events.MinDwellSeconds {
			payload := events.ShelfInteractionPayload{
				LogicalShelf: sid,
				Action:       "touch",
				DwellSeconds: round2(dwell),
				PersonID:     track.PersonID,
			}
			out = append(out, d.envelope(track, tsISO, events.TypeShelfInteraction, payload))
		}
		delete(track.ShelfEnterTS, sid)
	}

	track.CurrentShelves = current
	return out
}

// processQueue keeps single queue membership: the first matching polygon in
// sorted key order wins when queue areas overlap.
func (d *Detector) processQueue(track *PersonTrack, now time.Time, tsISO string) (events.Event, bool) {
	if len(d.geo.Queues) == 0 {
		return events.Event{}, false
	}

	inAny := false
	for _, qid := range sortedKeys(d.geo.Queues) {
		if geometry.PointInPolygon(track.Centroid, d.geo.Queues[qid], geometry.DefaultTolerance) {
			inAny = true
			if !track.InQueue {
				track.InQueue = true
				track.QueueID = qid
				track.QueueEnterTS = now
			}
			break
		}
	}

	if inAny || !track.InQueue {
		return events.Event{}, false
	}

	wait := now.Sub(track.QueueEnterTS).Seconds()
	payload := events.QueuePresencePayload{
		Queue:       track.QueueID,
		WaitSeconds: round2(wait),
		PersonID:    track.PersonID,
	}
	ev := d.envelope(track, tsISO, events.TypeQueuePresence, payload)

	track.InQueue = false
	track.QueueID = ""
	track.QueueEnterTS = time.Time{}
	return ev, true
}

func (d *Detector) envelope(track *PersonTrack, tsISO string, etype events.Type, payload events.Payload) events.Event {
	return events.Event{
		EventID:  events.EventID(d.cameraID, track.TrackID, tsISO, etype, payload.LogicalKey()),
		OrgID:    d.orgID,
		StoreID:  d.storeID,
		CameraID: d.cameraID,
		Type:     etype,
		TS:       tsISO,
		Payload:  payload,
	}
}

func (d *Detector) gc(now time.Time) {
	for tid, track := range d.tracks {
		if now.Sub(track.LastSeen) > TrackMaxAge {
			delete(d.tracks, tid)
		}
	}
}

func sortedKeys(m map[string]geometry.Polygon) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
