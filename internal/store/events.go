package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/winklabs/storepulse/internal/events"
)

// pqUniqueViolation is Postgres error class 23505.
const pqUniqueViolation = "23505"

// InsertEvent writes one event and reports whether it was new. A unique
// violation on event_id means a retry or spool replay already delivered it;
// that is the normal idempotency path, not an error.
func (s *Store) InsertEvent(ctx context.Context, ev events.Event) (bool, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	ts, err := events.ParseTS(ev.TS)
	if err != nil {
		return false, err
	}

	personKey := sql.NullString{String: ev.PersonID(), Valid: ev.PersonID() != ""}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, org_id, store_id, camera_id, person_key, type, ts, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.EventID, ev.OrgID, ev.StoreID, ev.CameraID, personKey, string(ev.Type), ts, payload)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("insert event %s: %w", ev.EventID, err)
	}
	return true, nil
}
