package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Camera is a provisioned camera row.
type Camera struct {
	CameraID     string
	OrgID        string
	StoreID      string
	Name         string
	IsEntrance   bool
	Capabilities []string
	Config       json.RawMessage
}

// CreateOrg inserts an organization. Upsert on name so provisioning reruns
// are harmless.
func (s *Store) CreateOrg(ctx context.Context, orgID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orgs (org_id, name) VALUES ($1, $2)
		ON CONFLICT (org_id) DO UPDATE SET name = EXCLUDED.name`,
		orgID, name)
	if err != nil {
		return fmt.Errorf("create org: %w", err)
	}
	return nil
}

// CreateStore inserts a store under an org.
func (s *Store) CreateStore(ctx context.Context, storeID, orgID, name, timezone string) error {
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (store_id, org_id, name, timezone) VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_id) DO UPDATE SET name = EXCLUDED.name, timezone = EXCLUDED.timezone`,
		storeID, orgID, name, timezone)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	return nil
}

// CreateCamera inserts a camera. is_entrance controls whether the footfall
// aggregation counts this camera's entrance events.
func (s *Store) CreateCamera(ctx context.Context, cam Camera) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cameras (camera_id, org_id, store_id, name, is_entrance, capabilities, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (camera_id) DO UPDATE SET
			name = EXCLUDED.name,
			is_entrance = EXCLUDED.is_entrance,
			capabilities = EXCLUDED.capabilities,
			config = EXCLUDED.config`,
		cam.CameraID, cam.OrgID, cam.StoreID, cam.Name, cam.IsEntrance,
		pq.Array(cam.Capabilities), nullableJSON(cam.Config))
	if err != nil {
		return fmt.Errorf("create camera: %w", err)
	}
	return nil
}

// StoreOrg returns the org owning a store, for API-side scope checks.
func (s *Store) StoreOrg(ctx context.Context, storeID string) (string, error) {
	var orgID string
	err := s.db.QueryRowContext(ctx,
		`SELECT org_id FROM stores WHERE store_id = $1`, storeID).Scan(&orgID)
	if err != nil {
		return "", fmt.Errorf("lookup store %s: %w", storeID, err)
	}
	return orgID, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
