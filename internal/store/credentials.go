package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/winklabs/storepulse/internal/scope"
)

// Edge tokens look like edge_<id>.<secret>. The id is the lookup key and is
// stored in clear; only the secret is bcrypt-hashed. The full token is shown
// once at mint time and never again.
const tokenPrefix = "edge_"

// ErrInvalidToken covers every authentication failure: malformed token,
// unknown id, wrong secret, revoked credential. Callers map it to HTTP 401
// without leaking which check failed.
var ErrInvalidToken = errors.New("invalid edge token")

// Credential is a stored edge credential, without its secret.
type Credential struct {
	CredentialID string
	OrgID        string
	StoreID      string
	CameraID     string
	Active       bool
	LastSeen     sql.NullTime
}

// Scope converts the credential to its authorization scope.
func (c Credential) Scope() scope.Scope {
	return scope.Scope{OrgID: c.OrgID, StoreID: c.StoreID, CameraID: c.CameraID}
}

// CreateCredential mints a new edge credential scoped to (org, store) and
// optionally one camera. Returns the full token.
func (s *Store) CreateCredential(ctx context.Context, orgID, storeID, cameraID string) (string, error) {
	idBytes := make([]byte, 8)
	rand.Read(idBytes)
	credentialID := hex.EncodeToString(idBytes)

	secretBytes := make([]byte, 24)
	rand.Read(secretBytes)
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential secret: %w", err)
	}

	camera := sql.NullString{String: cameraID, Valid: cameraID != ""}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edge_credentials (credential_id, secret_hash, org_id, store_id, camera_id)
		VALUES ($1, $2, $3, $4, $5)`,
		credentialID, string(hash), orgID, storeID, camera)
	if err != nil {
		return "", fmt.Errorf("insert credential: %w", err)
	}

	return fmt.Sprintf("%s%s.%s", tokenPrefix, credentialID, secret), nil
}

// AuthenticateToken resolves a bearer token to its credential. The returned
// credential is active and its secret matched.
func (s *Store) AuthenticateToken(ctx context.Context, token string) (*Credential, error) {
	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return nil, ErrInvalidToken
	}
	credentialID, secret, ok := strings.Cut(rest, ".")
	if !ok || credentialID == "" || secret == "" {
		return nil, ErrInvalidToken
	}

	var (
		cred   Credential
		hash   string
		camera sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT credential_id, secret_hash, org_id, store_id, camera_id, active, last_seen
		FROM edge_credentials WHERE credential_id = $1`,
		credentialID).Scan(&cred.CredentialID, &hash, &cred.OrgID, &cred.StoreID, &camera, &cred.Active, &cred.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	cred.CameraID = camera.String

	if !cred.Active {
		return nil, ErrInvalidToken
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		return nil, ErrInvalidToken
	}
	return &cred, nil
}

// TouchCredential records a successful use. Fleet dashboards read last_seen
// to find dead edges, so this is best-effort and callers ignore the error.
func (s *Store) TouchCredential(ctx context.Context, credentialID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE edge_credentials SET last_seen = $1 WHERE credential_id = $2`,
		time.Now().UTC(), credentialID)
	return err
}

// RevokeCredential deactivates a credential without deleting its audit trail.
func (s *Store) RevokeCredential(ctx context.Context, credentialID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE edge_credentials SET active = false WHERE credential_id = $1`, credentialID)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %s not found", credentialID)
	}
	return nil
}
