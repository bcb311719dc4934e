// Package scope is the single authorization gate for tenant-scoped resources.
// Every read and write path resolves a Scope from its credential and checks
// the requested resource against it here; handlers never compare org or store
// IDs themselves.
package scope

import (
	"context"
	"errors"
	"fmt"
)

// Scope is the resource set a credential may touch. CameraID is optional:
// empty means every camera in the store.
type Scope struct {
	OrgID    string
	StoreID  string
	CameraID string
}

// ErrDenied is returned for any scope violation. Callers map it to HTTP 403.
var ErrDenied = errors.New("scope denied")

// Authorize checks whether s covers the requested (org, store, camera).
// camera may be empty when the operation is store-wide. A store-wide
// operation is never authorized for a camera-restricted credential.
func (s Scope) Authorize(orgID, storeID, cameraID string) error {
	if orgID == "" || storeID == "" {
		return fmt.Errorf("%w: org and store are required", ErrDenied)
	}
	if orgID != s.OrgID {
		return fmt.Errorf("%w: org %s not covered", ErrDenied, orgID)
	}
	if storeID != s.StoreID {
		return fmt.Errorf("%w: store %s not covered", ErrDenied, storeID)
	}
	if s.CameraID != "" && cameraID != s.CameraID {
		return fmt.Errorf("%w: camera %q not covered", ErrDenied, cameraID)
	}
	return nil
}

// contextKey is unexported so nothing outside this package can collide.
type contextKey struct{}

// WithScope attaches the resolved scope to the request context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext extracts the scope placed by the auth middleware.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(contextKey{}).(Scope)
	return s, ok
}
