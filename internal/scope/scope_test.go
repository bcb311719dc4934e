package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeStoreWideCredential(t *testing.T) {
	s := Scope{OrgID: "org-1", StoreID: "store-1"}

	assert.NoError(t, s.Authorize("org-1", "store-1", ""))
	assert.NoError(t, s.Authorize("org-1", "store-1", "cam-3"))

	assert.ErrorIs(t, s.Authorize("org-2", "store-1", ""), ErrDenied)
	assert.ErrorIs(t, s.Authorize("org-1", "store-2", ""), ErrDenied)
	assert.ErrorIs(t, s.Authorize("", "", ""), ErrDenied)
}

func TestAuthorizeCameraRestrictedCredential(t *testing.T) {
	s := Scope{OrgID: "org-1", StoreID: "store-1", CameraID: "cam-1"}

	assert.NoError(t, s.Authorize("org-1", "store-1", "cam-1"))
	assert.ErrorIs(t, s.Authorize("org-1", "store-1", "cam-2"), ErrDenied)

	// Store-wide operations are off limits for a per-camera key.
	assert.ErrorIs(t, s.Authorize("org-1", "store-1", ""), ErrDenied)
}

func TestScopeContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	want := Scope{OrgID: "org-1", StoreID: "store-1"}
	ctx := WithScope(context.Background(), want)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
