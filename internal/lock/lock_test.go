package lock

import (
	"context"
	"testing"

	"github.com/cuberepo/cuberepo/internal/advice"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cache"
	"github.com/cuberepo/cuberepo/internal/cerrs"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/memstore"
	"github.com/stretchr/testify/require"
)

func newCoordinator() (*Coordinator, appid.AppId) {
	store := memstore.New()
	h := hydrate.New(store, cache.New(), advice.New())
	id := appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: "dev"}
	return New(h, store), id
}

func TestLockUnlockRoundTrip(t *testing.T) {
	c, id := newCoordinator()
	ctx := context.Background()

	require.NoError(t, c.AssertNotLockBlocked(ctx, id, "alice"))
	require.NoError(t, c.Lock(ctx, id, "alice"))
	require.NoError(t, c.AssertLockedByMe(ctx, id, "alice"))

	err := c.AssertNotLockBlocked(ctx, id, "bob")
	require.True(t, cerrs.Is(err, cerrs.KindState))

	require.NoError(t, c.Unlock(ctx, id, "alice"))
	require.NoError(t, c.AssertNotLockBlocked(ctx, id, "bob"))
}

func TestLockReentrantForOwner(t *testing.T) {
	c, id := newCoordinator()
	ctx := context.Background()
	require.NoError(t, c.Lock(ctx, id, "alice"))
	require.NoError(t, c.Lock(ctx, id, "alice"))
}

func TestLockRejectsOtherOwner(t *testing.T) {
	c, id := newCoordinator()
	ctx := context.Background()
	require.NoError(t, c.Lock(ctx, id, "alice"))
	err := c.Lock(ctx, id, "bob")
	require.True(t, cerrs.Is(err, cerrs.KindState))
}

func TestUnlockRejectsNonOwner(t *testing.T) {
	c, id := newCoordinator()
	ctx := context.Background()
	require.NoError(t, c.Lock(ctx, id, "alice"))
	err := c.Unlock(ctx, id, "bob")
	require.True(t, cerrs.Is(err, cerrs.KindState))
}

func TestAssertLockedByMeFailsWhenUnlocked(t *testing.T) {
	c, id := newCoordinator()
	err := c.AssertLockedByMe(context.Background(), id, "alice")
	require.True(t, cerrs.Is(err, cerrs.KindState))
}
