package lifecycle

import (
	"context"
	"testing"

	"github.com/cuberepo/cuberepo/internal/advice"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cache"
	"github.com/cuberepo/cuberepo/internal/cerrs"
	"github.com/cuberepo/cuberepo/internal/cube"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/lock"
	"github.com/cuberepo/cuberepo/internal/memstore"
	"github.com/cuberepo/cuberepo/internal/permission"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/stretchr/testify/require"
)

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(ctx context.Context, id appid.AppId) {}

func newController() (*Controller, *memstore.Store, appid.AppId) {
	store := memstore.New()
	h := hydrate.New(store, cache.New(), advice.New())
	perm := permission.New(h)
	lk := lock.New(h, store)
	c := New(store, h, perm, lk, noopBroadcaster{})
	c.ReleaseQuiesceDelay = 0
	id := appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: appid.Head}
	return c, store, id
}

func TestReleaseCubesProducesReleaseAndNewHead(t *testing.T) {
	ctx := context.Background()
	c, store, id := newController()

	x := cube.New(id, "x")
	x.SetCell(1, map[string]string{"a": "1"})
	_, err := store.UpdateCube(ctx, x, "init")
	require.NoError(t, err)
	y := cube.New(id, "y")
	y.SetCell(2, map[string]string{"a": "1"})
	_, err = store.UpdateCube(ctx, y, "init")
	require.NoError(t, err)

	released, err := c.ReleaseCubes(ctx, id, "1.0.1", "root")
	require.NoError(t, err)
	require.Len(t, released, 2)

	newHeadID := id.AsVersion("1.0.1").AsSnapshot().AsHead()
	xLive, err := store.LoadCube(ctx, newHeadID, "x")
	require.NoError(t, err)
	require.NotNil(t, xLive)

	releaseID := id.AsRelease()
	xRelease, err := store.LoadCube(ctx, releaseID, "x")
	require.NoError(t, err)
	require.NotNil(t, xRelease)

	// lock released at the end
	require.NoError(t, c.Lock.AssertNotLockBlocked(ctx, id, "someone-else"))
}

func TestReleaseCubesRejectsBootVersion(t *testing.T) {
	ctx := context.Background()
	c, _, id := newController()
	id.Version = appid.BootVersion
	_, err := c.ReleaseCubes(ctx, id, "1.0.1", "root")
	require.True(t, cerrs.Is(err, cerrs.KindInput))
}

func TestReleaseCubesRejectsDuplicateRelease(t *testing.T) {
	ctx := context.Background()
	c, store, id := newController()
	x := cube.New(id, "x")
	_, err := store.UpdateCube(ctx, x, "init")
	require.NoError(t, err)

	_, err = c.ReleaseCubes(ctx, id, "1.0.1", "root")
	require.NoError(t, err)

	_, err = c.ReleaseCubes(ctx, id, "1.0.2", "root")
	require.True(t, cerrs.Is(err, cerrs.KindInput))
}

func TestMoveBranchRequiresLock(t *testing.T) {
	ctx := context.Background()
	c, store, id := newController()
	branchID := id.AsBranch("dev")
	x := cube.New(branchID, "x")
	_, err := store.UpdateCube(ctx, x, "init")
	require.NoError(t, err)

	err = c.MoveBranch(ctx, branchID, "1.0.1", "root")
	require.True(t, cerrs.Is(err, cerrs.KindState))

	require.NoError(t, c.Lock.Lock(ctx, branchID, "root"))
	require.NoError(t, c.MoveBranch(ctx, branchID, "1.0.1", "root"))

	moved, err := store.LoadCube(ctx, branchID.AsVersion("1.0.1"), "x")
	require.NoError(t, err)
	require.NotNil(t, moved)
}

var _ ports.Broadcaster = noopBroadcaster{}
