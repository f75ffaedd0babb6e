package cuberepo

import (
	"context"
	"testing"

	"github.com/cuberepo/cuberepo/internal/admincubes"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cerrs"
	"github.com/cuberepo/cuberepo/internal/cube"
	"github.com/cuberepo/cuberepo/internal/memstore"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/stretchr/testify/require"
)

func newManager() (*Manager, *memstore.Store) {
	store := memstore.New()
	mgr := New(Config{Persister: store, Delta: cube.DeltaProcessor{}})
	return mgr, store
}

func headID() AppId {
	return AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: Snapshot, Branch: Head}
}

// TestCreateCommitUpdate exercises scenario 1: an app's first touch
// bootstraps admin cubes, a branch forks off HEAD and commits a change
// back, and HEAD then holds the committed change.
func TestCreateCommitUpdate(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager()
	id := headID()

	orders := cube.New(id, "orders",
		ports.Axis{Name: "row", Columns: []string{"1", "2"}},
		ports.Axis{Name: "col", Columns: []string{"1", "2"}},
	)
	orders.SetCell(10, map[string]string{"row": "1", "col": "1"})
	_, err := mgr.UpdateCube(ctx, orders, "root")
	require.NoError(t, err)

	require.NoError(t, mgr.CreateBranch(ctx, id, "dev", "bob"))

	branchID := id.AsBranch("dev")
	branchLive, err := mgr.GetCube(ctx, branchID, "orders", "bob")
	require.NoError(t, err)
	dup := branchLive.Duplicate("orders").(*cube.Cube)
	dup.SetCell(20, map[string]string{"row": "1", "col": "2"})
	_, err = mgr.UpdateCube(ctx, dup, "bob")
	require.NoError(t, err)

	require.NoError(t, mgr.CommitBranch(ctx, branchID, "bob"))

	headLive, err := mgr.GetCube(ctx, id, "orders", "root")
	require.NoError(t, err)
	v, ok := headLive.GetCell(map[string]string{"row": "1", "col": "2"})
	require.True(t, ok)
	require.Equal(t, 20, v)

	_ = store
}

// TestCompatibleMergeScenario exercises scenario 2: disjoint edits on
// branch and head merge automatically on commit.
func TestCompatibleMergeScenario(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager()
	id := headID()

	orders := cube.New(id, "orders", ports.Axis{Name: "row", Columns: []string{"1", "2"}})
	orders.SetCell(1, map[string]string{"row": "1"})
	_, err := mgr.UpdateCube(ctx, orders, "root")
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, id, "dev", "bob"))
	branchID := id.AsBranch("dev")

	headLive, err := mgr.GetCube(ctx, id, "orders", "root")
	require.NoError(t, err)
	headDup := headLive.Duplicate("orders").(*cube.Cube)
	headDup.SetCell(2, map[string]string{"row": "2"})
	_, err = mgr.UpdateCube(ctx, headDup, "alice")
	require.NoError(t, err)

	branchLive, err := mgr.GetCube(ctx, branchID, "orders", "bob")
	require.NoError(t, err)
	branchDup := branchLive.Duplicate("orders").(*cube.Cube)
	branchDup.SetCell(3, map[string]string{"row": "1"})
	_, err = mgr.UpdateCube(ctx, branchDup, "bob")
	require.NoError(t, err)

	require.NoError(t, mgr.CommitBranch(ctx, branchID, "bob"))

	merged, err := mgr.GetCube(ctx, id, "orders", "root")
	require.NoError(t, err)
	v1, _ := merged.GetCell(map[string]string{"row": "1"})
	v2, _ := merged.GetCell(map[string]string{"row": "2"})
	require.Equal(t, 3, v1)
	require.Equal(t, 2, v2)
}

// TestConflictScenario exercises scenario 3: overlapping edits to the
// same cell surface a MergeConflictError naming the cube.
func TestConflictScenario(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager()
	id := headID()

	orders := cube.New(id, "orders", ports.Axis{Name: "row", Columns: []string{"1"}})
	orders.SetCell(1, map[string]string{"row": "1"})
	_, err := mgr.UpdateCube(ctx, orders, "root")
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, id, "dev", "bob"))
	branchID := id.AsBranch("dev")

	headLive, err := mgr.GetCube(ctx, id, "orders", "root")
	require.NoError(t, err)
	headDup := headLive.Duplicate("orders").(*cube.Cube)
	headDup.SetCell(9, map[string]string{"row": "1"})
	_, err = mgr.UpdateCube(ctx, headDup, "alice")
	require.NoError(t, err)

	branchLive, err := mgr.GetCube(ctx, branchID, "orders", "bob")
	require.NoError(t, err)
	branchDup := branchLive.Duplicate("orders").(*cube.Cube)
	branchDup.SetCell(7, map[string]string{"row": "1"})
	_, err = mgr.UpdateCube(ctx, branchDup, "bob")
	require.NoError(t, err)

	err = mgr.CommitBranch(ctx, branchID, "bob")
	require.Error(t, err)
	mc, ok := cerrs.AsMergeConflict(err)
	require.True(t, ok)
	require.Contains(t, mc.Errors, "orders")
}

// TestReleaseScenario exercises scenario 4: releasing HEAD produces a
// frozen RELEASE and a fresh SNAPSHOT HEAD at the new version.
func TestReleaseScenario(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManager()
	id := headID()

	orders := cube.New(id, "orders")
	_, err := mgr.UpdateCube(ctx, orders, "root")
	require.NoError(t, err)

	released, err := mgr.ReleaseCubes(ctx, id, "1.0.1", "root")
	require.NoError(t, err)
	require.Len(t, released, 1)

	releaseLive, err := store.LoadCube(ctx, id.AsRelease(), "orders")
	require.NoError(t, err)
	require.NotNil(t, releaseLive)

	newHeadLive, err := store.LoadCube(ctx, id.AsVersion("1.0.1").AsSnapshot().AsHead(), "orders")
	require.NoError(t, err)
	require.NotNil(t, newHeadLive)
}

// TestPermissionDenialScenario exercises scenario 5: a readonly user
// may read but not mutate.
func TestPermissionDenialScenario(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager()
	id := headID()

	orders := cube.New(id, "orders")
	_, err := mgr.UpdateCube(ctx, orders, "root")
	require.NoError(t, err)

	groups := admincubes.NewUserGroupsCube(id.Tenant, id.App)
	admincubes.SeedDefaultUserGroups(groups, "root")
	groups.SetCell(true, map[string]string{"user": "viewer", "role": "readonly"})
	_, err = mgr.Persister.UpdateCube(ctx, groups, "root")
	require.NoError(t, err)
	perms := admincubes.NewPermissionsCube(id.Tenant, id.App)
	admincubes.SeedDefaultPermissions(perms)
	_, err = mgr.Persister.UpdateCube(ctx, perms, "root")
	require.NoError(t, err)
	mgr.Hydrator.InvalidateAll(appid.Boot(id.Tenant, id.App))

	live, err := mgr.GetCube(ctx, id, "orders", "viewer")
	require.NoError(t, err)
	require.NotNil(t, live)

	dup := live.Duplicate("orders").(*cube.Cube)
	dup.SetCell(1, nil)
	_, err = mgr.UpdateCube(ctx, dup, "viewer")
	require.True(t, cerrs.Is(err, cerrs.KindSecurity))
}

// TestLockContentionScenario exercises scenario 6: while alice holds
// sys.lock, bob's update to a cube of the same app is rejected, and the
// same update goes through once alice releases the lock.
func TestLockContentionScenario(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager()
	id := headID()

	orders := cube.New(id, "orders")
	_, err := mgr.UpdateCube(ctx, orders, "root")
	require.NoError(t, err)

	require.NoError(t, mgr.AcquireLock(ctx, id, "alice"))

	dup := orders.Duplicate("orders").(*cube.Cube)
	dup.SetCell(1, nil)
	_, err = mgr.UpdateCube(ctx, dup, "bob")
	require.Error(t, err)

	require.NoError(t, mgr.ReleaseLock(ctx, id, "alice"))

	_, err = mgr.UpdateCube(ctx, dup, "bob")
	require.NoError(t, err)
}
