package bootstrap

import (
	"context"
	"testing"

	"github.com/cuberepo/cuberepo/internal/admincubes"
	"github.com/cuberepo/cuberepo/internal/advice"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cache"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/memstore"
	"github.com/stretchr/testify/require"
)

func newBootstrapper() (*Bootstrapper, *memstore.Store) {
	store := memstore.New()
	h := hydrate.New(store, cache.New(), advice.New())
	return New(store, h), store
}

func TestDetectNewAppIdSeedsAdminCubes(t *testing.T) {
	ctx := context.Background()
	b, store := newBootstrapper()
	id := appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: appid.Head}

	require.NoError(t, b.DetectNewAppId(ctx, id, "root"))

	boot := appid.Boot("acme", "pricing")
	perms, err := store.LoadCube(ctx, boot, admincubes.Permissions)
	require.NoError(t, err)
	require.NotNil(t, perms)

	groups, err := store.LoadCube(ctx, boot, admincubes.UserGroups)
	require.NoError(t, err)
	require.NotNil(t, groups)
	v, ok := groups.GetCell(map[string]string{"user": "root", "role": "admin"})
	require.True(t, ok)
	require.Equal(t, true, v)
}

func TestDetectNewAppIdIsNoopWhenAlreadySeeded(t *testing.T) {
	ctx := context.Background()
	b, store := newBootstrapper()
	id := appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: appid.Head}

	require.NoError(t, b.DetectNewAppId(ctx, id, "root"))
	boot := appid.Boot("acme", "pricing")
	revs, err := store.GetRevisions(ctx, boot, admincubes.UserGroups)
	require.NoError(t, err)
	require.Len(t, revs, 1)

	require.NoError(t, b.DetectNewAppId(ctx, id, "someoneelse"))
	revs, err = store.GetRevisions(ctx, boot, admincubes.UserGroups)
	require.NoError(t, err)
	require.Len(t, revs, 1)
}

func TestOnNewBranchSeedsAndPopulates(t *testing.T) {
	ctx := context.Background()
	b, store := newBootstrapper()
	id := appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: "dev"}

	called := false
	require.NoError(t, b.OnNewBranch(ctx, id, "bob", func(ctx context.Context) error {
		called = true
		return nil
	}))
	require.True(t, called)

	branchPermID := appid.Boot("acme", "pricing").AsBranch("dev")
	perms, err := store.LoadCube(ctx, branchPermID, admincubes.BranchPermissions)
	require.NoError(t, err)
	require.NotNil(t, perms)
	v, ok := perms.GetCell(map[string]string{"resource": "*", "user": "bob"})
	require.True(t, ok)
	require.Equal(t, true, v)
}

func TestOnNewBranchSkipsHead(t *testing.T) {
	ctx := context.Background()
	b, _ := newBootstrapper()
	id := appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: appid.Head}
	called := false
	require.NoError(t, b.OnNewBranch(ctx, id, "bob", func(ctx context.Context) error {
		called = true
		return nil
	}))
	require.False(t, called)
}
