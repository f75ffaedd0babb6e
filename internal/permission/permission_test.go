package permission

import (
	"context"
	"testing"

	"github.com/cuberepo/cuberepo/internal/admincubes"
	"github.com/cuberepo/cuberepo/internal/advice"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cache"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/memstore"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) (*Evaluator, *memstore.Store, appid.AppId) {
	store := memstore.New()
	h := hydrate.New(store, cache.New(), advice.New())
	eval := New(h)
	id := appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: "HEAD"}
	return eval, store, id
}

func TestBootstrapModeAllowsEverything(t *testing.T) {
	eval, _, id := newEvaluator(t)
	ok, err := eval.Allow(context.Background(), id, "anyone", "whatever", ports.ActionUpdate)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockReadAlwaysAllowed(t *testing.T) {
	eval, store, id := newEvaluator(t)
	seedDenyAll(t, store, id)
	ok, err := eval.Allow(context.Background(), id, "nobody", "sys.lock", ports.ActionRead)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReadonlyCanReadNotUpdate(t *testing.T) {
	eval, store, id := newEvaluator(t)
	seedReadonly(t, store, id, "ro-user")

	ok, err := eval.Allow(context.Background(), id, "ro-user", "orders", ports.ActionRead)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = eval.Allow(context.Background(), id, "ro-user", "orders", ports.ActionUpdate)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdminBypassesBranchPermissions(t *testing.T) {
	eval, store, id := newEvaluator(t)
	seedAdmin(t, store, id, "root")
	ok, err := eval.Allow(context.Background(), id, "root", "orders", ports.ActionUpdate)
	require.NoError(t, err)
	require.True(t, ok)
}

func seedDenyAll(t *testing.T, store *memstore.Store, id appid.AppId) {
	t.Helper()
	perms := admincubes.NewPermissionsCube(id.Tenant, id.App)
	groups := admincubes.NewUserGroupsCube(id.Tenant, id.App)
	_, err := store.UpdateCube(context.Background(), perms, "seed")
	require.NoError(t, err)
	_, err = store.UpdateCube(context.Background(), groups, "seed")
	require.NoError(t, err)
}

func seedReadonly(t *testing.T, store *memstore.Store, id appid.AppId, user string) {
	t.Helper()
	perms := admincubes.NewPermissionsCube(id.Tenant, id.App)
	admincubes.SeedDefaultPermissions(perms)
	groups := admincubes.NewUserGroupsCube(id.Tenant, id.App)
	groups.SetCell(true, map[string]string{"user": user, "role": "readonly"})
	_, err := store.UpdateCube(context.Background(), perms, "seed")
	require.NoError(t, err)
	_, err = store.UpdateCube(context.Background(), groups, "seed")
	require.NoError(t, err)
}

func seedAdmin(t *testing.T, store *memstore.Store, id appid.AppId, user string) {
	t.Helper()
	perms := admincubes.NewPermissionsCube(id.Tenant, id.App)
	admincubes.SeedDefaultPermissions(perms)
	groups := admincubes.NewUserGroupsCube(id.Tenant, id.App)
	admincubes.SeedDefaultUserGroups(groups, user)
	_, err := store.UpdateCube(context.Background(), perms, "seed")
	require.NoError(t, err)
	_, err = store.UpdateCube(context.Background(), groups, "seed")
	require.NoError(t, err)
}
