// Package bootstrap implements the on-first-touch provisioning of
// administrative cubes (spec §4.7): a tenant/app pair gets its default
// sys.usergroups/sys.permissions/sys.lock the first time anything
// touches it, and a newly created non-HEAD branch gets its own
// sys.branch.permissions, then an immediate pull from HEAD.
package bootstrap

import (
	"context"

	"github.com/cuberepo/cuberepo/internal/admincubes"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/ports"
)

// Bootstrapper provisions administrative cubes on first use.
type Bootstrapper struct {
	Persister ports.PersisterPort
	Hydrator  *hydrate.Hydrator
}

func New(p ports.PersisterPort, h *hydrate.Hydrator) *Bootstrapper {
	return &Bootstrapper{Persister: p, Hydrator: h}
}

// DetectNewAppId is a no-op iff a search of the boot AppId already has
// records; otherwise it seeds the default admin cubes, making the
// caller their first admin.
func (b *Bootstrapper) DetectNewAppId(ctx context.Context, id appid.AppId, creator string) error {
	boot := appid.Boot(id.Tenant, id.App)
	existing, err := b.Persister.Search(ctx, boot, "", "", ports.SearchOptions{ActiveRecordsOnly: false})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	groups := admincubes.NewUserGroupsCube(id.Tenant, id.App)
	admincubes.SeedDefaultUserGroups(groups, creator)
	if _, err := b.Persister.UpdateCube(ctx, groups, creator); err != nil {
		return err
	}

	perms := admincubes.NewPermissionsCube(id.Tenant, id.App)
	admincubes.SeedDefaultPermissions(perms)
	if _, err := b.Persister.UpdateCube(ctx, perms, creator); err != nil {
		return err
	}

	lockCube := admincubes.NewLockCube(id.Tenant, id.App)
	if _, err := b.Persister.UpdateCube(ctx, lockCube, creator); err != nil {
		return err
	}

	b.Hydrator.InvalidateAll(boot)
	return nil
}

// OnNewBranch seeds sys.branch.permissions for a freshly created
// non-HEAD branch, granting the creator full access to it, then runs
// populate (supplied by the caller - normally the branch engine's
// update-from-HEAD) to pull HEAD's current cubes into the new branch.
// Taking populate as a callback rather than importing internal/branch
// directly avoids a bootstrap<->branch import cycle, since the branch
// engine itself calls DetectNewAppId during ordinary mutations.
func (b *Bootstrapper) OnNewBranch(ctx context.Context, id appid.AppId, creator string, populate func(ctx context.Context) error) error {
	if id.IsHead() {
		return nil
	}
	branchPerms := admincubes.NewBranchPermissionsCube(id.Tenant, id.App, id.Branch)
	admincubes.SeedBranchOwner(branchPerms, creator)
	if _, err := b.Persister.UpdateCube(ctx, branchPerms, creator); err != nil {
		return err
	}
	b.Hydrator.Invalidate(appid.Boot(id.Tenant, id.App).AsBranch(id.Branch), admincubes.BranchPermissions)

	if populate != nil {
		if err := populate(ctx); err != nil {
			return err
		}
	}
	return nil
}
