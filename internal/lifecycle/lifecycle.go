// Package lifecycle implements the LifecycleController (spec §4.6):
// moving a branch to a new version and releasing a version's HEAD into
// a frozen RELEASE, both gated by the caller holding the advisory
// sys.lock.
package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cerrs"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/lock"
	"github.com/cuberepo/cuberepo/internal/permission"
	"github.com/cuberepo/cuberepo/internal/ports"
)

// lifecycleResource is the permission resource checked for move/release;
// unlike branch mutations (checked per cube name), these operations act
// on a whole version, so they are checked against a single conventional
// resource name rather than per-cube.
const lifecycleResource = "sys.lifecycle"

// Controller is the LifecycleController.
type Controller struct {
	Persister   ports.PersisterPort
	Hydrator    *hydrate.Hydrator
	Perm        *permission.Evaluator
	Lock        *lock.Coordinator
	Broadcaster ports.Broadcaster

	// ReleaseQuiesceDelay replaces the source's stack-walking test-mode
	// detection (spec §9 Open Question): production wiring sets this to
	// a few seconds, tests set it to zero.
	ReleaseQuiesceDelay time.Duration
}

func New(p ports.PersisterPort, h *hydrate.Hydrator, perm *permission.Evaluator, lk *lock.Coordinator, bc ports.Broadcaster) *Controller {
	return &Controller{Persister: p, Hydrator: h, Perm: perm, Lock: lk, Broadcaster: bc}
}

func (c *Controller) assertReleasePermission(ctx context.Context, id appid.AppId, user string) error {
	ok, err := c.Perm.Allow(ctx, id, user, lifecycleResource, ports.ActionRelease)
	if err != nil {
		return err
	}
	if !ok {
		return cerrs.Security("user %q may not release/move %s", user, id)
	}
	return nil
}

// MoveBranch relocates every revision of one branch to newVersion and
// clears the old location's cache, per §4.6.
func (c *Controller) MoveBranch(ctx context.Context, id appid.AppId, newVersion, user string) error {
	if id.Version == appid.BootVersion || newVersion == appid.BootVersion {
		return cerrs.Input("cannot move to or from the administrative version %s", appid.BootVersion)
	}
	if err := c.assertReleasePermission(ctx, id, user); err != nil {
		return err
	}
	if err := c.Lock.AssertLockedByMe(ctx, id, user); err != nil {
		return err
	}
	if err := c.Persister.MoveBranch(ctx, id, newVersion, user); err != nil {
		return err
	}
	c.Hydrator.InvalidateBranches(id)
	return nil
}

// ReleaseVersion is the narrow persister-delegating form of release:
// it requires the caller to already hold sys.lock (unlike ReleaseCubes,
// which acquires it as part of the workflow), then makes a direct
// persister call with none of ReleaseCubes' branch-relocation or
// quiesce steps.
func (c *Controller) ReleaseVersion(ctx context.Context, id appid.AppId, newSnapshotVersion, user string) ([]ports.CubeInfo, error) {
	if err := c.preflightRelease(ctx, id, newSnapshotVersion, user); err != nil {
		return nil, err
	}
	if err := c.Lock.AssertLockedByMe(ctx, id, user); err != nil {
		return nil, err
	}
	return c.Persister.ReleaseCubes(ctx, id, newSnapshotVersion, user)
}

// preflightRelease holds the checks common to both release entry
// points: permission, the reserved administrative version, that no
// RELEASE already exists at the version being frozen, and that no
// SNAPSHOT or RELEASE already exists at the target version the frozen
// set is about to be copied into (spec §4.6(a): releasing into a
// version that already has content must never silently overwrite it).
func (c *Controller) preflightRelease(ctx context.Context, id appid.AppId, newSnapshotVersion, user string) error {
	if id.Version == appid.BootVersion || newSnapshotVersion == appid.BootVersion {
		return cerrs.Input("cannot release the administrative version %s", appid.BootVersion)
	}
	if err := c.assertReleasePermission(ctx, id, user); err != nil {
		return err
	}
	versions, err := c.Persister.GetVersions(ctx, id.Tenant, id.App)
	if err != nil {
		return err
	}
	for _, v := range versions[string(appid.Release)] {
		if v == id.Version {
			return cerrs.Input("a RELEASE already exists at version %s", id.Version)
		}
	}
	for _, v := range versions[string(appid.Snapshot)] {
		if v == newSnapshotVersion {
			return cerrs.Input("a SNAPSHOT already exists at target version %s", newSnapshotVersion)
		}
	}
	for _, v := range versions[string(appid.Release)] {
		if v == newSnapshotVersion {
			return cerrs.Input("a RELEASE already exists at target version %s", newSnapshotVersion)
		}
	}
	return nil
}

// ReleaseCubes implements the full release workflow of §4.6(a)-(g):
// verify no release exists yet, acquire the lock, let readers quiesce,
// move every non-HEAD branch forward, release HEAD, seed the new
// HEAD, clear caches, broadcast, and unlock.
func (c *Controller) ReleaseCubes(ctx context.Context, id appid.AppId, newSnapshotVersion, user string) ([]ports.CubeInfo, error) {
	if err := c.preflightRelease(ctx, id, newSnapshotVersion, user); err != nil {
		return nil, err
	}

	if err := c.Lock.Lock(ctx, id, user); err != nil {
		return nil, err
	}

	if c.ReleaseQuiesceDelay > 0 {
		select {
		case <-time.After(c.ReleaseQuiesceDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	branches, err := c.Persister.GetBranches(ctx, id.AsHead())
	if err != nil {
		return nil, err
	}
	for branch := range branches {
		if strings.EqualFold(branch, appid.Head) {
			continue
		}
		branchID := id.AsBranch(branch)
		if err := c.Persister.MoveBranch(ctx, branchID, newSnapshotVersion, user); err != nil {
			return nil, err
		}
	}

	released, err := c.Persister.ReleaseCubes(ctx, id.AsHead(), newSnapshotVersion, user)
	if err != nil {
		return nil, err
	}

	c.Hydrator.InvalidateBranches(id)
	c.Broadcaster.Broadcast(ctx, id)

	if err := c.Lock.Unlock(ctx, id, user); err != nil {
		return nil, err
	}
	return released, nil
}
