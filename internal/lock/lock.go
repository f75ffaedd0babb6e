// Package lock implements the coarse, persister-backed advisory lock
// (spec §4.4) that gates move and release: a single cell in the
// sys.lock cube holding the current owner's user-id, read and written
// through the shared hydrator like any other cube.
package lock

import (
	"context"
	"strings"
	"time"

	"github.com/cuberepo/cuberepo/internal/admincubes"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cerrs"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/cuberepo/cuberepo/internal/telemetry"
)

var ownerCoords = map[string]string{"system": "*"}

// Coordinator reads and writes sys.lock at an app's boot AppId.
type Coordinator struct {
	Hydrator  *hydrate.Hydrator
	Persister ports.PersisterPort
}

func New(h *hydrate.Hydrator, p ports.PersisterPort) *Coordinator {
	return &Coordinator{Hydrator: h, Persister: p}
}

// owner returns the current lock owner, or "" if unlocked.
func (c *Coordinator) owner(ctx context.Context, boot appid.AppId) (string, error) {
	lockCube, err := c.Hydrator.Load(ctx, boot, admincubes.Lock)
	if err != nil {
		return "", err
	}
	if lockCube == nil {
		return "", nil
	}
	v, ok := lockCube.GetCell(ownerCoords)
	if !ok {
		return "", nil
	}
	s, _ := v.(string)
	return s, nil
}

// Lock acquires sys.lock for user. A no-op if user already owns it;
// fails with a cerrs.State error if another user does.
func (c *Coordinator) Lock(ctx context.Context, id appid.AppId, user string) error {
	start := time.Now()
	boot := appid.Boot(id.Tenant, id.App)
	owner, err := c.owner(ctx, boot)
	if err != nil {
		return err
	}
	if owner != "" && !strings.EqualFold(owner, user) {
		telemetry.LockWaitSeconds.WithLabelValues(boot.CacheKey(), "denied").Observe(time.Since(start).Seconds())
		return cerrs.State("sys.lock is held by %q", owner)
	}
	if strings.EqualFold(owner, user) {
		telemetry.LockWaitSeconds.WithLabelValues(boot.CacheKey(), "already_held").Observe(time.Since(start).Seconds())
		return nil
	}

	lockCube := admincubes.NewLockCube(boot.Tenant, boot.App)
	lockCube.SetCell(user, ownerCoords)
	if _, err := c.Persister.UpdateCube(ctx, lockCube, user); err != nil {
		return err
	}
	c.Hydrator.Invalidate(boot, admincubes.Lock)
	telemetry.LockWaitSeconds.WithLabelValues(boot.CacheKey(), "acquired").Observe(time.Since(start).Seconds())
	return nil
}

// Unlock releases sys.lock. Fails unless user currently owns it.
func (c *Coordinator) Unlock(ctx context.Context, id appid.AppId, user string) error {
	boot := appid.Boot(id.Tenant, id.App)
	owner, err := c.owner(ctx, boot)
	if err != nil {
		return err
	}
	if owner == "" {
		return cerrs.State("sys.lock is not held, so %q cannot release it", user)
	}
	if !strings.EqualFold(owner, user) {
		return cerrs.State("sys.lock is held by %q, not %q", owner, user)
	}

	lockCube := admincubes.NewLockCube(boot.Tenant, boot.App)
	lockCube.SetCell("", ownerCoords)
	if _, err := c.Persister.UpdateCube(ctx, lockCube, user); err != nil {
		return err
	}
	c.Hydrator.Invalidate(boot, admincubes.Lock)
	return nil
}

// AssertNotLockBlocked succeeds iff sys.lock is unowned or owned by
// user; every mutating operation other than move/release calls this.
func (c *Coordinator) AssertNotLockBlocked(ctx context.Context, id appid.AppId, user string) error {
	boot := appid.Boot(id.Tenant, id.App)
	owner, err := c.owner(ctx, boot)
	if err != nil {
		return err
	}
	if owner != "" && !strings.EqualFold(owner, user) {
		return cerrs.State("sys.lock is held by %q", owner)
	}
	return nil
}

// AssertLockedByMe succeeds iff sys.lock is owned by user; move and
// release require an explicit, held lock rather than merely "not
// blocked".
func (c *Coordinator) AssertLockedByMe(ctx context.Context, id appid.AppId, user string) error {
	boot := appid.Boot(id.Tenant, id.App)
	owner, err := c.owner(ctx, boot)
	if err != nil {
		return err
	}
	if owner == "" || !strings.EqualFold(owner, user) {
		return cerrs.State("sys.lock is not held by %q", user)
	}
	return nil
}
