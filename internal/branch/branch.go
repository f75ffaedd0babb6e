// Package branch implements the BranchEngine (spec §4.5): the three-way
// merge between a branch and its head, and the generic eight-step
// mutation pipeline (validate -> reject release -> detect new AppId ->
// permission -> lock -> persister -> invalidate -> broadcast) shared by
// duplicate, rename, delete and update-cube.
package branch

import (
	"context"

	"github.com/cuberepo/cuberepo/internal/admincubes"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cerrs"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/lock"
	"github.com/cuberepo/cuberepo/internal/permission"
	"github.com/cuberepo/cuberepo/internal/ports"
)

// NewAppIdDetector auto-creates the administrative cubes for an AppId
// the first time it is touched. Wired in from internal/bootstrap by
// the root Manager; a plain func field (rather than an import) avoids
// a bootstrap<->branch import cycle, since bootstrap's own branch
// population hook needs to call back into Engine.UpdateBranch.
type NewAppIdDetector func(ctx context.Context, id appid.AppId, user string) error

// Engine is the BranchEngine.
type Engine struct {
	Persister   ports.PersisterPort
	Delta       ports.DeltaProcessor
	Hydrator    *hydrate.Hydrator
	Perm        *permission.Evaluator
	Lock        *lock.Coordinator
	Broadcaster ports.Broadcaster

	DetectNewAppId NewAppIdDetector
}

func New(persister ports.PersisterPort, delta ports.DeltaProcessor, h *hydrate.Hydrator, perm *permission.Evaluator, lk *lock.Coordinator, bc ports.Broadcaster) *Engine {
	return &Engine{Persister: persister, Delta: delta, Hydrator: h, Perm: perm, Lock: lk, Broadcaster: bc}
}

// runMutation implements the eight-step pipeline common to duplicate,
// renameCube, deleteCubes and updateCube.
func (e *Engine) runMutation(ctx context.Context, id appid.AppId, user string, names []string, fn func(ctx context.Context) error) error {
	if err := id.Validate(); err != nil {
		return cerrs.Input("%v", err)
	}
	if id.IsRelease() {
		return cerrs.Input("cannot mutate release AppId %s", id)
	}
	if e.DetectNewAppId != nil {
		if err := e.DetectNewAppId(ctx, id, user); err != nil {
			return err
		}
	}
	for _, name := range names {
		ok, err := e.Perm.Allow(ctx, id, user, name, ports.ActionUpdate)
		if err != nil {
			return err
		}
		if !ok {
			return cerrs.Security("user %q may not update %q", user, name)
		}
	}
	if err := e.Lock.AssertNotLockBlocked(ctx, id, user); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	e.invalidateForNames(id, names)
	e.Broadcaster.Broadcast(ctx, id)
	return nil
}

func (e *Engine) invalidateForNames(id appid.AppId, names []string) {
	for _, n := range names {
		if admincubes.IsClasspath(n) {
			e.Hydrator.InvalidateAll(id)
			return
		}
	}
	for _, n := range names {
		e.Hydrator.Invalidate(id, n)
	}
}

func (e *Engine) DuplicateCube(ctx context.Context, id appid.AppId, name, newName, user string) (ports.CubeInfo, error) {
	var out ports.CubeInfo
	err := e.runMutation(ctx, id, user, []string{name, newName}, func(ctx context.Context) error {
		info, err := e.Persister.DuplicateCube(ctx, id, name, newName, user)
		out = info
		return err
	})
	return out, err
}

func (e *Engine) RenameCube(ctx context.Context, id appid.AppId, oldName, newName, user string) (ports.CubeInfo, error) {
	var out ports.CubeInfo
	err := e.runMutation(ctx, id, user, []string{oldName, newName}, func(ctx context.Context) error {
		info, err := e.Persister.RenameCube(ctx, id, oldName, newName, user)
		out = info
		return err
	})
	return out, err
}

func (e *Engine) DeleteCubes(ctx context.Context, id appid.AppId, names []string, allowHard bool, user string) error {
	return e.runMutation(ctx, id, user, names, func(ctx context.Context) error {
		return e.Persister.DeleteCubes(ctx, id, names, allowHard, user)
	})
}

func (e *Engine) UpdateCube(ctx context.Context, c ports.CubePort, user string) (ports.CubeInfo, error) {
	var out ports.CubeInfo
	err := e.runMutation(ctx, c.AppId(), user, []string{c.Name()}, func(ctx context.Context) error {
		info, err := e.Persister.UpdateCube(ctx, c, user)
		out = info
		return err
	})
	return out, err
}

// RollbackCubes discards each name's latest revision. Per §4.5.5, the
// cache is invalidated wholesale rather than per-name since rollback
// can surface any prior revision.
func (e *Engine) RollbackCubes(ctx context.Context, id appid.AppId, names []string, user string) error {
	if id.IsRelease() {
		return cerrs.Input("cannot roll back a release AppId %s", id)
	}
	for _, name := range names {
		ok, err := e.Perm.Allow(ctx, id, user, name, ports.ActionUpdate)
		if err != nil {
			return err
		}
		if !ok {
			return cerrs.Security("user %q may not update %q", user, name)
		}
	}
	if err := e.Lock.AssertNotLockBlocked(ctx, id, user); err != nil {
		return err
	}
	if err := e.Persister.RollbackCubes(ctx, id, names, user); err != nil {
		return err
	}
	e.Hydrator.InvalidateAll(id)
	e.Broadcaster.Broadcast(ctx, id)
	return nil
}

// RestoreCubes un-deletes each name, then re-hydrates it through the
// normal load-and-cache path so advices reapply.
func (e *Engine) RestoreCubes(ctx context.Context, id appid.AppId, names []string, user string) ([]ports.CubeInfo, error) {
	if id.IsHead() {
		return nil, cerrs.Input("cannot restore on HEAD; restore applies to a branch")
	}
	if id.IsRelease() {
		return nil, cerrs.Input("cannot restore on a release AppId %s", id)
	}
	for _, name := range names {
		ok, err := e.Perm.Allow(ctx, id, user, name, ports.ActionUpdate)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, cerrs.Security("user %q may not update %q", user, name)
		}
	}
	if err := e.Lock.AssertNotLockBlocked(ctx, id, user); err != nil {
		return nil, err
	}
	infos, err := e.Persister.RestoreCubes(ctx, id, names, user)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		e.Hydrator.Invalidate(id, name)
		if _, err := e.Hydrator.Load(ctx, id, name); err != nil {
			return nil, err
		}
	}
	e.Broadcaster.Broadcast(ctx, id)
	return infos, nil
}

// MergeAcceptMine resolves a conflicted name by keeping the branch's
// content, discarding head's concurrent change.
func (e *Engine) MergeAcceptMine(ctx context.Context, id appid.AppId, name, sha1, user string) (ports.CubeInfo, error) {
	return e.resolveConflict(ctx, id, name, sha1, user, e.Persister.MergeAcceptMine)
}

// MergeAcceptTheirs resolves a conflicted name by overwriting the
// branch with head's content.
func (e *Engine) MergeAcceptTheirs(ctx context.Context, id appid.AppId, name, sha1, user string) (ports.CubeInfo, error) {
	return e.resolveConflict(ctx, id, name, sha1, user, e.Persister.MergeAcceptTheirs)
}

func (e *Engine) resolveConflict(ctx context.Context, id appid.AppId, name, sha1, user string, apply func(context.Context, appid.AppId, string, string, string) (ports.CubeInfo, error)) (ports.CubeInfo, error) {
	ok, err := e.Perm.Allow(ctx, id, user, name, ports.ActionCommit)
	if err != nil {
		return ports.CubeInfo{}, err
	}
	if !ok {
		return ports.CubeInfo{}, cerrs.Security("user %q may not commit %q", user, name)
	}
	if err := e.Lock.AssertNotLockBlocked(ctx, id, user); err != nil {
		return ports.CubeInfo{}, err
	}
	info, err := apply(ctx, id, name, sha1, user)
	if err != nil {
		return ports.CubeInfo{}, err
	}
	e.Hydrator.Invalidate(id, name)
	e.Hydrator.Invalidate(id.AsHead(), name)
	e.Broadcaster.Broadcast(ctx, id)
	return info, nil
}
