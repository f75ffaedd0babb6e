package cuberepo

import (
	"context"
	"time"

	"github.com/cuberepo/cuberepo/internal/admincubes"
	"github.com/cuberepo/cuberepo/internal/advice"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/bootstrap"
	"github.com/cuberepo/cuberepo/internal/branch"
	"github.com/cuberepo/cuberepo/internal/cache"
	"github.com/cuberepo/cuberepo/internal/cerrs"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/lifecycle"
	"github.com/cuberepo/cuberepo/internal/lock"
	"github.com/cuberepo/cuberepo/internal/permission"
	"github.com/cuberepo/cuberepo/internal/ports"
)

// Re-exported so callers never need to import the internal packages
// directly; AppId, CubePort, SearchOptions et al are this module's
// public vocabulary even though they live under internal/ports for
// layering reasons.
type (
	AppId              = appid.AppId
	Status             = appid.Status
	CubePort           = ports.CubePort
	CubeInfo           = ports.CubeInfo
	SearchOptions      = ports.SearchOptions
	Action             = ports.Action
	Axis               = ports.Axis
	PersisterPort      = ports.PersisterPort
	DeltaProcessor     = ports.DeltaProcessor
	Broadcaster        = ports.Broadcaster
	MergeConflictError = cerrs.MergeConflictError
)

const (
	Head        = appid.Head
	BootVersion = appid.BootVersion
	Snapshot    = appid.Snapshot
	Release     = appid.Release
)

// Config wires a Manager to its durable collaborators. Persister and
// Delta are mandatory; Broadcaster defaults to a no-op (see
// internal/broadcast.Noop) when left nil, matching a single-process
// deployment with no peers to notify.
type Config struct {
	Persister   ports.PersisterPort
	Delta       ports.DeltaProcessor
	Broadcaster ports.Broadcaster

	// ReleaseQuiesceDelay is how long ReleaseCubes waits for in-flight
	// readers to drain after acquiring sys.lock and before moving
	// branches. Production wiring sets a few seconds; tests set zero.
	ReleaseQuiesceDelay time.Duration
}

// noopBroadcaster is the zero-value fallback when Config.Broadcaster
// is nil; kept local (rather than importing internal/broadcast) since
// this core has no opinion on the wire transport, only that a fan-out
// policy exists.
type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(context.Context, appid.AppId) {}

// Manager is the single process-wide facade over every leaf
// component: cache, advice, permission, lock, branch engine,
// lifecycle controller and bootstrap. Cube mutations (update,
// duplicate, rename, delete, rollback, restore, commit, update-branch)
// funnel through permission check -> lock check -> persister call ->
// cache invalidation -> broadcast; CreateBranch, DeleteBranch,
// UpdateTestData and UpdateNotes call the persister without a
// permission check. Reads shortcut through the cache.
type Manager struct {
	Persister ports.PersisterPort

	Cache     *cache.Registry
	Advices   *advice.Registry
	Hydrator  *hydrate.Hydrator
	Perm      *permission.Evaluator
	Lock      *lock.Coordinator
	Branch    *branch.Engine
	Lifecycle *lifecycle.Controller
	Bootstrap *bootstrap.Bootstrapper
}

// New builds a Manager from cfg, wiring leaves first the way the
// teacher's NewMaster wires store -> idGenerator -> catalog/cluster.
func New(cfg Config) *Manager {
	bc := cfg.Broadcaster
	if bc == nil {
		bc = noopBroadcaster{}
	}

	cacheReg := cache.New()
	advices := advice.New()
	h := hydrate.New(cfg.Persister, cacheReg, advices)
	perm := permission.New(h)
	lk := lock.New(h, cfg.Persister)
	be := branch.New(cfg.Persister, cfg.Delta, h, perm, lk, bc)
	lc := lifecycle.New(cfg.Persister, h, perm, lk, bc)
	lc.ReleaseQuiesceDelay = cfg.ReleaseQuiesceDelay
	bs := bootstrap.New(cfg.Persister, h)

	be.DetectNewAppId = bs.DetectNewAppId

	return &Manager{
		Persister: cfg.Persister,
		Cache:     cacheReg,
		Advices:   advices,
		Hydrator:  h,
		Perm:      perm,
		Lock:      lk,
		Branch:    be,
		Lifecycle: lc,
		Bootstrap: bs,
	}
}

// RegisterAdvice binds an interceptor to a "name.method" glob pattern
// within id, applied to every matching cube hydrated afterwards.
func (m *Manager) RegisterAdvice(id appid.AppId, a ports.Advice) {
	m.Advices.Register(id, a)
}

// GetCube is the read path: permission check, then a cache-shortcut
// hydrate.
func (m *Manager) GetCube(ctx context.Context, id appid.AppId, name, user string) (ports.CubePort, error) {
	if err := id.Validate(); err != nil {
		return nil, cerrs.Input("%v", err)
	}
	ok, err := m.Perm.Allow(ctx, id, user, name, ports.ActionRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerrs.Security("user %q may not read %q", user, name)
	}
	return m.Hydrator.Load(ctx, id, name)
}

// Search lists cube revisions matching the given patterns, filtering
// out names the caller may not read.
func (m *Manager) Search(ctx context.Context, id appid.AppId, namePattern, contentPattern, user string, opts ports.SearchOptions) ([]ports.CubeInfo, error) {
	infos, err := m.Persister.Search(ctx, id, namePattern, contentPattern, opts)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		ok, err := m.Perm.FastCheck(ctx, id, user, info.Name, ports.ActionRead)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (m *Manager) GetRevisions(ctx context.Context, id appid.AppId, name, user string) ([]ports.CubeInfo, error) {
	ok, err := m.Perm.Allow(ctx, id, user, name, ports.ActionRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerrs.Security("user %q may not read %q", user, name)
	}
	return m.Persister.GetRevisions(ctx, id, name)
}

func (m *Manager) UpdateCube(ctx context.Context, c ports.CubePort, user string) (ports.CubeInfo, error) {
	return m.Branch.UpdateCube(ctx, c, user)
}

func (m *Manager) DuplicateCube(ctx context.Context, id appid.AppId, name, newName, user string) (ports.CubeInfo, error) {
	return m.Branch.DuplicateCube(ctx, id, name, newName, user)
}

func (m *Manager) RenameCube(ctx context.Context, id appid.AppId, oldName, newName, user string) (ports.CubeInfo, error) {
	return m.Branch.RenameCube(ctx, id, oldName, newName, user)
}

func (m *Manager) DeleteCubes(ctx context.Context, id appid.AppId, names []string, allowHard bool, user string) error {
	return m.Branch.DeleteCubes(ctx, id, names, allowHard, user)
}

func (m *Manager) RollbackCubes(ctx context.Context, id appid.AppId, names []string, user string) error {
	return m.Branch.RollbackCubes(ctx, id, names, user)
}

func (m *Manager) RestoreCubes(ctx context.Context, id appid.AppId, names []string, user string) ([]ports.CubeInfo, error) {
	return m.Branch.RestoreCubes(ctx, id, names, user)
}

func (m *Manager) CommitBranch(ctx context.Context, id appid.AppId, user string) error {
	return m.Branch.CommitBranch(ctx, id, user)
}

func (m *Manager) UpdateBranch(ctx context.Context, id appid.AppId, user string) error {
	return m.Branch.UpdateBranch(ctx, id, user)
}

func (m *Manager) UpdateBranchCube(ctx context.Context, id appid.AppId, name, otherBranch, user string) error {
	return m.Branch.UpdateBranchCube(ctx, id, name, otherBranch, user)
}

func (m *Manager) MergeAcceptMine(ctx context.Context, id appid.AppId, name, sha1, user string) (ports.CubeInfo, error) {
	return m.Branch.MergeAcceptMine(ctx, id, name, sha1, user)
}

func (m *Manager) MergeAcceptTheirs(ctx context.Context, id appid.AppId, name, sha1, user string) (ports.CubeInfo, error) {
	return m.Branch.MergeAcceptTheirs(ctx, id, name, sha1, user)
}

// CreateBranch forks a new branch off id at the current HEAD: it
// copies HEAD's revisions into the new branch's own history (so a
// later merge always has a common ancestor to diff against), then
// lets bootstrap seed sys.branch.permissions and immediately pull HEAD
// into the branch through the ordinary update-from-head path.
func (m *Manager) CreateBranch(ctx context.Context, id appid.AppId, newBranch, user string) error {
	if id.IsRelease() {
		return cerrs.Input("cannot branch from a release AppId %s", id)
	}
	branchID := id.AsBranch(newBranch)
	if err := m.Persister.CopyBranch(ctx, id.AsHead(), newBranch, user); err != nil {
		return err
	}
	return m.Bootstrap.OnNewBranch(ctx, branchID, user, func(ctx context.Context) error {
		return m.Branch.UpdateBranch(ctx, branchID, user)
	})
}

func (m *Manager) DeleteBranch(ctx context.Context, id appid.AppId, user string) error {
	if id.IsHead() {
		return cerrs.Input("cannot delete the HEAD branch")
	}
	if err := m.Lock.AssertNotLockBlocked(ctx, id, user); err != nil {
		return err
	}
	if err := m.Persister.DeleteBranch(ctx, id, user); err != nil {
		return err
	}
	m.Hydrator.InvalidateAll(id)
	return nil
}

func (m *Manager) GetBranches(ctx context.Context, id appid.AppId) (map[string]struct{}, error) {
	return m.Persister.GetBranches(ctx, id)
}

func (m *Manager) GetAppNames(ctx context.Context, tenant string) ([]string, error) {
	return m.Persister.GetAppNames(ctx, tenant)
}

func (m *Manager) GetVersions(ctx context.Context, tenant, app string) (map[string][]string, error) {
	return m.Persister.GetVersions(ctx, tenant, app)
}

func (m *Manager) UpdateTestData(ctx context.Context, id appid.AppId, name, testData, user string) error {
	return m.Persister.UpdateTestData(ctx, id, name, testData, user)
}

func (m *Manager) GetTestData(ctx context.Context, id appid.AppId, name string) (string, error) {
	infos, err := m.Persister.Search(ctx, id, name, "", ports.SearchOptions{ExactMatchName: true})
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", cerrs.Input("cube %q not found in %s", name, id)
	}
	return m.Persister.GetTestData(ctx, id, name)
}

func (m *Manager) UpdateNotes(ctx context.Context, id appid.AppId, name, notes, user string) error {
	return m.Persister.UpdateNotes(ctx, id, name, notes, user)
}

func (m *Manager) GetNotes(ctx context.Context, id appid.AppId, name string) (string, error) {
	infos, err := m.Persister.Search(ctx, id, name, "", ports.SearchOptions{ExactMatchName: true})
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", cerrs.Input("cube %q not found in %s", name, id)
	}
	return m.Persister.GetNotes(ctx, id, name)
}

func (m *Manager) MoveBranch(ctx context.Context, id appid.AppId, newVersion, user string) error {
	return m.Lifecycle.MoveBranch(ctx, id, newVersion, user)
}

func (m *Manager) ReleaseVersion(ctx context.Context, id appid.AppId, newSnapshotVersion, user string) ([]ports.CubeInfo, error) {
	return m.Lifecycle.ReleaseVersion(ctx, id, newSnapshotVersion, user)
}

func (m *Manager) ReleaseCubes(ctx context.Context, id appid.AppId, newSnapshotVersion, user string) ([]ports.CubeInfo, error) {
	return m.Lifecycle.ReleaseCubes(ctx, id, newSnapshotVersion, user)
}

// AcquireLock and ReleaseLock expose sys.lock directly for callers
// that want to hold it across several operations (e.g. a release
// dry-run followed by the real release); ReleaseCubes itself acquires
// and releases the lock internally and needs neither.
func (m *Manager) AcquireLock(ctx context.Context, id appid.AppId, user string) error {
	return m.Lock.Lock(ctx, id, user)
}

func (m *Manager) ReleaseLock(ctx context.Context, id appid.AppId, user string) error {
	return m.Lock.Unlock(ctx, id, user)
}

// IsAdminCube reports whether name is one of the reserved
// administrative cubes the permission evaluator and lock coordinator
// interpret themselves.
func IsAdminCube(name string) bool {
	switch name {
	case admincubes.Permissions, admincubes.UserGroups, admincubes.BranchPermissions, admincubes.Lock:
		return true
	default:
		return false
	}
}
