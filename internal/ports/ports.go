// Package ports declares the external collaborators this core is
// built against: the durable persister, the cube object, the
// three-way delta processor, and the peer broadcaster. None are
// implemented here beyond the in-memory reference in internal/memstore
// used for tests and the bundled CLI demo.
package ports

import (
	"context"

	"github.com/cuberepo/cuberepo/internal/appid"
)

// Action is one of the four permissioned operations a caller may
// request against a resource.
type Action string

const (
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionCommit  Action = "commit"
	ActionRelease Action = "release"
)

// ChangeType classifies a cube's branch-vs-head relationship, assigned
// by the diff step and never by the persister.
type ChangeType string

const (
	ChangeNone     ChangeType = ""
	ChangeCreated  ChangeType = "CREATED"
	ChangeUpdated  ChangeType = "UPDATED"
	ChangeDeleted  ChangeType = "DELETED"
	ChangeRestored ChangeType = "RESTORED"
	ChangeConflict ChangeType = "CONFLICT"
)

// CubeInfo is the per-revision descriptor returned by search/list
// operations and consumed by the diff classifier without requiring a
// full cube body load.
type CubeInfo struct {
	ID         string
	Name       string
	Revision   int64
	Sha1       string
	HeadSha1   *string
	Changed    bool
	Notes      string
	TestData   string
	AppId      appid.AppId
	ChangeType ChangeType
}

// IsTombstone reports whether this revision represents a deletion.
func (c CubeInfo) IsTombstone() bool {
	return c.Revision < 0
}

// SearchOptions narrows a persister Search call.
type SearchOptions struct {
	IncludeCubeData    bool
	IncludeTestData    bool
	IncludeNotes       bool
	DeletedRecordsOnly bool
	ActiveRecordsOnly  bool
	ChangedRecordsOnly bool
	ExactMatchName     bool
}

// AxisType is the kind of an axis's column domain.
type AxisType string

const (
	AxisDiscreteString AxisType = "DISCRETE_STRING"
)

// Axis describes one dimension of a cube.
type Axis struct {
	Name       string
	Type       AxisType
	HasDefault bool
	Columns    []string
}

// Advice is a named interceptor bound by a glob pattern, applied to
// cubes whose "name.method" matches on hydration.
type Advice struct {
	Name     string
	Wildcard string
}

// CubePort is the contract this core consumes for the opaque cube
// object; its cell model, axis semantics, and fingerprinting are
// supplied by the host application.
type CubePort interface {
	Name() string
	AppId() appid.AppId
	Sha1() string
	ClearSha1()
	GetMetaProperty(name string) (interface{}, bool)
	GetAxis(name string) (Axis, bool)
	GetCell(coords map[string]string) (interface{}, bool)
	SetCell(value interface{}, coords map[string]string)
	RemoveCell(coords map[string]string)
	GetReferencedCubeNames() map[string]struct{}
	AddAdvice(advice Advice, method string)
	Duplicate(newName string) CubePort
	ClearCells()
	FromSimpleJSON(json string) (CubePort, error)
}

// DeltaEntry is one atomic change recorded between a base cube and a
// target cube.
type DeltaEntry struct {
	Coordinates map[string]string
	OldValue    interface{}
	NewValue    interface{}
}

// Key returns a canonical, order-independent identifier for the
// coordinate set this entry touches, used to test disjointness between
// two delta sets.
func (d DeltaEntry) Key() string {
	return CoordKey(d.Coordinates)
}

// CoordKey returns a canonical, order-independent identifier for a
// coordinate set, used both to key cells internally and to test
// disjointness between two delta sets.
func CoordKey(coords map[string]string) string {
	keys := make([]string, 0, len(coords))
	for k := range coords {
		keys = append(keys, k)
	}
	sortStrings(keys)
	out := ""
	for _, k := range keys {
		out += k + "=" + coords[k] + ";"
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Delta is the set of cell-level changes between two cube revisions.
type Delta struct {
	Entries []DeltaEntry
}

// DeltaProcessor computes and applies three-way merge deltas; the
// compatibility and merge algorithms are delegated here rather than
// implemented against CubePort directly, since they depend on the
// host's cell model.
type DeltaProcessor interface {
	GetDelta(base, target CubePort) (Delta, error)
	AreDeltaSetsCompatible(a, b Delta, reverse bool) bool
	MergeDeltaSet(target CubePort, delta Delta) error
	GetDeltaDescription(a, b CubePort) ([]DeltaEntry, error)
}

// PersisterPort is the durable store of cube revisions, keyed by
// AppId and cube name.
type PersisterPort interface {
	LoadCube(ctx context.Context, id appid.AppId, name string) (CubePort, error)
	LoadCubeById(ctx context.Context, id string) (CubePort, error)
	LoadCubeBySha1(ctx context.Context, appID appid.AppId, name, sha1 string) (CubePort, error)

	Search(ctx context.Context, id appid.AppId, namePattern, contentPattern string, opts SearchOptions) ([]CubeInfo, error)
	GetRevisions(ctx context.Context, id appid.AppId, name string) ([]CubeInfo, error)

	UpdateCube(ctx context.Context, cube CubePort, user string) (CubeInfo, error)
	DuplicateCube(ctx context.Context, id appid.AppId, name, newName string, user string) (CubeInfo, error)
	RenameCube(ctx context.Context, id appid.AppId, oldName, newName string, user string) (CubeInfo, error)
	DeleteCubes(ctx context.Context, id appid.AppId, names []string, allowHard bool, user string) error
	RestoreCubes(ctx context.Context, id appid.AppId, names []string, user string) ([]CubeInfo, error)
	RollbackCubes(ctx context.Context, id appid.AppId, names []string, user string) error

	CommitCubes(ctx context.Context, id appid.AppId, ids []string, user string) ([]CubeInfo, error)
	CommitMergedCubeToHead(ctx context.Context, id appid.AppId, cube CubePort, baseSha1 string, user string) (CubeInfo, error)
	CommitMergedCubeToBranch(ctx context.Context, id appid.AppId, cube CubePort, baseSha1 string, user string) (CubeInfo, error)
	PullToBranch(ctx context.Context, id appid.AppId, ids []string, user string) ([]CubeInfo, error)
	UpdateBranchCubeHeadSha1(ctx context.Context, id string, sha1 string) error

	CopyBranch(ctx context.Context, id appid.AppId, newBranch string, user string) error
	MoveBranch(ctx context.Context, id appid.AppId, newVersion string, user string) error
	ReleaseCubes(ctx context.Context, id appid.AppId, newSnapshotVersion string, user string) ([]CubeInfo, error)

	MergeAcceptMine(ctx context.Context, id appid.AppId, name, sha1 string, user string) (CubeInfo, error)
	MergeAcceptTheirs(ctx context.Context, id appid.AppId, name, sha1 string, user string) (CubeInfo, error)

	GetAppNames(ctx context.Context, tenant string) ([]string, error)
	GetVersions(ctx context.Context, tenant, app string) (map[string][]string, error)
	GetBranches(ctx context.Context, id appid.AppId) (map[string]struct{}, error)
	DeleteBranch(ctx context.Context, id appid.AppId, user string) error

	UpdateTestData(ctx context.Context, id appid.AppId, name, testData string, user string) error
	GetTestData(ctx context.Context, id appid.AppId, name string) (string, error)
	UpdateNotes(ctx context.Context, id appid.AppId, name, notes string, user string) error
	GetNotes(ctx context.Context, id appid.AppId, name string) (string, error)
}

// Broadcaster fans out structural-change notifications to peers. The
// wire form is unspecified by this layer; failures are best-effort and
// are never reported to the caller.
type Broadcaster interface {
	Broadcast(ctx context.Context, id appid.AppId)
}
