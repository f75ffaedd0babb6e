// Package admincubes builds the administrative cubes (sys.permissions,
// sys.usergroups, sys.branch.permissions, sys.lock) that the
// permission evaluator and lock coordinator read by ordinary cube
// lookup. Their axes are bit-exact per spec §6 for compatibility with
// any host that already has admin cubes shaped this way.
package admincubes

import (
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cube"
	"github.com/cuberepo/cuberepo/internal/ports"
)

const (
	Permissions       = "sys.permissions"
	UserGroups        = "sys.usergroups"
	BranchPermissions = "sys.branch.permissions"
	Lock              = "sys.lock"
	Bootstrap         = "sys.bootstrap"
	Classpath         = "sys.classpath"
	Prototype         = "sys.prototype"

	axisResource = "resource"
	axisRole     = "role"
	axisAction   = "action"
	axisUser     = "user"
	axisSystem   = "system"

	defaultColumn = "*"
)

// NewPermissionsCube builds an empty sys.permissions cube at the boot
// AppId: axes {resource (default), role, action}.
func NewPermissionsCube(tenant, app string) *cube.Cube {
	id := appid.Boot(tenant, app)
	c := cube.New(id, Permissions,
		ports.Axis{Name: axisResource, Type: ports.AxisDiscreteString, HasDefault: true, Columns: []string{defaultColumn}},
		ports.Axis{Name: axisRole, Type: ports.AxisDiscreteString},
		ports.Axis{Name: axisAction, Type: ports.AxisDiscreteString, Columns: []string{
			string(ports.ActionUpdate), string(ports.ActionRead), string(ports.ActionRelease), string(ports.ActionCommit),
		}},
	)
	return c
}

// NewUserGroupsCube builds an empty sys.usergroups cube: axes {user
// (default), role}.
func NewUserGroupsCube(tenant, app string) *cube.Cube {
	id := appid.Boot(tenant, app)
	return cube.New(id, UserGroups,
		ports.Axis{Name: axisUser, Type: ports.AxisDiscreteString, HasDefault: true, Columns: []string{defaultColumn}},
		ports.Axis{Name: axisRole, Type: ports.AxisDiscreteString},
	)
}

// NewBranchPermissionsCube builds an empty sys.branch.permissions cube
// for one branch: axes {resource (default), user (default)}.
func NewBranchPermissionsCube(tenant, app, branch string) *cube.Cube {
	id := appid.Boot(tenant, app).AsBranch(branch)
	return cube.New(id, BranchPermissions,
		ports.Axis{Name: axisResource, Type: ports.AxisDiscreteString, HasDefault: true, Columns: []string{defaultColumn}},
		ports.Axis{Name: axisUser, Type: ports.AxisDiscreteString, HasDefault: true, Columns: []string{defaultColumn}},
	)
}

// NewLockCube builds the sys.lock cube: a single axis holding the
// current owner's user-id (or absent), never cached.
func NewLockCube(tenant, app string) *cube.Cube {
	id := appid.Boot(tenant, app)
	c := cube.New(id, Lock,
		ports.Axis{Name: axisSystem, Type: ports.AxisDiscreteString, HasDefault: true, Columns: []string{defaultColumn}},
	)
	c.SetMetaProperty("cache", false)
	return c
}

// SeedDefaultPermissions grants admins every action on every resource,
// users read/update/commit, and a readonly role read-only, the
// defaults synthesised by bootstrap on first app detection.
func SeedDefaultPermissions(c *cube.Cube) {
	grant := func(role string, actions ...ports.Action) {
		for _, a := range actions {
			c.SetCell(true, map[string]string{axisResource: defaultColumn, axisRole: role, axisAction: string(a)})
		}
	}
	grant("admin", ports.ActionRead, ports.ActionUpdate, ports.ActionCommit, ports.ActionRelease)
	grant("user", ports.ActionRead, ports.ActionUpdate, ports.ActionCommit)
	grant("readonly", ports.ActionRead)
}

// SeedDefaultUserGroups grants the creating user both admin and user
// roles, and gives the default (everyone) column the user role.
func SeedDefaultUserGroups(c *cube.Cube, creator string) {
	c.SetCell(true, map[string]string{axisUser: creator, axisRole: "admin"})
	c.SetCell(true, map[string]string{axisUser: creator, axisRole: "user"})
	c.SetCell(true, map[string]string{axisUser: defaultColumn, axisRole: "user"})
}

// SeedBranchOwner grants the branch creator full access to every
// resource on a newly created branch.
func SeedBranchOwner(c *cube.Cube, creator string) {
	c.SetCell(true, map[string]string{axisResource: defaultColumn, axisUser: creator})
}

// IsClasspath reports whether name refers to the classpath cube, whose
// mutation (including as a rename source/destination) invalidates the
// entire AppId rather than a single cube.
func IsClasspath(name string) bool {
	return name == Classpath
}
