// Package permission implements the role-based, resource-pattern
// permission evaluator described in spec §4.3. It reads its
// configuration from ordinary cubes (sys.permissions, sys.usergroups,
// sys.branch.permissions) via the shared hydrator - this package is the
// only code that interprets their shape.
package permission

import (
	"context"
	"strings"
	"sync"

	"github.com/cuberepo/cuberepo/internal/admincubes"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/glob"
	"github.com/cuberepo/cuberepo/internal/hydrate"
	"github.com/cuberepo/cuberepo/internal/ports"
)

const (
	lockResource = "sys.lock"
	roleAdmin    = "admin"
)

// Evaluator answers allow/deny for (AppId, resource, action).
type Evaluator struct {
	Hydrator *hydrate.Hydrator

	mu        sync.RWMutex
	roleCache map[string][]string // fastCheck memoisation: "tenant/app/user" -> roles
}

func New(h *hydrate.Hydrator) *Evaluator {
	return &Evaluator{Hydrator: h, roleCache: make(map[string][]string)}
}

// Allow implements the six-step algorithm of spec §4.3.
func (e *Evaluator) Allow(ctx context.Context, id appid.AppId, user, resource string, action ports.Action) (bool, error) {
	return e.allow(ctx, id, user, resource, action, false)
}

// FastCheck behaves like Allow but memoises the role-set lookup across
// many calls, used by list filtering.
func (e *Evaluator) FastCheck(ctx context.Context, id appid.AppId, user, resource string, action ports.Action) (bool, error) {
	return e.allow(ctx, id, user, resource, action, true)
}

func (e *Evaluator) allow(ctx context.Context, id appid.AppId, user, resource string, action ports.Action, fast bool) (bool, error) {
	// Step 1: lock status must always be observable.
	if action == ports.ActionRead && strings.EqualFold(resource, lockResource) {
		return true, nil
	}

	boot := appid.Boot(id.Tenant, id.App)

	permsCube, err := e.Hydrator.Load(ctx, boot, admincubes.Permissions)
	if err != nil {
		return false, err
	}
	groupsCube, err := e.Hydrator.Load(ctx, boot, admincubes.UserGroups)
	if err != nil {
		return false, err
	}
	// Step 2: bootstrap mode - if either admin cube is missing, allow
	// everything.
	if permsCube == nil || groupsCube == nil {
		return true, nil
	}

	roles, err := e.roles(ctx, id, user, groupsCube, fast)
	if err != nil {
		return false, err
	}

	hasAdmin := false
	for _, r := range roles {
		if r == roleAdmin {
			hasAdmin = true
			break
		}
	}

	// Step 4: non-admins attempting a mutation also need a matching
	// branch-permission grant.
	if !hasAdmin && (action == ports.ActionUpdate || action == ports.ActionCommit) {
		branchCube, err := e.Hydrator.Load(ctx, boot.AsBranch(id.Branch), admincubes.BranchPermissions)
		if err != nil {
			return false, err
		}
		if branchCube != nil {
			if !branchGrants(branchCube, resource, user) {
				return false, nil
			}
		}
	}

	// Step 5: any role with a matching true cell allows.
	for _, role := range roles {
		if roleGrants(permsCube, resource, role, action) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) roles(ctx context.Context, id appid.AppId, user string, groupsCube ports.CubePort, fast bool) ([]string, error) {
	key := strings.ToLower(id.Tenant) + "/" + strings.ToLower(id.App) + "/" + strings.ToLower(user)
	if fast {
		e.mu.RLock()
		if roles, ok := e.roleCache[key]; ok {
			e.mu.RUnlock()
			return roles, nil
		}
		e.mu.RUnlock()
	}

	axis, ok := groupsCube.GetAxis("role")
	if !ok {
		return nil, nil
	}
	userCol := "*"
	if userAxis, ok := groupsCube.GetAxis("user"); ok {
		for _, c := range userAxis.Columns {
			if c == user {
				userCol = user
				break
			}
		}
	}
	var roles []string
	for _, role := range axis.Columns {
		if v, ok := groupsCube.GetCell(map[string]string{"user": userCol, "role": role}); ok {
			if b, _ := v.(bool); b {
				roles = append(roles, role)
			}
		}
	}

	if fast {
		e.mu.Lock()
		e.roleCache[key] = roles
		e.mu.Unlock()
	}
	return roles, nil
}

// roleGrants matches the resource against sys.permissions' resource
// axis (glob) and checks the (role, resource, action) cell.
func roleGrants(permsCube ports.CubePort, resource, role string, action ports.Action) bool {
	axis, ok := permsCube.GetAxis("resource")
	if !ok {
		return false
	}
	col := matchColumn(axis, resource)
	v, ok := permsCube.GetCell(map[string]string{"resource": col, "role": role, "action": string(action)})
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// branchGrants matches the resource against sys.branch.permissions'
// resource axis and checks the (resource, user) cell.
func branchGrants(branchCube ports.CubePort, resource, user string) bool {
	axis, ok := branchCube.GetAxis("resource")
	if !ok {
		return false
	}
	col := matchColumn(axis, resource)
	v, ok := branchCube.GetCell(map[string]string{"resource": col, "user": user})
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// matchColumn splits a resource into cube[/axis] parts and matches
// them, glob-wise, against the columns of an axis whose columns are
// themselves "cube" or "cube/axis" patterns. Falls back to the axis's
// default column when nothing matches.
func matchColumn(axis ports.Axis, resource string) string {
	reqParts := strings.SplitN(resource, "/", 2)
	for _, col := range axis.Columns {
		colParts := strings.SplitN(col, "/", 2)
		if len(reqParts) != len(colParts) {
			continue
		}
		if !glob.Match(colParts[0], reqParts[0]) {
			continue
		}
		if len(reqParts) == 2 && !glob.Match(colParts[1], reqParts[1]) {
			continue
		}
		return col
	}
	if axis.HasDefault {
		return "*"
	}
	return ""
}
