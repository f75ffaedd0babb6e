package branch

import (
	"context"
	"fmt"

	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cerrs"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/cuberepo/cuberepo/internal/telemetry"
)

// classifyAgainstOther implements the diffAgainstHead table of §4.5.1,
// generalised to an arbitrary "other" side (HEAD for commit/updateBranch,
// any branch for updateBranchCube).
func classifyAgainstOther(branchInfo ports.CubeInfo, otherInfo *ports.CubeInfo) ports.ChangeType {
	if otherInfo == nil {
		if branchInfo.Revision >= 0 {
			return ports.ChangeCreated
		}
		return ports.ChangeNone
	}
	if branchInfo.HeadSha1 == nil {
		return ports.ChangeConflict
	}
	if *branchInfo.HeadSha1 == otherInfo.Sha1 {
		if branchInfo.Sha1 == otherInfo.Sha1 {
			if branchInfo.IsTombstone() != otherInfo.IsTombstone() {
				if branchInfo.IsTombstone() {
					return ports.ChangeDeleted
				}
				return ports.ChangeRestored
			}
			return ports.ChangeNone
		}
		return ports.ChangeUpdated
	}
	return ports.ChangeConflict
}

// commitBranch implements §4.5.2. It commits every non-conflicting
// changed cube, attempts an automatic three-way merge on every
// conflicting one, and - if any conflict survives the merge attempt -
// raises a *cerrs.MergeConflictError carrying every unresolved name.
// Cubes already committed by the time that happens stay durable; the
// caller retries only the failed subset.
func (e *Engine) CommitBranch(ctx context.Context, id appid.AppId, user string) error {
	if id.IsHead() {
		return cerrs.Input("cannot commit HEAD onto itself")
	}
	if id.IsRelease() {
		return cerrs.Input("cannot commit a release AppId %s", id)
	}
	if err := e.Lock.AssertNotLockBlocked(ctx, id, user); err != nil {
		return err
	}

	changed, err := e.Persister.Search(ctx, id, "", "", ports.SearchOptions{ChangedRecordsOnly: true})
	if err != nil {
		return err
	}

	headID := id.AsHead()
	var toCommit []string
	conflicts := map[string]cerrs.ConflictDetail{}

	for _, branchInfo := range changed {
		ok, err := e.Perm.Allow(ctx, id, user, branchInfo.Name, ports.ActionCommit)
		if err != nil {
			return err
		}
		if !ok {
			return cerrs.Security("user %q may not commit %q", user, branchInfo.Name)
		}

		headInfos, err := e.Persister.Search(ctx, headID, branchInfo.Name, "", ports.SearchOptions{ExactMatchName: true})
		if err != nil {
			return err
		}
		var headInfo *ports.CubeInfo
		if len(headInfos) > 0 {
			headInfo = &headInfos[0]
		}

		switch classifyAgainstOther(branchInfo, headInfo) {
		case ports.ChangeNone:
			// nothing to do
		case ports.ChangeCreated, ports.ChangeUpdated, ports.ChangeDeleted, ports.ChangeRestored:
			toCommit = append(toCommit, branchInfo.ID)
		case ports.ChangeConflict:
			branchCube, err := e.Persister.LoadCube(ctx, id, branchInfo.Name)
			if err != nil {
				return err
			}
			headCube, err := e.Persister.LoadCube(ctx, headID, branchInfo.Name)
			if err != nil {
				return err
			}
			merged, conflict, err := e.resolveThreeWay(ctx, id, branchInfo, branchCube, headCube, false)
			if err != nil {
				return err
			}
			if conflict != nil {
				conflicts[branchInfo.Name] = *conflict
				continue
			}
			if _, err := e.Persister.CommitMergedCubeToHead(ctx, id, merged, headStr(headInfo), user); err != nil {
				return err
			}
		}
	}

	if len(toCommit) > 0 {
		if _, err := e.Persister.CommitCubes(ctx, id, toCommit, user); err != nil {
			return err
		}
	}

	e.Hydrator.InvalidateAll(id)
	e.Hydrator.InvalidateAll(headID)
	e.Broadcaster.Broadcast(ctx, id)

	if len(conflicts) > 0 {
		return &cerrs.MergeConflictError{Errors: conflicts}
	}
	return nil
}

// UpdateBranch pulls every outstanding HEAD change into the branch:
// a fast-forward for cubes the branch has not touched, a silent
// headSha1 bump for cubes whose content already matches HEAD, and a
// three-way merge (reverse direction) for everything else. See
// §4.5.3.
func (e *Engine) UpdateBranch(ctx context.Context, id appid.AppId, user string) error {
	if id.IsHead() {
		return cerrs.Input("HEAD cannot be updated from itself")
	}
	return e.updateBranchAgainst(ctx, id, id.AsHead(), user, nil)
}

// UpdateBranchCube scopes the same algorithm to a single cube against
// an arbitrary branch (otherBranch == "" means HEAD).
func (e *Engine) UpdateBranchCube(ctx context.Context, id appid.AppId, name, otherBranch, user string) error {
	otherID := id.AsHead()
	if otherBranch != "" {
		otherID = id.AsBranch(otherBranch)
	}
	return e.updateBranchAgainst(ctx, id, otherID, user, []string{name})
}

func (e *Engine) updateBranchAgainst(ctx context.Context, id, otherID appid.AppId, user string, onlyNames []string) error {
	if id.IsRelease() {
		return cerrs.Input("cannot update a release AppId %s", id)
	}
	if err := e.Lock.AssertNotLockBlocked(ctx, id, user); err != nil {
		return err
	}

	var otherInfos []ports.CubeInfo
	var err error
	if len(onlyNames) == 1 {
		otherInfos, err = e.Persister.Search(ctx, otherID, onlyNames[0], "", ports.SearchOptions{ExactMatchName: true})
	} else {
		otherInfos, err = e.Persister.Search(ctx, otherID, "", "", ports.SearchOptions{})
	}
	if err != nil {
		return err
	}

	var pullIDs []string
	touched := map[string]struct{}{}
	conflicts := map[string]cerrs.ConflictDetail{}

	for _, otherInfo := range otherInfos {
		ok, err := e.Perm.Allow(ctx, id, user, otherInfo.Name, ports.ActionUpdate)
		if err != nil {
			return err
		}
		if !ok {
			return cerrs.Security("user %q may not update %q", user, otherInfo.Name)
		}

		branchInfos, err := e.Persister.Search(ctx, id, otherInfo.Name, "", ports.SearchOptions{ExactMatchName: true})
		if err != nil {
			return err
		}

		if len(branchInfos) == 0 {
			pullIDs = append(pullIDs, otherInfo.ID)
			touched[otherInfo.Name] = struct{}{}
			continue
		}
		branchInfo := branchInfos[0]

		if !branchInfo.Changed {
			if branchInfo.Sha1 != otherInfo.Sha1 || branchInfo.IsTombstone() != otherInfo.IsTombstone() {
				pullIDs = append(pullIDs, otherInfo.ID)
				touched[otherInfo.Name] = struct{}{}
			}
			continue
		}

		if branchInfo.Sha1 == otherInfo.Sha1 {
			if branchInfo.HeadSha1 == nil || *branchInfo.HeadSha1 != otherInfo.Sha1 {
				if err := e.Persister.UpdateBranchCubeHeadSha1(ctx, branchInfo.ID, otherInfo.Sha1); err != nil {
					return err
				}
				touched[otherInfo.Name] = struct{}{}
			}
			continue
		}

		if branchInfo.HeadSha1 != nil && *branchInfo.HeadSha1 == otherInfo.Sha1 {
			continue
		}

		branchCube, err := e.Persister.LoadCube(ctx, id, otherInfo.Name)
		if err != nil {
			return err
		}
		otherCube, err := e.Persister.LoadCube(ctx, otherID, otherInfo.Name)
		if err != nil {
			return err
		}
		merged, conflict, err := e.resolveThreeWay(ctx, id, branchInfo, branchCube, otherCube, true)
		if err != nil {
			return err
		}
		touched[otherInfo.Name] = struct{}{}
		if conflict != nil {
			conflicts[otherInfo.Name] = *conflict
			continue
		}
		if _, err := e.Persister.CommitMergedCubeToBranch(ctx, id, merged, otherInfo.Sha1, user); err != nil {
			return err
		}
	}

	if len(pullIDs) > 0 {
		if _, err := e.Persister.PullToBranch(ctx, id, pullIDs, user); err != nil {
			return err
		}
	}

	for name := range touched {
		e.Hydrator.Invalidate(id, name)
	}
	if len(touched) > 0 {
		e.Broadcaster.Broadcast(ctx, id)
	}
	if len(conflicts) > 0 {
		return &cerrs.MergeConflictError{Errors: conflicts}
	}
	return nil
}

// resolveThreeWay implements checkForConflicts/attemptMerge (§4.5.4).
// reverse selects the merge direction: false merges head's delta into
// branch (commit direction), true merges branch's delta into head
// content (update direction).
func (e *Engine) resolveThreeWay(ctx context.Context, branchID appid.AppId, branchInfo ports.CubeInfo, branchCube, otherCube ports.CubePort, reverse bool) (ports.CubePort, *cerrs.ConflictDetail, error) {
	base, err := e.loadMergeBase(ctx, branchID, branchInfo)
	if err != nil {
		return nil, nil, err
	}

	branchDelta, err := e.Delta.GetDelta(base, branchCube)
	if err != nil {
		return nil, nil, err
	}
	otherDelta, err := e.Delta.GetDelta(base, otherCube)
	if err != nil {
		return nil, nil, err
	}

	if e.Delta.AreDeltaSetsCompatible(branchDelta, otherDelta, reverse) {
		var target ports.CubePort
		var toApply ports.Delta
		if reverse {
			target = otherCube.Duplicate(otherCube.Name())
			toApply = branchDelta
		} else {
			target = branchCube.Duplicate(branchCube.Name())
			toApply = otherDelta
		}
		if err := e.Delta.MergeDeltaSet(target, toApply); err != nil {
			return nil, nil, err
		}
		return target, nil, nil
	}

	desc, err := e.Delta.GetDeltaDescription(branchCube, otherCube)
	if err != nil {
		return nil, nil, err
	}
	if len(desc) == 0 {
		return branchCube, nil, nil
	}

	telemetry.MergeConflictsTotal.WithLabelValues(branchID.CacheKey()).Inc()
	return nil, &cerrs.ConflictDetail{
		Message:  fmt.Sprintf("cube %q could not be automatically merged", branchCube.Name()),
		Sha1:     branchCube.Sha1(),
		HeadSha1: otherCube.Sha1(),
		Diff:     describeEntries(desc),
	}, nil
}

// loadMergeBase finds the common ancestor revision: the one whose
// sha1 equals the branch cube's headSha1, looked up first in the
// branch's own history (branches are seeded from their fork point, so
// the fork-time revision exists there) and then in HEAD's history,
// which holds the revisions written by a merged commit or pulled from
// HEAD after the fork. Falls back to a synthesized empty-but-same-axes
// cube for never-forked cubes (branchInfo.HeadSha1 == nil), matching
// the first-time-merge allowance of §4.5.3.
func (e *Engine) loadMergeBase(ctx context.Context, branchID appid.AppId, branchInfo ports.CubeInfo) (ports.CubePort, error) {
	if branchInfo.HeadSha1 == nil {
		empty, err := e.Persister.LoadCube(ctx, branchID, branchInfo.Name)
		if err != nil {
			return nil, err
		}
		if empty == nil {
			return nil, cerrs.State("cube %q vanished mid-merge", branchInfo.Name)
		}
		base := empty.Duplicate(branchInfo.Name)
		base.ClearCells()
		return base, nil
	}
	base, err := e.Persister.LoadCubeBySha1(ctx, branchID, branchInfo.Name, *branchInfo.HeadSha1)
	if err != nil {
		return nil, err
	}
	if base == nil {
		base, err = e.Persister.LoadCubeBySha1(ctx, branchID.AsHead(), branchInfo.Name, *branchInfo.HeadSha1)
		if err != nil {
			return nil, err
		}
	}
	if base == nil {
		return nil, cerrs.State("cube %q: merge base revision %s not found", branchInfo.Name, *branchInfo.HeadSha1)
	}
	return base, nil
}

func describeEntries(entries []ports.DeltaEntry) string {
	out := ""
	for _, e := range entries {
		out += fmt.Sprintf("%s: %v -> %v\n", ports.CoordKey(e.Coordinates), e.OldValue, e.NewValue)
	}
	return out
}

func headStr(info *ports.CubeInfo) string {
	if info == nil {
		return ""
	}
	return info.Sha1
}
