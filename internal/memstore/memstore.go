// Package memstore is a reference, in-memory PersisterPort sufficient
// for tests and the bundled CLI demo. Production deployments own a
// real durable store (the spec explicitly treats the persister as an
// external collaborator); this type exists only so the rest of the
// module has something concrete to run against. Its column-family-ish
// per-name revision history is grounded on the shape of the teacher's
// common/kvstore.Store interface (column families keyed by name) even
// though it is backed by a plain Go map rather than RocksDB.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/glob"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/google/uuid"
)

// ErrNotFound is returned by the notes/test-data accessors when the
// named cube has no record at all.
var ErrNotFound = errors.New("memstore: cube not found")

type revision struct {
	info ports.CubeInfo
	body ports.CubePort
}

type record struct {
	history []revision
}

func (r *record) latest() *revision {
	if len(r.history) == 0 {
		return nil
	}
	return &r.history[len(r.history)-1]
}

// Store is the in-memory reference persister.
type Store struct {
	mu sync.RWMutex

	// appKey -> lowercase(name) -> record
	data map[string]map[string]*record

	// branchAgnosticKey -> set of original-cased branch names observed
	branches map[string]map[string]struct{}

	// opaque cube id -> (appKey, name) for O(1) lookup by id
	index map[string]location
}

type location struct {
	appKey string
	name   string
}

func New() *Store {
	return &Store{
		data:     make(map[string]map[string]*record),
		branches: make(map[string]map[string]struct{}),
		index:    make(map[string]location),
	}
}

func (s *Store) rememberBranch(id appid.AppId) {
	key := id.BranchAgnosticCacheKey()
	set, ok := s.branches[key]
	if !ok {
		set = make(map[string]struct{})
		s.branches[key] = set
	}
	set[id.Branch] = struct{}{}
}

func (s *Store) recordFor(id appid.AppId, name string, create bool) *record {
	appKey := id.CacheKey()
	byName, ok := s.data[appKey]
	if !ok {
		if !create {
			return nil
		}
		byName = make(map[string]*record)
		s.data[appKey] = byName
	}
	lname := strings.ToLower(name)
	rec, ok := byName[lname]
	if !ok {
		if !create {
			return nil
		}
		rec = &record{}
		byName[lname] = rec
	}
	return rec
}

func (s *Store) LoadCube(ctx context.Context, id appid.AppId, name string) (ports.CubePort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.recordFor(id, name, false)
	if rec == nil {
		return nil, nil
	}
	latest := rec.latest()
	if latest == nil || latest.info.IsTombstone() {
		return nil, nil
	}
	return latest.body, nil
}

func (s *Store) LoadCubeById(ctx context.Context, id string) (ports.CubePort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("memstore: id %q not found", id)
	}
	for _, rev := range s.data[loc.appKey][loc.name].history {
		if rev.info.ID == id {
			return rev.body, nil
		}
	}
	return nil, fmt.Errorf("memstore: id %q not found", id)
}

func (s *Store) LoadCubeBySha1(ctx context.Context, id appid.AppId, name, sha1 string) (ports.CubePort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.recordFor(id, name, false)
	if rec == nil {
		return nil, nil
	}
	for i := len(rec.history) - 1; i >= 0; i-- {
		if rec.history[i].info.Sha1 == sha1 {
			return rec.history[i].body, nil
		}
	}
	return nil, nil
}

func (s *Store) Search(ctx context.Context, id appid.AppId, namePattern, contentPattern string, opts ports.SearchOptions) ([]ports.CubeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.data[id.CacheKey()]
	var out []ports.CubeInfo
	for name, rec := range byName {
		latest := rec.latest()
		if latest == nil {
			continue
		}
		if namePattern != "" {
			matched := false
			if opts.ExactMatchName {
				matched = strings.EqualFold(namePattern, name)
			} else {
				matched = glob.Match(strings.ToLower(namePattern), name)
			}
			if !matched {
				continue
			}
		}
		if opts.DeletedRecordsOnly && !latest.info.IsTombstone() {
			continue
		}
		if opts.ActiveRecordsOnly && latest.info.IsTombstone() {
			continue
		}
		if opts.ChangedRecordsOnly && !latest.info.Changed {
			continue
		}
		out = append(out, latest.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRevisions(ctx context.Context, id appid.AppId, name string) ([]ports.CubeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.recordFor(id, name, false)
	if rec == nil {
		return nil, nil
	}
	out := make([]ports.CubeInfo, 0, len(rec.history))
	for _, rev := range rec.history {
		out = append(out, rev.info)
	}
	return out, nil
}

func (s *Store) UpdateCube(ctx context.Context, c ports.CubePort, user string) (ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.AppId()
	s.rememberBranch(id)
	rec := s.recordFor(id, c.Name(), true)

	var headSha1 *string
	var revNum int64 = 1
	if prev := rec.latest(); prev != nil {
		headSha1 = prev.info.HeadSha1
		revNum = absRevision(prev.info.Revision) + 1
	}

	info := ports.CubeInfo{
		ID:       uuid.NewString(),
		Name:     c.Name(),
		Revision: revNum,
		Sha1:     c.Sha1(),
		HeadSha1: headSha1,
		Changed:  true,
		AppId:    id,
	}
	s.append(id, c.Name(), revision{info: info, body: c})
	return info, nil
}

func (s *Store) DuplicateCube(ctx context.Context, id appid.AppId, name, newName string, user string) (ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordFor(id, name, false)
	if rec == nil || rec.latest() == nil || rec.latest().info.IsTombstone() {
		return ports.CubeInfo{}, fmt.Errorf("memstore: cube %q not found", name)
	}
	dup := rec.latest().body.Duplicate(newName)
	dup.ClearSha1()
	info := ports.CubeInfo{
		ID:       uuid.NewString(),
		Name:     newName,
		Revision: 1,
		Sha1:     dup.Sha1(),
		HeadSha1: nil,
		Changed:  true,
		AppId:    id,
	}
	s.append(id, newName, revision{info: info, body: dup})
	return info, nil
}

func (s *Store) RenameCube(ctx context.Context, id appid.AppId, oldName, newName string, user string) (ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.data[id.CacheKey()]
	if byName == nil {
		return ports.CubeInfo{}, fmt.Errorf("memstore: cube %q not found", oldName)
	}
	rec, ok := byName[strings.ToLower(oldName)]
	if !ok || rec.latest() == nil || rec.latest().info.IsTombstone() {
		return ports.CubeInfo{}, fmt.Errorf("memstore: cube %q not found", oldName)
	}
	delete(byName, strings.ToLower(oldName))

	body := rec.latest().body.Duplicate(newName)
	info := ports.CubeInfo{
		ID:       uuid.NewString(),
		Name:     newName,
		Revision: absRevision(rec.latest().info.Revision) + 1,
		Sha1:     body.Sha1(),
		HeadSha1: rec.latest().info.HeadSha1,
		Changed:  true,
		AppId:    id,
	}
	s.append(id, newName, revision{info: info, body: body})
	return info, nil
}

func (s *Store) DeleteCubes(ctx context.Context, id appid.AppId, names []string, allowHard bool, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		rec := s.recordFor(id, name, false)
		if rec == nil || rec.latest() == nil {
			continue
		}
		if allowHard {
			delete(s.data[id.CacheKey()], strings.ToLower(name))
			continue
		}
		prev := rec.latest()
		info := prev.info
		info.ID = uuid.NewString()
		info.Revision = -absRevision(prev.info.Revision)
		info.Changed = true
		s.append(id, name, revision{info: info, body: prev.body})
	}
	return nil
}

func (s *Store) RestoreCubes(ctx context.Context, id appid.AppId, names []string, user string) ([]ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.CubeInfo
	for _, name := range names {
		rec := s.recordFor(id, name, false)
		if rec == nil || rec.latest() == nil || !rec.latest().info.IsTombstone() {
			continue
		}
		prev := rec.latest()
		info := prev.info
		info.ID = uuid.NewString()
		info.Revision = absRevision(prev.info.Revision) + 1
		info.Changed = true
		s.append(id, name, revision{info: info, body: prev.body})
		out = append(out, info)
	}
	return out, nil
}

func (s *Store) RollbackCubes(ctx context.Context, id appid.AppId, names []string, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.data[id.CacheKey()]
	if byName == nil {
		return nil
	}
	for _, name := range names {
		rec, ok := byName[strings.ToLower(name)]
		if !ok || len(rec.history) < 2 {
			continue
		}
		popped := rec.history[len(rec.history)-1]
		delete(s.index, popped.info.ID)
		rec.history = rec.history[:len(rec.history)-1]
	}
	return nil
}

func (s *Store) CommitCubes(ctx context.Context, id appid.AppId, ids []string, user string) ([]ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.CubeInfo
	for _, cubeID := range ids {
		loc, ok := s.index[cubeID]
		if !ok {
			return nil, fmt.Errorf("memstore: id %q not found", cubeID)
		}
		rec := s.data[loc.appKey][loc.name]
		var branchRev *revision
		for i := range rec.history {
			if rec.history[i].info.ID == cubeID {
				branchRev = &rec.history[i]
				break
			}
		}
		if branchRev == nil {
			return nil, fmt.Errorf("memstore: id %q not found", cubeID)
		}
		headID := branchRev.info.AppId.AsHead()
		info, err := s.commitInto(headID, branchRev.body, user)
		if err != nil {
			return nil, err
		}
		sha := info.Sha1
		branchRev.info.HeadSha1 = &sha
		branchRev.info.Changed = false
		out = append(out, info)
	}
	return out, nil
}

// commitInto writes body as a new revision under targetID/body.Name(),
// used by CommitCubes and CommitMergedCubeToHead.
func (s *Store) commitInto(targetID appid.AppId, body ports.CubePort, user string) (ports.CubeInfo, error) {
	s.rememberBranch(targetID)
	rec := s.recordFor(targetID, body.Name(), true)
	var revNum int64 = 1
	if prev := rec.latest(); prev != nil {
		revNum = absRevision(prev.info.Revision) + 1
	}
	info := ports.CubeInfo{
		ID:       uuid.NewString(),
		Name:     body.Name(),
		Revision: revNum,
		Sha1:     body.Sha1(),
		Changed:  false,
		AppId:    targetID,
	}
	s.append(targetID, body.Name(), revision{info: info, body: body})
	return info, nil
}

func (s *Store) CommitMergedCubeToHead(ctx context.Context, id appid.AppId, c ports.CubePort, baseSha1 string, user string) (ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.commitInto(id.AsHead(), c, user)
	if err != nil {
		return ports.CubeInfo{}, err
	}
	s.updateBranchSideAfterMerge(id, c.Name(), info.Sha1)
	return info, nil
}

func (s *Store) CommitMergedCubeToBranch(ctx context.Context, id appid.AppId, c ports.CubePort, baseSha1 string, user string) (ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rememberBranch(id)
	rec := s.recordFor(id, c.Name(), true)
	var revNum int64 = 1
	if prev := rec.latest(); prev != nil {
		revNum = absRevision(prev.info.Revision) + 1
	}
	headSha1 := c.Sha1()
	if headRec := s.recordFor(id.AsHead(), c.Name(), false); headRec != nil && headRec.latest() != nil {
		headSha1 = headRec.latest().info.Sha1
	}
	info := ports.CubeInfo{
		ID:       uuid.NewString(),
		Name:     c.Name(),
		Revision: revNum,
		Sha1:     c.Sha1(),
		HeadSha1: &headSha1,
		Changed:  false,
		AppId:    id,
	}
	s.append(id, c.Name(), revision{info: info, body: c})
	return info, nil
}

// updateBranchSideAfterMerge fast-forwards the branch's bookkeeping
// (headSha1, changed) after its content has landed in HEAD, matching
// the effect CommitCubes has on the cubes it commits.
func (s *Store) updateBranchSideAfterMerge(branchID appid.AppId, name, newHeadSha1 string) {
	rec := s.recordFor(branchID, name, false)
	if rec == nil || rec.latest() == nil {
		return
	}
	sha := newHeadSha1
	rec.latest().info.HeadSha1 = &sha
	rec.latest().info.Changed = false
}

func (s *Store) PullToBranch(ctx context.Context, id appid.AppId, ids []string, user string) ([]ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.CubeInfo
	for _, headID := range ids {
		loc, ok := s.index[headID]
		if !ok {
			return nil, fmt.Errorf("memstore: id %q not found", headID)
		}
		headRec := s.data[loc.appKey][loc.name]
		var headRev *revision
		for i := range headRec.history {
			if headRec.history[i].info.ID == headID {
				headRev = &headRec.history[i]
				break
			}
		}
		if headRev == nil {
			return nil, fmt.Errorf("memstore: id %q not found", headID)
		}
		branchID := headRev.info.AppId.AsBranch(id.Branch)
		s.rememberBranch(branchID)
		rec := s.recordFor(branchID, headRev.info.Name, true)
		var revNum int64 = 1
		if prev := rec.latest(); prev != nil {
			revNum = absRevision(prev.info.Revision) + 1
		}
		sha := headRev.info.Sha1
		info := ports.CubeInfo{
			ID:       uuid.NewString(),
			Name:     headRev.info.Name,
			Revision: revNum,
			Sha1:     headRev.info.Sha1,
			HeadSha1: &sha,
			Changed:  false,
			AppId:    branchID,
		}
		s.append(branchID, headRev.info.Name, revision{info: info, body: headRev.body})
		out = append(out, info)
	}
	return out, nil
}

func (s *Store) UpdateBranchCubeHeadSha1(ctx context.Context, id string, sha1 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.index[id]
	if !ok {
		return fmt.Errorf("memstore: id %q not found", id)
	}
	rec := s.data[loc.appKey][loc.name]
	for i := range rec.history {
		if rec.history[i].info.ID == id {
			rec.history[i].info.HeadSha1 = &sha1
			return nil
		}
	}
	return fmt.Errorf("memstore: id %q not found", id)
}

func (s *Store) CopyBranch(ctx context.Context, id appid.AppId, newBranch string, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := id.AsBranch(newBranch)
	s.rememberBranch(target)
	byName := s.data[id.CacheKey()]
	for name, rec := range byName {
		latest := rec.latest()
		if latest == nil || latest.info.IsTombstone() {
			continue
		}
		sha := latest.info.Sha1
		info := ports.CubeInfo{
			ID:       uuid.NewString(),
			Name:     latest.info.Name,
			Revision: 1,
			Sha1:     sha,
			HeadSha1: &sha,
			Changed:  false,
			AppId:    target,
		}
		s.append(target, name, revision{info: info, body: latest.body})
	}
	return nil
}

func (s *Store) MoveBranch(ctx context.Context, id appid.AppId, newVersion string, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldKey := id.CacheKey()
	byName, ok := s.data[oldKey]
	if !ok {
		return nil
	}
	target := id.AsVersion(newVersion)
	s.rememberBranch(target)
	newKey := target.CacheKey()
	for name, rec := range byName {
		for i := range rec.history {
			rec.history[i].info.AppId = target
			s.index[rec.history[i].info.ID] = location{appKey: newKey, name: name}
		}
	}
	s.data[newKey] = byName
	delete(s.data, oldKey)
	return nil
}

func (s *Store) ReleaseCubes(ctx context.Context, id appid.AppId, newSnapshotVersion string, user string) ([]ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	releaseID := id.AsRelease()
	newHeadID := id.AsVersion(newSnapshotVersion).AsSnapshot().AsHead()
	s.rememberBranch(releaseID)
	s.rememberBranch(newHeadID)

	byName := s.data[id.CacheKey()]
	var released []ports.CubeInfo
	for name, rec := range byName {
		latest := rec.latest()
		if latest == nil || latest.info.IsTombstone() {
			continue
		}
		relInfo := ports.CubeInfo{
			ID:       uuid.NewString(),
			Name:     latest.info.Name,
			Revision: 1,
			Sha1:     latest.info.Sha1,
			Changed:  false,
			AppId:    releaseID,
		}
		s.append(releaseID, name, revision{info: relInfo, body: latest.body})
		released = append(released, relInfo)

		sha := latest.info.Sha1
		headInfo := ports.CubeInfo{
			ID:       uuid.NewString(),
			Name:     latest.info.Name,
			Revision: 1,
			Sha1:     sha,
			HeadSha1: &sha,
			Changed:  false,
			AppId:    newHeadID,
		}
		s.append(newHeadID, name, revision{info: headInfo, body: latest.body})
	}
	return released, nil
}

func (s *Store) MergeAcceptMine(ctx context.Context, id appid.AppId, name, sha1 string, user string) (ports.CubeInfo, error) {
	return s.resolveConflict(id, name, sha1, true)
}

func (s *Store) MergeAcceptTheirs(ctx context.Context, id appid.AppId, name, sha1 string, user string) (ports.CubeInfo, error) {
	return s.resolveConflict(id, name, sha1, false)
}

func (s *Store) resolveConflict(id appid.AppId, name, sha1 string, keepMine bool) (ports.CubeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	branchRec := s.recordFor(id, name, false)
	if branchRec == nil || branchRec.latest() == nil {
		return ports.CubeInfo{}, fmt.Errorf("memstore: cube %q not found", name)
	}
	if branchRec.latest().info.Sha1 != sha1 {
		return ports.CubeInfo{}, fmt.Errorf("memstore: sha1 mismatch resolving %q", name)
	}

	headRec := s.recordFor(id.AsHead(), name, false)
	if headRec == nil || headRec.latest() == nil {
		return ports.CubeInfo{}, fmt.Errorf("memstore: head cube %q not found", name)
	}

	body := branchRec.latest().body
	if !keepMine {
		body = headRec.latest().body
	}
	headSha := headRec.latest().info.Sha1
	info := ports.CubeInfo{
		ID:       uuid.NewString(),
		Name:     name,
		Revision: absRevision(branchRec.latest().info.Revision) + 1,
		Sha1:     body.Sha1(),
		HeadSha1: &headSha,
		Changed:  false,
		AppId:    id,
	}
	s.append(id, name, revision{info: info, body: body})
	return info, nil
}

func (s *Store) GetAppNames(ctx context.Context, tenant string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for key := range s.data {
		parts := strings.SplitN(key, "/", 2)
		if len(parts) < 2 || parts[0] != strings.ToLower(tenant) {
			continue
		}
		appPart := strings.SplitN(parts[1], "/", 2)[0]
		seen[appPart] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetVersions(ctx context.Context, tenant, app string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string][]string{}
	prefix := strings.ToLower(tenant) + "/" + strings.ToLower(app) + "/"
	seen := map[string]struct{}{}
	for key := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		parts := strings.Split(rest, "/")
		if len(parts) < 2 {
			continue
		}
		version, status := parts[0], parts[1]
		dedupKey := status + "/" + version
		if _, ok := seen[dedupKey]; ok {
			continue
		}
		seen[dedupKey] = struct{}{}
		out[status] = append(out[status], version)
	}
	return out, nil
}

func (s *Store) GetBranches(ctx context.Context, id appid.AppId) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.branches[id.BranchAgnosticCacheKey()]
	out := make(map[string]struct{}, len(set))
	for b := range set {
		out[b] = struct{}{}
	}
	return out, nil
}

func (s *Store) DeleteBranch(ctx context.Context, id appid.AppId, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id.CacheKey())
	if set := s.branches[id.BranchAgnosticCacheKey()]; set != nil {
		delete(set, id.Branch)
	}
	return nil
}

func (s *Store) UpdateTestData(ctx context.Context, id appid.AppId, name, testData string, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordFor(id, name, false)
	if rec == nil || rec.latest() == nil {
		return ErrNotFound
	}
	rec.latest().info.TestData = testData
	return nil
}

func (s *Store) GetTestData(ctx context.Context, id appid.AppId, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.recordFor(id, name, false)
	if rec == nil || rec.latest() == nil {
		return "", ErrNotFound
	}
	return rec.latest().info.TestData, nil
}

func (s *Store) UpdateNotes(ctx context.Context, id appid.AppId, name, notes string, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordFor(id, name, false)
	if rec == nil || rec.latest() == nil {
		return ErrNotFound
	}
	rec.latest().info.Notes = notes
	return nil
}

func (s *Store) GetNotes(ctx context.Context, id appid.AppId, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.recordFor(id, name, false)
	if rec == nil || rec.latest() == nil {
		return "", ErrNotFound
	}
	return rec.latest().info.Notes, nil
}

// append records a new revision and indexes it by id. Caller holds s.mu.
func (s *Store) append(id appid.AppId, name string, rev revision) {
	appKey := id.CacheKey()
	byName, ok := s.data[appKey]
	if !ok {
		byName = make(map[string]*record)
		s.data[appKey] = byName
	}
	lname := strings.ToLower(name)
	rec, ok := byName[lname]
	if !ok {
		rec = &record{}
		byName[lname] = rec
	}
	rec.history = append(rec.history, rev)
	s.index[rev.info.ID] = location{appKey: appKey, name: lname}
}

func absRevision(r int64) int64 {
	if r < 0 {
		return -r
	}
	return r
}

var _ ports.PersisterPort = (*Store)(nil)
