// Package cache implements the per-AppId name -> (Cube | NotFound)
// registry. The sync.Map-per-entry plus RWMutex-guarded mass-operation
// shape follows the teacher's catalog struct (master/catalog/catalog.go:
// `cache sync.Map` + `lock sync.RWMutex`).
package cache

import (
	"io"
	"strings"
	"sync"

	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/ports"
)

// notFound is the distinct singleton cached for a confirmed-absent
// cube, so a reader can tell "never queried" from "queried and
// missing" without racing on a nullable value.
type notFoundType struct{}

var notFound = &notFoundType{}

// Status is the result of a cache Get.
type Status int

const (
	Absent Status = iota
	Miss          // cached NotFound sentinel
	Hit
)

type appEntry struct {
	cubes   sync.Map // lowercase name -> ports.CubePort | *notFoundType
	closers sync.Map // name -> io.Closer, e.g. attached classloader-like resources
}

// Registry is the concurrent, per-AppId cube cache.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*appEntry
}

func New() *Registry {
	return &Registry{apps: make(map[string]*appEntry)}
}

func (r *Registry) entry(id appid.AppId, create bool) *appEntry {
	key := id.CacheKey()
	r.mu.RLock()
	e, ok := r.apps[key]
	r.mu.RUnlock()
	if ok || !create {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.apps[key]; ok {
		return e
	}
	e = &appEntry{}
	r.apps[key] = e
	return e
}

// Get returns the cached cube for name, or reports Miss if a prior
// lookup confirmed it absent, or Absent if never queried. Repeated
// Miss results must not trigger another persister query.
func (r *Registry) Get(id appid.AppId, name string) (ports.CubePort, Status) {
	e := r.entry(id, false)
	if e == nil {
		return nil, Absent
	}
	v, ok := e.cubes.Load(strings.ToLower(name))
	if !ok {
		return nil, Absent
	}
	if _, isNotFound := v.(*notFoundType); isNotFound {
		return nil, Miss
	}
	return v.(ports.CubePort), Hit
}

// Put stores cube under its name, unless its "cache" meta-property is
// present and false.
func (r *Registry) Put(id appid.AppId, c ports.CubePort) {
	if cacheable, ok := c.GetMetaProperty("cache"); ok {
		if b, isBool := cacheable.(bool); isBool && !b {
			return
		}
	}
	e := r.entry(id, true)
	e.cubes.Store(strings.ToLower(c.Name()), c)
}

// PutNotFound records a confirmed-absent lookup.
func (r *Registry) PutNotFound(id appid.AppId, name string) {
	e := r.entry(id, true)
	e.cubes.Store(strings.ToLower(name), notFound)
}

// Remove evicts one entry, case-insensitively.
func (r *Registry) Remove(id appid.AppId, name string) {
	e := r.entry(id, false)
	if e == nil {
		return
	}
	e.cubes.Delete(strings.ToLower(name))
}

// AttachCloser registers a resource (e.g. a class loader or compiled
// code cache) tied to a cache entry, released on Clear.
func (r *Registry) AttachCloser(id appid.AppId, name string, closer io.Closer) {
	e := r.entry(id, true)
	e.closers.Store(name, closer)
}

// Clear evicts every entry for this AppId and releases any attached
// closers (class loaders, compiled-code caches).
func (r *Registry) Clear(id appid.AppId) {
	r.mu.Lock()
	e, ok := r.apps[id.CacheKey()]
	if ok {
		delete(r.apps, id.CacheKey())
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.closers.Range(func(_, v interface{}) bool {
		if c, ok := v.(io.Closer); ok {
			_ = c.Close()
		}
		return true
	})
}

// ClearBranches evicts every AppId whose BranchAgnosticCacheKey matches
// id's - used when promoting/releasing a version, invalidating every
// branch under it at once.
func (r *Registry) ClearBranches(id appid.AppId) {
	prefix := id.BranchAgnosticCacheKey()
	r.mu.Lock()
	var toClose []*appEntry
	for k, e := range r.apps {
		if strings.HasPrefix(k, prefix+"/") || k == prefix {
			delete(r.apps, k)
			toClose = append(toClose, e)
		}
	}
	r.mu.Unlock()
	for _, e := range toClose {
		e.closers.Range(func(_, v interface{}) bool {
			if c, ok := v.(io.Closer); ok {
				_ = c.Close()
			}
			return true
		})
	}
}

// ClearAll evicts every AppId. Test-only.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps = make(map[string]*appEntry)
}

// IsCached reports whether name has a live (non-NotFound) cached cube
// for id.
func (r *Registry) IsCached(id appid.AppId, name string) bool {
	_, status := r.Get(id, name)
	return status == Hit
}
