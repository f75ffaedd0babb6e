// Package hydrate implements the single "load, cache, apply advices"
// path shared by every reader: the permission evaluator's boot-cube
// fetch, the branch engine's base/branch/head loads, and restore's
// re-hydration step all funnel through here so the cache contract
// (§4.1) and the advice-application contract (§4.2) are honoured
// uniformly.
package hydrate

import (
	"context"

	"github.com/cuberepo/cuberepo/internal/advice"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cache"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/cuberepo/cuberepo/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// Hydrator loads a cube through the cache, applying advices on a fresh
// hydration and never re-querying the persister for a confirmed miss.
type Hydrator struct {
	Persister ports.PersisterPort
	Cache     *cache.Registry
	Advices   *advice.Registry

	group singleflight.Group
}

func New(persister ports.PersisterPort, cacheReg *cache.Registry, advices *advice.Registry) *Hydrator {
	return &Hydrator{Persister: persister, Cache: cacheReg, Advices: advices}
}

// Load returns the cube, or (nil, nil) if it does not exist (the soft
// not-found path: callers translate this to their own not-found
// semantics, e.g. cerrs.Input for getNotes/getTestData).
func (h *Hydrator) Load(ctx context.Context, id appid.AppId, name string) (ports.CubePort, error) {
	if c, status := h.Cache.Get(id, name); status != cache.Absent {
		telemetry.CacheHits.WithLabelValues(id.CacheKey()).Inc()
		if status == cache.Miss {
			return nil, nil
		}
		return c, nil
	}
	telemetry.CacheMisses.WithLabelValues(id.CacheKey()).Inc()

	// Lazy construct-on-miss races: the loser of the race discards its
	// construction and adopts the winner's, via singleflight rather than
	// a lock held across the persister call.
	key := id.CacheKey() + "\x00" + name
	v, err, _ := h.group.Do(key, func() (interface{}, error) {
		c, err := h.Persister.LoadCube(ctx, id, name)
		if err != nil {
			return nil, err
		}
		if c == nil {
			h.Cache.PutNotFound(id, name)
			return nil, nil
		}
		h.Advices.Apply(id, c)
		h.Cache.Put(id, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(ports.CubePort), nil
}

// Invalidate drops one cube from the cache; callers use this after a
// successful mutation that is not classpath-involving.
func (h *Hydrator) Invalidate(id appid.AppId, name string) {
	h.Cache.Remove(id, name)
}

// InvalidateAll drops every cached entry for id; callers use this when
// the mutation names sys.classpath (§4.1's whole-AppId rule) or after
// rollback, whose blast radius is not known in advance.
func (h *Hydrator) InvalidateAll(id appid.AppId) {
	h.Cache.Clear(id)
}

// InvalidateBranches drops every cached entry for every branch under
// id's version, used after a release or move promotes/relocates a
// whole version at once.
func (h *Hydrator) InvalidateBranches(id appid.AppId) {
	h.Cache.ClearBranches(id)
}
