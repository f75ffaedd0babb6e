// Package advice implements the per-AppId wildcard-bound interceptor
// registry. Advices are applied to a cube on hydration: every advice
// whose wildcard matches "name.method" (method ranging over the cube's
// method axis columns, or the literal "run" if absent) is attached.
package advice

import (
	"strings"
	"sync"

	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/glob"
	"github.com/cuberepo/cuberepo/internal/ports"
)

const (
	methodAxis    = "method"
	defaultMethod = "run"
)

// Registry holds the advices bound per AppId.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]map[string]ports.Advice // AppId cache key -> wildcard -> advice
}

func New() *Registry {
	return &Registry{byID: make(map[string]map[string]ports.Advice)}
}

// Register binds an advice's wildcard within the given AppId.
func (r *Registry) Register(id appid.AppId, a ports.Advice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id.CacheKey()]
	if !ok {
		m = make(map[string]ports.Advice)
		r.byID[id.CacheKey()] = m
	}
	m[a.Wildcard] = a
}

// Advices returns the advices registered for an AppId.
func (r *Registry) Advices(id appid.AppId) []ports.Advice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byID[id.CacheKey()]
	out := make([]ports.Advice, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out
}

// Apply attaches every matching advice to cube c, which must already be
// hydrated (named and with its method axis, if any, populated).
func (r *Registry) Apply(id appid.AppId, c ports.CubePort) {
	advices := r.Advices(id)
	if len(advices) == 0 {
		return
	}
	methods := []string{defaultMethod}
	if axis, ok := c.GetAxis(methodAxis); ok && len(axis.Columns) > 0 {
		methods = axis.Columns
	}
	for _, m := range methods {
		target := strings.ToLower(c.Name() + "." + m)
		for _, a := range advices {
			if glob.Match(strings.ToLower(a.Wildcard), target) {
				c.AddAdvice(a, m)
			}
		}
	}
}
