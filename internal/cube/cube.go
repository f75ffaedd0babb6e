// Package cube is a reference implementation of ports.CubePort and
// ports.DeltaProcessor, sufficient for the bundled in-memory persister
// and for tests. Production deployments supply their own cube object
// (cell model, axis/reference semantics); this core only depends on
// the CubePort contract.
package cube

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/ports"
)

// Cube is a simple map-backed multi-dimensional table: axes are named,
// ordered lists of string columns, and cells are addressed by one
// coordinate per axis.
type Cube struct {
	mu sync.RWMutex

	name  string
	appID appid.AppId

	axisOrder []string
	axes      map[string]ports.Axis
	cells     map[string]interface{}
	meta      map[string]interface{}
	advices   []advicedMethod

	sha1 string
}

type advicedMethod struct {
	advice ports.Advice
	method string
}

// New creates an empty cube with the given axes.
func New(id appid.AppId, name string, axes ...ports.Axis) *Cube {
	c := &Cube{
		name:  name,
		appID: id,
		axes:  make(map[string]ports.Axis, len(axes)),
		cells: make(map[string]interface{}),
		meta:  make(map[string]interface{}),
	}
	for _, a := range axes {
		c.axisOrder = append(c.axisOrder, a.Name)
		c.axes[a.Name] = a
	}
	return c
}

func (c *Cube) Name() string        { return c.name }
func (c *Cube) AppId() appid.AppId  { return c.appID }

func (c *Cube) GetMetaProperty(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.meta[name]
	return v, ok
}

// SetMetaProperty is not part of CubePort; it is used by admincubes and
// tests to build fixtures.
func (c *Cube) SetMetaProperty(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[name] = value
}

func (c *Cube) GetAxis(name string) (ports.Axis, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.axes[name]
	return a, ok
}

// AddColumn appends a column to an existing axis, creating the axis if
// absent. Test/fixture helper, not part of CubePort.
func (c *Cube) AddColumn(axis, column string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addColumnLocked(axis, column)
}

// addColumnLocked is AddColumn's body, callable from under c.mu.
func (c *Cube) addColumnLocked(axis, column string) {
	a, ok := c.axes[axis]
	if !ok {
		a = ports.Axis{Name: axis, Type: ports.AxisDiscreteString}
		c.axisOrder = append(c.axisOrder, axis)
	}
	for _, existing := range a.Columns {
		if existing == column {
			c.axes[axis] = a
			return
		}
	}
	a.Columns = append(a.Columns, column)
	c.axes[axis] = a
	c.sha1 = ""
}

func (c *Cube) GetCell(coords map[string]string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cells[ports.CoordKey(coords)]
	return v, ok
}

// SetCell records the coordinate's columns on their axes (creating any
// discrete axis on first use) before storing the value, the same
// dynamic-column behavior n-cube's DISCRETE axis type gives a caller
// that never pre-declares columns.
func (c *Cube) SetCell(value interface{}, coords map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for axis, column := range coords {
		c.addColumnLocked(axis, column)
	}
	c.cells[ports.CoordKey(coords)] = value
	c.sha1 = ""
}

func (c *Cube) RemoveCell(coords map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cells, ports.CoordKey(coords))
	c.sha1 = ""
}

func (c *Cube) ClearCells() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cells = make(map[string]interface{})
	c.sha1 = ""
}

// cellsSnapshot returns a coordinate-key -> value map copy, used by the
// reference delta processor.
func (c *Cube) cellsSnapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.cells))
	for k, v := range c.cells {
		out[k] = v
	}
	return out
}

// GetReferencedCubeNames walks cell values looking for the reserved
// "ref" marker (a string of the form "ref:<cubeName>"). A real CubePort
// implementation has a proper reference axis/expression language; this
// reference version exists only so advice/cycle-safety tests have
// something concrete to walk.
func (c *Cube) GetReferencedCubeNames() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]struct{})
	for _, v := range c.cells {
		if s, ok := v.(string); ok {
			if name, ok := parseRef(s); ok {
				out[name] = struct{}{}
			}
		}
	}
	return out
}

func parseRef(s string) (string, bool) {
	const prefix = "ref:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

func (c *Cube) AddAdvice(advice ports.Advice, method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advices = append(c.advices, advicedMethod{advice: advice, method: method})
}

// Advices returns the interceptors attached by AddAdvice, for tests.
func (c *Cube) Advices() []ports.Advice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ports.Advice, 0, len(c.advices))
	for _, am := range c.advices {
		out = append(out, am.advice)
	}
	return out
}

func (c *Cube) Duplicate(newName string) ports.CubePort {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dup := New(c.appID, newName)
	dup.axisOrder = append([]string{}, c.axisOrder...)
	dup.axes = make(map[string]ports.Axis, len(c.axes))
	for k, v := range c.axes {
		cols := append([]string{}, v.Columns...)
		v.Columns = cols
		dup.axes[k] = v
	}
	for k, v := range c.cells {
		dup.cells[k] = v
	}
	for k, v := range c.meta {
		dup.meta[k] = v
	}
	return dup
}

func (c *Cube) ClearSha1() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sha1 = ""
}

// Sha1 computes (and caches) the content fingerprint over the cube's
// axes and cells. crypto/sha1 is used directly rather than through a
// third-party hashing library: the spec names SHA-1 as the exact
// fingerprint algorithm, and the standard library implementation is
// the correct and only sensible choice here - see DESIGN.md.
func (c *Cube) Sha1() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sha1 != "" {
		return c.sha1
	}
	c.sha1 = computeSha1(c.name, c.axisOrder, c.axes, c.cells)
	return c.sha1
}

func computeSha1(name string, axisOrder []string, axes map[string]ports.Axis, cells map[string]interface{}) string {
	type wire struct {
		Name  string                 `json:"name"`
		Axes  []ports.Axis           `json:"axes"`
		Cells map[string]interface{} `json:"cells"`
	}
	w := wire{Name: name, Cells: cells}
	for _, a := range axisOrder {
		w.Axes = append(w.Axes, axes[a])
	}
	b, _ := json.Marshal(w)
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func (c *Cube) FromSimpleJSON(raw string) (ports.CubePort, error) {
	var doc struct {
		Name  string                 `json:"name"`
		Axes  []ports.Axis           `json:"axes"`
		Cells map[string]interface{} `json:"cells"`
		Meta  map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("cube: invalid simple json: %w", err)
	}
	out := New(c.appID, doc.Name, doc.Axes...)
	for k, v := range doc.Cells {
		out.cells[k] = v
	}
	for k, v := range doc.Meta {
		out.meta[k] = v
	}
	return out, nil
}

// sortedCoordKeys is a small helper shared by the delta processor.
func sortedCoordKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
