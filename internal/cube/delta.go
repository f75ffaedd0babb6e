package cube

import (
	"fmt"

	"github.com/cuberepo/cuberepo/internal/ports"
)

// DeltaProcessor is a reference ports.DeltaProcessor: it diffs cell
// maps directly rather than understanding any richer cell-expression
// language, which is sufficient to exercise the three-way merge
// algorithm in internal/branch against the reference Cube type.
type DeltaProcessor struct{}

func (DeltaProcessor) GetDelta(base, target ports.CubePort) (ports.Delta, error) {
	baseCube, ok := base.(*Cube)
	if !ok {
		return ports.Delta{}, fmt.Errorf("cube: delta processor requires *cube.Cube, got %T", base)
	}
	targetCube, ok := target.(*Cube)
	if !ok {
		return ports.Delta{}, fmt.Errorf("cube: delta processor requires *cube.Cube, got %T", target)
	}

	baseCells := baseCube.cellsSnapshot()
	targetCells := targetCube.cellsSnapshot()

	seen := make(map[string]struct{}, len(baseCells)+len(targetCells))
	var entries []ports.DeltaEntry
	for _, k := range sortedCoordKeys(baseCells) {
		seen[k] = struct{}{}
		newV, present := targetCells[k]
		oldV := baseCells[k]
		if !present {
			entries = append(entries, ports.DeltaEntry{Coordinates: decodeKey(k), OldValue: oldV, NewValue: nil})
		} else if !equalValues(oldV, newV) {
			entries = append(entries, ports.DeltaEntry{Coordinates: decodeKey(k), OldValue: oldV, NewValue: newV})
		}
	}
	for _, k := range sortedCoordKeys(targetCells) {
		if _, ok := seen[k]; ok {
			continue
		}
		entries = append(entries, ports.DeltaEntry{Coordinates: decodeKey(k), OldValue: nil, NewValue: targetCells[k]})
	}
	return ports.Delta{Entries: entries}, nil
}

func (DeltaProcessor) AreDeltaSetsCompatible(a, b ports.Delta, _ bool) bool {
	touched := make(map[string]struct{}, len(a.Entries))
	for _, e := range a.Entries {
		touched[e.Key()] = struct{}{}
	}
	for _, e := range b.Entries {
		if _, clash := touched[e.Key()]; clash {
			return false
		}
	}
	return true
}

func (DeltaProcessor) MergeDeltaSet(target ports.CubePort, delta ports.Delta) error {
	targetCube, ok := target.(*Cube)
	if !ok {
		return fmt.Errorf("cube: delta processor requires *cube.Cube, got %T", target)
	}
	for _, e := range delta.Entries {
		if e.NewValue == nil {
			targetCube.RemoveCell(e.Coordinates)
			continue
		}
		targetCube.SetCell(e.NewValue, e.Coordinates)
	}
	return nil
}

func (p DeltaProcessor) GetDeltaDescription(a, b ports.CubePort) ([]ports.DeltaEntry, error) {
	delta, err := p.GetDelta(a, b)
	if err != nil {
		return nil, err
	}
	return delta.Entries, nil
}

func equalValues(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// decodeKey reverses ports.CoordKey's "axis=value;..." encoding. The
// encoding is internal to this package pairing (cube + CoordKey), so a
// private decode here is fine: no other package needs to invert it.
func decodeKey(key string) map[string]string {
	out := map[string]string{}
	cur := ""
	axis := ""
	inValue := false
	for i := 0; i < len(key); i++ {
		ch := key[i]
		switch {
		case ch == '=' && !inValue:
			axis = cur
			cur = ""
			inValue = true
		case ch == ';' && inValue:
			out[axis] = cur
			cur = ""
			inValue = false
			axis = ""
		default:
			cur += string(ch)
		}
	}
	return out
}
