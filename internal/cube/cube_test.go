package cube

import (
	"testing"

	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/stretchr/testify/require"
)

func testAppID() appid.AppId {
	return appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: "feature"}
}

func TestSha1Stable(t *testing.T) {
	c := New(testAppID(), "x")
	c.SetCell(10, map[string]string{"a": "1", "b": "1"})
	s1 := c.Sha1()
	s2 := c.Sha1()
	require.Equal(t, s1, s2)

	c.SetCell(11, map[string]string{"a": "1", "b": "1"})
	require.NotEqual(t, s1, c.Sha1())
}

func TestDuplicateIndependent(t *testing.T) {
	c := New(testAppID(), "x")
	c.SetCell(10, map[string]string{"a": "1"})
	dup := c.Duplicate("y").(*Cube)
	dup.SetCell(99, map[string]string{"a": "1"})

	v, _ := c.GetCell(map[string]string{"a": "1"})
	require.Equal(t, 10, v)
	dv, _ := dup.GetCell(map[string]string{"a": "1"})
	require.Equal(t, 99, dv)
}

func TestDeltaProcessorCompatibleMerge(t *testing.T) {
	base := New(testAppID(), "x")
	base.SetCell(10, map[string]string{"row": "1", "col": "1"})

	branch := base.Duplicate("x").(*Cube)
	branch.SetCell(20, map[string]string{"row": "1", "col": "2"})

	head := base.Duplicate("x").(*Cube)
	head.SetCell(30, map[string]string{"row": "2", "col": "1"})

	dp := DeltaProcessor{}
	branchDelta, err := dp.GetDelta(base, branch)
	require.NoError(t, err)
	headDelta, err := dp.GetDelta(base, head)
	require.NoError(t, err)

	require.True(t, dp.AreDeltaSetsCompatible(branchDelta, headDelta, false))

	require.NoError(t, dp.MergeDeltaSet(branch, headDelta))

	v1, _ := branch.GetCell(map[string]string{"row": "1", "col": "1"})
	v2, _ := branch.GetCell(map[string]string{"row": "1", "col": "2"})
	v3, _ := branch.GetCell(map[string]string{"row": "2", "col": "1"})
	require.Equal(t, 10, v1)
	require.Equal(t, 20, v2)
	require.Equal(t, 30, v3)
}

func TestDeltaProcessorConflict(t *testing.T) {
	base := New(testAppID(), "x")
	base.SetCell(10, map[string]string{"row": "1", "col": "1"})

	branch := base.Duplicate("x").(*Cube)
	branch.SetCell(11, map[string]string{"row": "1", "col": "1"})

	head := base.Duplicate("x").(*Cube)
	head.SetCell(12, map[string]string{"row": "1", "col": "1"})

	dp := DeltaProcessor{}
	branchDelta, _ := dp.GetDelta(base, branch)
	headDelta, _ := dp.GetDelta(base, head)
	require.False(t, dp.AreDeltaSetsCompatible(branchDelta, headDelta, false))
}

func TestReferencedCubeNames(t *testing.T) {
	c := New(testAppID(), "x")
	c.SetCell("ref:other.cube", map[string]string{"a": "1"})
	c.SetCell("plain", map[string]string{"a": "2"})
	refs := c.GetReferencedCubeNames()
	require.Contains(t, refs, "other.cube")
	require.Len(t, refs, 1)
}

func TestFromSimpleJSON(t *testing.T) {
	c := New(testAppID(), "seed")
	out, err := c.FromSimpleJSON(`{"name":"x","cells":{"a=1;":5}}`)
	require.NoError(t, err)
	require.Equal(t, "x", out.Name())
}

var _ ports.CubePort = (*Cube)(nil)
