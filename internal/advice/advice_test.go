package advice

import (
	"testing"

	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/cube"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/stretchr/testify/require"
)

func testID() appid.AppId {
	return appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: "HEAD"}
}

func TestApplyMatchesDefaultMethod(t *testing.T) {
	r := New()
	id := testID()
	r.Register(id, ports.Advice{Name: "audit", Wildcard: "sys.*.run"})

	c := cube.New(id, "sys.permissions")
	r.Apply(id, c)

	applied := c.Advices()
	require.Len(t, applied, 1)
	require.Equal(t, "audit", applied[0].Name)
}

func TestApplyUsesMethodAxisWhenPresent(t *testing.T) {
	r := New()
	id := testID()
	r.Register(id, ports.Advice{Name: "a1", Wildcard: "pricing.*.eval"})
	r.Register(id, ports.Advice{Name: "a2", Wildcard: "pricing.*.run"})

	c := cube.New(id, "pricing.table")
	c.AddColumn("method", "eval")
	r.Apply(id, c)

	names := map[string]bool{}
	for _, a := range c.Advices() {
		names[a.Name] = true
	}
	require.True(t, names["a1"])
	require.False(t, names["a2"])
}

func TestApplyNoAdvicesIsNoop(t *testing.T) {
	r := New()
	id := testID()
	c := cube.New(id, "x")
	r.Apply(id, c)
	require.Empty(t, c.Advices())
}
