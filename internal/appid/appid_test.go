package appid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivations(t *testing.T) {
	a := AppId{Tenant: "Acme", App: "Pricing", Version: "1.0.0", Status: Snapshot, Branch: "feature-x"}

	require.Equal(t, Head, a.AsHead().Branch)
	require.Equal(t, Release, a.AsRelease().Status)
	require.Equal(t, "2.0.0", a.AsVersion("2.0.0").Version)
	require.Equal(t, "other", a.AsBranch("other").Branch)
	require.False(t, a.IsHead())
	require.True(t, a.AsHead().IsHead())
}

func TestCacheKeys(t *testing.T) {
	a := AppId{Tenant: "Acme", App: "Pricing", Version: "1.0.0", Status: Snapshot, Branch: "feature-x"}
	b := AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: Snapshot, Branch: "FEATURE-X"}

	require.Equal(t, a.CacheKey(), b.CacheKey())
	require.NotEqual(t, a.CacheKey(), a.AsBranch("other").CacheKey())
	require.Equal(t, a.BranchAgnosticCacheKey(), a.AsBranch("other").BranchAgnosticCacheKey())
}

func TestEquals(t *testing.T) {
	a := AppId{Tenant: "Acme", App: "Pricing", Version: "1.0.0", Status: Snapshot, Branch: "HEAD"}
	b := AppId{Tenant: "acme", App: "PRICING", Version: "1.0.0", Status: Snapshot, Branch: "head"}
	require.True(t, a.Equals(b))
	require.False(t, a.Equals(b.AsVersion("1.0.1")))
}

func TestValidate(t *testing.T) {
	a := Boot("acme", "pricing")
	require.NoError(t, a.Validate())
	require.True(t, a.IsBootVersion())

	bad := AppId{}
	require.Error(t, bad.Validate())

	bad2 := AppId{Tenant: "t", App: "a", Version: "1.0.0", Status: "BOGUS", Branch: "HEAD"}
	require.Error(t, bad2.Validate())
}
