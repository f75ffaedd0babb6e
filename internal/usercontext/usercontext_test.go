package usercontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithUserRoundTrip(t *testing.T) {
	ctx := WithUser(context.Background(), "bob")
	require.Equal(t, "bob", UserFromContext(ctx))
}

func TestUserFromContextDefaultsToAnonymous(t *testing.T) {
	require.Equal(t, Anonymous, UserFromContext(context.Background()))
}
