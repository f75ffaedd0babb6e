package broadcast

import (
	"context"
	"testing"

	"github.com/cuberepo/cuberepo/internal/appid"
)

func TestNoopBroadcastIsHarmless(t *testing.T) {
	var b Noop
	b.Broadcast(context.Background(), appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: appid.Head})
}

func TestGRPCBroadcasterWithNoPeersIsNoop(t *testing.T) {
	b := NewGRPCBroadcaster(nil, 0, 0)
	defer b.Close()
	b.Broadcast(context.Background(), appid.AppId{Tenant: "acme", App: "pricing", Version: "1.0.0", Status: appid.Snapshot, Branch: appid.Head})
}
