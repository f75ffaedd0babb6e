// Package broadcast fans a structural-change notification out to peer
// processes over gRPC, best-effort: failures are logged and never
// returned to the caller, who waits until every peer call has finished.
// Grounded on server/rpcserver.go's grpc.NewServer/interceptor wiring
// and raft/transport.go's peer dial pool, but client-only: this core
// has no RPC surface of its own to serve, only peers to notify.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/cuberepo/cuberepo/internal/appid"
	"github.com/cuberepo/cuberepo/internal/ports"
	"github.com/cuberepo/cuberepo/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Notification is the wire payload: the single piece of information a
// peer needs is which AppId's structure changed, so it can drop its own
// stale cache for it.
type Notification struct {
	Tenant  string `json:"tenant"`
	App     string `json:"app"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Branch  string `json:"branch"`
}

// GRPCBroadcaster dials every configured peer once and reuses the
// connection, fanning each Broadcast call out concurrently with
// golang.org/x/sync/errgroup and throttled by golang.org/x/time/rate
// the way util/limiter throttles store compactions in the teacher.
type GRPCBroadcaster struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn

	limiter *rate.Limiter
	timeout time.Duration
}

// NewGRPCBroadcaster builds a broadcaster that will lazily dial peers
// on first use. ratePerSecond bounds the fan-out rate across all
// peers combined; a non-positive value disables throttling.
func NewGRPCBroadcaster(peers []string, ratePerSecond float64, timeout time.Duration) *GRPCBroadcaster {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1)
	}
	b := &GRPCBroadcaster{conns: make(map[string]*grpc.ClientConn), limiter: limiter, timeout: timeout}
	for _, p := range peers {
		b.conns[p] = nil // dialed lazily in conn()
	}
	return b
}

func (b *GRPCBroadcaster) conn(peer string) (*grpc.ClientConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.conns[peer]; c != nil {
		return c, nil
	}
	c, err := grpc.Dial(peer,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(telemetry.ClientGRPCMetrics.UnaryClientInterceptor()),
	)
	if err != nil {
		return nil, err
	}
	b.conns[peer] = c
	return c, nil
}

// Broadcast notifies every peer concurrently. Per-peer failures are
// logged and otherwise swallowed, so a failed notification never fails
// the caller's mutation. The call is synchronous: it waits for the rate
// limiter, then returns once every peer call has finished or hit the
// configured timeout; with no timeout, a stalled peer keeps the caller
// waiting.
func (b *GRPCBroadcaster) Broadcast(ctx context.Context, id appid.AppId) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		telemetry.BroadcastFanoutSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if b.limiter != nil {
		_ = b.limiter.Wait(ctx)
	}

	notif := Notification{Tenant: id.Tenant, App: id.App, Version: id.Version, Status: string(id.Status), Branch: id.Branch}

	b.mu.Lock()
	peers := make([]string, 0, len(b.conns))
	for p := range b.conns {
		peers = append(peers, p)
	}
	b.mu.Unlock()

	var failed int32
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			callCtx := gctx
			var cancel context.CancelFunc
			if b.timeout > 0 {
				callCtx, cancel = context.WithTimeout(gctx, b.timeout)
				defer cancel()
			}
			conn, err := b.conn(peer)
			if err != nil {
				log.Warnf("broadcast: dial peer %s failed: %s", peer, err)
				atomic.AddInt32(&failed, 1)
				return nil
			}
			if err := conn.Invoke(callCtx, "/cuberepo.Broadcaster/Notify", &notif, &Notification{}); err != nil {
				log.Warnf("broadcast: notify peer %s failed: %s", peer, err)
				atomic.AddInt32(&failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if failed > 0 {
		outcome = "partial_failure"
	}
}

// Close releases every dialed peer connection.
func (b *GRPCBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, c := range b.conns {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Noop discards every notification, for a process with no peers to
// tell.
type Noop struct{}

func (Noop) Broadcast(context.Context, appid.AppId) {}

var (
	_ ports.Broadcaster = (*GRPCBroadcaster)(nil)
	_ ports.Broadcaster = Noop{}
)
