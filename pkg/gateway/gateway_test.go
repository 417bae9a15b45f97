package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/apperrors"
	"github.com/kvgate/kvgate/pkg/pool"
	"github.com/kvgate/kvgate/pkg/testhelpers"
)

const (
	testHost = "10.1.0.1"
	testPort = 6379
)

type env struct {
	t       *testing.T
	pool    *pool.Pool
	factory *testhelpers.FakeFactory
	server  *testhelpers.FakeServer
}

func newEnv(t *testing.T, family driver.Family) *env {
	t.Helper()
	e := &env{
		t:       t,
		factory: testhelpers.NewFakeFactory(family),
		server:  testhelpers.NewFakeServer(),
	}
	e.factory.Serve(testHost, testPort, e.server)
	e.pool = pool.New(e.factory, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = e.pool.Teardown() })
	return e
}

func (e *env) config(db int) Config {
	return Config{Host: testHost, Port: testPort, Database: db}
}

func (e *env) gateway(cfg Config, opts ...Option) *Gateway {
	e.t.Helper()
	g, err := New(context.Background(), e.pool, cfg, zaptest.NewLogger(e.t), opts...)
	require.NoError(e.t, err)
	return g
}

func (e *env) remoteDB(g *Gateway) int {
	e.t.Helper()
	db, ok := e.server.Database(g.Context().ConnectionID)
	require.True(e.t, ok, "connection must be open on the server")
	return db
}

// fakeClock is a manually advanced clock.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestEndToEnd_TwoDatabasesOneConnection(t *testing.T) {
	for _, family := range []driver.Family{driver.FamilyGoRedis, driver.FamilyRedigo} {
		t.Run(string(family), func(t *testing.T) {
			e := newEnv(t, family)
			ctx := context.Background()

			g1 := e.gateway(e.config(3))
			assert.Equal(t, 3, e.remoteDB(g1))

			g2 := e.gateway(e.config(4))
			assert.Equal(t, 4, e.remoteDB(g2), "constructing g2 reconciles the shared connection")

			count, err := e.pool.AcquireCount(g1.Identity())
			require.NoError(t, err)
			assert.Equal(t, uint(2), count)
			assert.Equal(t, g1.Context().ConnectionID, g2.Context().ConnectionID)
			assert.Same(t, g1.handle, g2.handle)

			ok, err := g1.CheckIntegrity(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 3, g1.Context().Database)
			assert.Equal(t, 3, e.remoteDB(g1))
			assert.Equal(t, Verified, g1.State())

			assert.Equal(t, 3, e.server.Counters().Selects)
			assert.Equal(t, 1, e.server.OpenConnections())
		})
	}
}

func TestNew_DifferentIdentitiesUseDistinctHandles(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	other := testhelpers.NewFakeServer()
	e.factory.Serve("10.1.0.2", testPort, other)

	secured := testhelpers.NewFakeServer()
	secured.RequirePass("pw")
	e.factory.Serve("10.1.0.3", testPort, secured)

	a := e.gateway(e.config(0))
	b := e.gateway(Config{Host: "10.1.0.2", Port: testPort})
	c := e.gateway(Config{Host: "10.1.0.3", Port: testPort, Password: "pw"})

	assert.NotSame(t, a.handle, b.handle)
	assert.NotSame(t, a.handle, c.handle)
	assert.NotSame(t, b.handle, c.handle)
	assert.Equal(t, 3, e.factory.Built())
}

func TestNew_AuthFailure(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	e.server.RequirePass("right")
	cfg := e.config(2)
	cfg.Password = "wrong"

	g, err := New(context.Background(), e.pool, cfg, zaptest.NewLogger(t))

	assert.Nil(t, g)
	assert.ErrorIs(t, err, apperrors.ErrConnectionLost)
	_, err = e.pool.AcquireCount(cfg.Identity())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNew_InvalidConfig(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)

	_, err := New(context.Background(), e.pool, e.config(-1), nil)
	assert.ErrorIs(t, err, apperrors.ErrLogic)

	_, err = New(context.Background(), e.pool, Config{Scheme: "udp"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrLogic)

	assert.Zero(t, e.factory.Built())
}

func TestNew_UnreconcilableDatabase(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	e.server.FailSelects(true)
	cfg := e.config(3)

	g, err := New(context.Background(), e.pool, cfg, zaptest.NewLogger(t))

	assert.Nil(t, g)
	assert.ErrorIs(t, err, apperrors.ErrLocalIntegrity)
	assert.NotErrorIs(t, err, apperrors.ErrConnectionLost)

	count, err := e.pool.AcquireCount(cfg.Identity())
	require.NoError(t, err)
	assert.Zero(t, count, "failed construction gives its reference back")
}

func TestSelectDatabase_NegativeNeverTouchesNetwork(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g := e.gateway(e.config(1), WithProbeInterval(0))
	before := e.server.Counters()

	for _, n := range []int{-1, -16, -1 << 30} {
		ok, err := g.SelectDatabase(context.Background(), n)
		assert.False(t, ok)
		assert.ErrorIs(t, err, apperrors.ErrLogic)
	}

	assert.Equal(t, before, e.server.Counters())
	assert.Equal(t, 1, g.Context().Database)
}

func TestSelectDatabase_ThenCheckIntegrityDoesNotReselect(t *testing.T) {
	e := newEnv(t, driver.FamilyRedigo)
	g := e.gateway(e.config(0))
	ctx := context.Background()

	ok, err := g.SelectDatabase(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, g.Context().Database)

	selects := e.server.Counters().Selects
	ok, err = g.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, selects, e.server.Counters().Selects)
}

func TestSelectDatabase_ServerErrorIsUnexpected(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g := e.gateway(e.config(2))
	e.server.FailSelects(true)

	ok, err := g.SelectDatabase(context.Background(), 4)

	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrUnexpected)
	assert.False(t, apperrors.IsConnectivity(err))
	assert.Equal(t, 2, g.Context().Database)
}

func TestCheckIntegrity_PushesLocalIntent(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	ctx := context.Background()
	a := e.gateway(e.config(0))
	b := e.gateway(e.config(0))

	_, err := a.SelectDatabase(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 5, e.remoteDB(b))
	selects := e.server.Counters().Selects

	ok, err := b.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, selects+1, e.server.Counters().Selects)
	assert.Equal(t, 0, b.Context().Database, "remote state is never copied into the local context")
	assert.Equal(t, 0, e.remoteDB(b))
	assert.Equal(t, 5, a.Context().Database)
}

func TestCheckIntegrity_ForeignSelect(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g := e.gateway(e.config(9))

	e.server.SetDatabase(g.Context().ConnectionID, 2)

	ok, err := g.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9, e.remoteDB(g))
}

func TestCheckIntegrity_ResolutionFailureIsFalse(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g := e.gateway(e.config(1))
	e.server.FilterClientList(func([]driver.Descriptor) []driver.Descriptor { return nil })

	ok, err := g.CheckIntegrity(context.Background())

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Failed, g.State())
	assert.NotEmpty(t, g.LastError())
}

func TestCheckIntegrity_ReconcileFailureIsFalse(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g := e.gateway(e.config(1))
	e.server.SetDatabase(g.Context().ConnectionID, 6)
	e.server.FailSelects(true)

	ok, err := g.CheckIntegrity(context.Background())

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Failed, g.State())
	assert.Contains(t, g.LastError(), "SELECT")
}

func TestCheckIntegrity_ConnectivityErrorPropagates(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g := e.gateway(e.config(1), WithProbeInterval(0))
	e.server.Stop()

	ok, err := g.CheckIntegrity(context.Background())

	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrConnectionLost)
	assert.Equal(t, Failed, g.State())
}

func TestIsConnected_Debounce(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	clock := newFakeClock()
	g := e.gateway(e.config(0), WithClock(clock.Now), WithProbeInterval(450*time.Millisecond))
	ctx := context.Background()

	clock.Advance(time.Second)
	pings := e.server.Counters().Pings

	ok, err := g.IsConnected(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pings+1, e.server.Counters().Pings)

	clock.Advance(100 * time.Millisecond)
	ok, err = g.IsConnected(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pings+1, e.server.Counters().Pings, "second probe inside the window is cached")

	clock.Advance(450 * time.Millisecond)
	_, err = g.IsConnected(ctx)
	require.NoError(t, err)
	assert.Equal(t, pings+2, e.server.Counters().Pings)
}

func TestIsConnected_FailureClearsCache(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	clock := newFakeClock()
	g := e.gateway(e.config(0), WithClock(clock.Now))
	ctx := context.Background()

	clock.Advance(time.Second)
	e.server.FailPings(true)
	ok, err := g.IsConnected(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrConnectionLost)
	assert.Contains(t, g.LastError(), "LOADING")

	e.server.FailPings(false)
	pings := e.server.Counters().Pings
	clock.Advance(10 * time.Millisecond)
	ok, err = g.IsConnected(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pings+1, e.server.Counters().Pings, "a failed probe is never cached")
}

func TestIsConnected_AfterTeardown(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g := e.gateway(e.config(0), WithProbeInterval(0))

	require.NoError(t, e.pool.Teardown())

	_, err := g.IsConnected(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrConnectionLost)
}

func TestEnsureIntegrity_SoleHolderSkipsRemoteCheck(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	ctx := context.Background()
	g := e.gateway(e.config(2))

	lists := e.server.Counters().ClientLists
	ok, err := g.EnsureIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, lists, e.server.Counters().ClientLists)

	other := e.gateway(e.config(3))
	lists = e.server.Counters().ClientLists
	ok, err = g.EnsureIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, lists+1, e.server.Counters().ClientLists)
	assert.Equal(t, 2, e.remoteDB(g))

	other.Close()
	lists = e.server.Counters().ClientLists
	_, err = g.EnsureIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, lists+1, e.server.Counters().ClientLists,
		"a connection another gateway once held is always checked")
}

func TestEnsureIntegrity_AfterOtherGatewayClosed(t *testing.T) {
	for _, family := range []driver.Family{driver.FamilyGoRedis, driver.FamilyRedigo} {
		t.Run(string(family), func(t *testing.T) {
			e := newEnv(t, family)
			ctx := context.Background()

			g1 := e.gateway(e.config(3))
			require.Equal(t, Verified, g1.State())

			g2 := e.gateway(e.config(4))
			require.Equal(t, 4, e.remoteDB(g2))
			g2.Close()

			count, err := e.pool.AcquireCount(g1.Identity())
			require.NoError(t, err)
			require.Equal(t, uint(1), count)

			ok, err := g1.EnsureIntegrity(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 3, e.remoteDB(g1))
			assert.Equal(t, 3, g1.Context().Database)
		})
	}
}

func TestHandle_AfterOtherGatewayClosed(t *testing.T) {
	for _, family := range []driver.Family{driver.FamilyGoRedis, driver.FamilyRedigo} {
		t.Run(string(family), func(t *testing.T) {
			e := newEnv(t, family)
			ctx := context.Background()

			g1 := e.gateway(e.config(3))
			g2 := e.gateway(e.config(4))
			g2.Close()

			h, err := g1.Handle(ctx)
			require.NoError(t, err)
			assert.Same(t, g1.handle, h)
			assert.Equal(t, 3, e.remoteDB(g1), "the handle must be on the gateway's own database")
		})
	}
}

func TestEnsureIntegrity_FailedStateChecksRemote(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	ctx := context.Background()
	g := e.gateway(e.config(2))

	e.server.FilterClientList(func([]driver.Descriptor) []driver.Descriptor { return nil })
	ok, err := g.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	e.server.FilterClientList(nil)
	lists := e.server.Counters().ClientLists
	ok, err = g.EnsureIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, lists+1, e.server.Counters().ClientLists)
	assert.Equal(t, Verified, g.State())
}

func TestHandle_ReconcilesBeforeReturning(t *testing.T) {
	e := newEnv(t, driver.FamilyRedigo)
	ctx := context.Background()
	a := e.gateway(e.config(1))
	b := e.gateway(e.config(8))

	h, err := a.Handle(ctx)
	require.NoError(t, err)
	assert.Same(t, b.handle, h)
	assert.Equal(t, 1, e.remoteDB(a))
}

func TestPersistentGateways_MatchByConnectionID(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	ctx := context.Background()
	cfg := e.config(4)
	cfg.Persistent = true

	g1 := e.gateway(cfg)
	cfg.Database = 6
	g2 := e.gateway(cfg)

	assert.Same(t, g1.handle, g2.handle)
	assert.True(t, g1.Context().Persistent)

	ok, err := g1.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, e.remoteDB(g1))

	// Teardown keeps the connection; a new gateway lands on it again.
	require.NoError(t, e.pool.Teardown())
	g3 := e.gateway(cfg)
	assert.Equal(t, g1.Context().ConnectionID, g3.Context().ConnectionID)
	assert.Equal(t, 6, e.remoteDB(g3))
}

func TestEnsureIntegrity_PersistentAfterTeardown(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	ctx := context.Background()
	cfg := e.config(4)
	cfg.Persistent = true

	g1 := e.gateway(cfg)
	require.NoError(t, e.pool.Teardown())

	cfg.Database = 6
	g2 := e.gateway(cfg)
	require.Equal(t, g1.Context().ConnectionID, g2.Context().ConnectionID)
	require.Equal(t, 6, e.remoteDB(g2))

	ok, err := g1.EnsureIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, e.remoteDB(g1))
}

func TestCheckIntegrity_PreSevenServer(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	e.server.Version = 6

	g1 := e.gateway(e.config(3))
	g2 := e.gateway(e.config(4))

	ok, err := g1.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, e.remoteDB(g2))
}

func TestClose_ReleasesOnce(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g1 := e.gateway(e.config(0))
	e.gateway(e.config(1))

	g1.Close()
	g1.Close()

	count, err := e.pool.AcquireCount(g1.Identity())
	require.NoError(t, err)
	assert.Equal(t, uint(1), count)
	assert.True(t, g1.handle.IsConnected(), "closing a gateway never disconnects the shared handle")
}

func TestConnectionID_IsCached(t *testing.T) {
	e := newEnv(t, driver.FamilyGoRedis)
	g := e.gateway(e.config(0))
	ids := e.server.Counters().ClientIDs

	id, err := g.ConnectionID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, g.Context().ConnectionID, id)
	assert.Equal(t, ids, e.server.Counters().ClientIDs)
	assert.Equal(t, driver.FamilyGoRedis, g.Family())
}
