// Package gateway provides the logical handle applications use. Gateways with
// the same connection identity share one pooled physical connection; each
// keeps its own selected database and restores it on the shared connection
// whenever another Gateway has moved it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/apperrors"
	"github.com/kvgate/kvgate/pkg/identity"
	"github.com/kvgate/kvgate/pkg/logging"
	"github.com/kvgate/kvgate/pkg/pool"
)

// DefaultProbeInterval is how long a successful liveness probe is trusted.
const DefaultProbeInterval = 450 * time.Millisecond

// Context is a Gateway's private view of where it wants to be.
//
// The credential is kept only in the Gateway's identity.Identity, so a
// Context can be logged or printed as is.
type Context struct {
	Host       string
	Port       uint16
	Scheme     identity.Scheme
	Database   int
	Persistent bool

	// ConnectionID is the server-assigned id of the physical connection,
	// 0 until resolved.
	ConnectionID int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithProbeInterval sets the liveness probe debounce window. Zero probes on
// every call.
func WithProbeInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d >= 0 {
			g.probeInterval = d
		}
	}
}

// WithClock replaces time.Now for the probe debounce.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// Gateway is a logical handle on a pooled connection. It is not safe for
// concurrent use; give each goroutine its own Gateway.
type Gateway struct {
	pool   *pool.Pool
	id     identity.Identity
	handle driver.Handle
	logger *zap.Logger

	ctx       Context
	state     State
	lastError string
	closed    bool

	probeInterval time.Duration
	now           func() time.Time
	lastProbe     time.Time
}

// New acquires a pooled handle for cfg, resolves the connection id and runs
// an integrity check. It returns a Verified Gateway or an error, never a
// partly built Gateway:
//   - apperrors.ErrLogic for an invalid cfg
//   - apperrors.ErrConnectionLost when acquiring or probing fails
//   - apperrors.ErrLocalIntegrity when the database could not be reconciled
func New(ctx context.Context, p *pool.Pool, cfg Config, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := cfg.Identity()
	g := &Gateway{
		pool: p,
		id:   id,
		logger: logger.With(
			zap.String("gateway", uuid.NewString()),
			zap.String("identity", id.String()),
		),
		ctx: Context{
			Host:       id.Host,
			Port:       id.Port,
			Scheme:     id.Scheme,
			Database:   cfg.Database,
			Persistent: id.Persistent,
		},
		state:         Uninitialized,
		probeInterval: DefaultProbeInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	h, err := p.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	g.handle = h
	g.state = Bound

	if err := g.bind(ctx); err != nil {
		g.pool.Release(g.id)
		g.closed = true
		return nil, err
	}

	g.logger.Debug("gateway ready",
		zap.Int("database", g.ctx.Database),
		zap.Int64("connectionID", g.ctx.ConnectionID),
		zap.String("family", string(h.Identify())),
	)
	return g, nil
}

// bind takes a Bound Gateway to Verified.
func (g *Gateway) bind(ctx context.Context) error {
	if _, err := g.ConnectionID(ctx); err != nil {
		g.state = Failed
		if errors.Is(err, apperrors.ErrConnectionLost) {
			return err
		}
		return fmt.Errorf("%w: %w", apperrors.ErrLocalIntegrity, err)
	}

	ok, err := g.CheckIntegrity(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: database %d on %s: %s", apperrors.ErrLocalIntegrity, g.ctx.Database, g.id, g.lastError)
	}
	return nil
}

// IsConnected probes the connection with PING. A successful probe is trusted
// for the probe interval; a failed one clears that and returns an error
// wrapping apperrors.ErrConnectionLost.
func (g *Gateway) IsConnected(ctx context.Context) (bool, error) {
	now := g.now()
	if !g.lastProbe.IsZero() && now.Sub(g.lastProbe) < g.probeInterval {
		return true, nil
	}

	reply, err := g.handle.Ping(ctx)
	if err == nil && !driver.Acknowledged(reply, driver.StatusPONG) {
		err = fmt.Errorf("unexpected ping reply %v", reply)
	}
	if err != nil {
		g.lastProbe = time.Time{}
		g.lastError = logging.SanitizeError(err)
		g.logger.Warn("liveness probe failed", zap.String("error", g.lastError))
		return false, fmt.Errorf("%w: %s: %w", apperrors.ErrConnectionLost, g.id, err)
	}

	g.lastProbe = now
	return true, nil
}

// SelectDatabase switches the shared connection to database n and records n
// as this Gateway's database. A negative n is apperrors.ErrLogic and touches
// nothing. A failed SELECT wraps apperrors.ErrUnexpected.
func (g *Gateway) SelectDatabase(ctx context.Context, n int) (bool, error) {
	if n < 0 {
		return false, fmt.Errorf("%w: databases are identified with unsigned integers, got %d", apperrors.ErrLogic, n)
	}
	if _, err := g.IsConnected(ctx); err != nil {
		return false, err
	}

	reply, err := g.handle.Select(ctx, n)
	if err != nil {
		return false, fmt.Errorf("%w: select %d: %w", apperrors.ErrUnexpected, n, err)
	}
	if !driver.Acknowledged(reply, driver.StatusOK) {
		return false, fmt.Errorf("%w: select %d: reply %v", apperrors.ErrUnexpected, n, reply)
	}

	g.ctx.Database = n
	return true, nil
}

// CheckIntegrity compares this Gateway's database with the one the server
// reports for the shared connection. On a mismatch it selects the local
// database again; the remote value is never copied into the local context.
//
// Connectivity failures return an error wrapping apperrors.ErrConnectionLost.
// Any other failure is recorded in LastError and reported as false.
func (g *Gateway) CheckIntegrity(ctx context.Context) (bool, error) {
	ok, err := g.checkIntegrity(ctx)
	if err == nil {
		if ok {
			g.state = Verified
		} else {
			g.state = Failed
		}
		return ok, nil
	}

	g.state = Failed
	g.lastError = logging.SanitizeError(err)
	if apperrors.IsConnectivity(err) {
		if errors.Is(err, apperrors.ErrConnectionLost) {
			return false, err
		}
		return false, fmt.Errorf("%w: %w", apperrors.ErrConnectionLost, err)
	}

	g.logger.Warn("integrity check failed", zap.String("error", g.lastError))
	return false, nil
}

func (g *Gateway) checkIntegrity(ctx context.Context) (bool, error) {
	descs, err := g.ClientList(ctx)
	if err != nil {
		return false, err
	}

	remote, err := ResolveDatabase(descs, g.handle.Persistent(), g.ctx.ConnectionID)
	if err != nil {
		return false, err
	}
	if remote == g.ctx.Database {
		return true, nil
	}

	g.state = Reconciling
	g.logger.Debug("reconciling database",
		zap.Int("remote", remote),
		zap.Int("local", g.ctx.Database),
	)
	return g.SelectDatabase(ctx, g.ctx.Database)
}

// EnsureIntegrity is CheckIntegrity unless this Gateway has already verified
// the connection and the pool reports it as the only Gateway that ever
// acquired it. The current holder count is not enough: a Gateway that selected
// another database and then closed no longer counts as a holder.
func (g *Gateway) EnsureIntegrity(ctx context.Context) (bool, error) {
	if g.state == Verified {
		if n, err := g.pool.Acquisitions(g.id, g.handle); err == nil && n == 1 {
			return true, nil
		}
	}
	return g.CheckIntegrity(ctx)
}

// ConnectionID returns the server-assigned id of the physical connection,
// asking the server on first use.
func (g *Gateway) ConnectionID(ctx context.Context) (int64, error) {
	if g.ctx.ConnectionID != 0 {
		return g.ctx.ConnectionID, nil
	}
	if _, err := g.IsConnected(ctx); err != nil {
		return 0, err
	}

	id, err := g.handle.ClientID(ctx)
	if err != nil {
		if apperrors.IsConnectivity(err) {
			return 0, fmt.Errorf("%w: client id: %w", apperrors.ErrConnectionLost, err)
		}
		return 0, fmt.Errorf("%w: client id: %w", apperrors.ErrUnexpected, err)
	}
	g.ctx.ConnectionID = id
	return id, nil
}

// ClientList returns the server's descriptors of every open connection.
func (g *Gateway) ClientList(ctx context.Context) ([]driver.Descriptor, error) {
	if _, err := g.IsConnected(ctx); err != nil {
		return nil, err
	}
	return g.handle.ClientList(ctx)
}

// Handle returns the pooled driver handle after making sure the shared
// connection is on this Gateway's database.
func (g *Gateway) Handle(ctx context.Context) (driver.Handle, error) {
	ok, err := g.EnsureIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: database %d: %s", apperrors.ErrUnexpected, g.ctx.Database, g.lastError)
	}
	return g.handle, nil
}

// Close gives the pool reference back. The shared connection stays open.
func (g *Gateway) Close() {
	if g.closed {
		return
	}
	g.closed = true
	g.pool.Release(g.id)
}

// Context returns a copy of the local context.
func (g *Gateway) Context() Context { return g.ctx }

// Identity returns the connection identity.
func (g *Gateway) Identity() identity.Identity { return g.id }

// State returns the lifecycle state.
func (g *Gateway) State() State { return g.state }

// LastError returns the sanitized message of the last recorded failure.
func (g *Gateway) LastError() string { return g.lastError }

// Family returns the driver family of the pooled handle.
func (g *Gateway) Family() driver.Family { return g.handle.Identify() }
