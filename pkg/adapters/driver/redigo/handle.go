// Package redigo is the redigo driver family. Replies are reported as plain
// booleans rather than status tokens.
package redigo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/apperrors"
	"github.com/kvgate/kvgate/pkg/config"
	"github.com/kvgate/kvgate/pkg/identity"
	"github.com/kvgate/kvgate/pkg/logging"
)

var persistent = driver.NewSockets[redis.Conn]()

// Handle implements driver.Handle on a single redigo connection.
type Handle struct {
	mu     sync.Mutex
	id     identity.Identity
	opts   driver.Options
	logger *zap.Logger
	conn   redis.Conn
}

// New returns an unconnected handle.
func New(id identity.Identity, opts driver.Options, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{
		id:     id,
		opts:   opts.WithDefaults(),
		logger: logger.With(zap.String("family", string(driver.FamilyRedigo))),
	}
}

// NewFactory returns a factory producing redigo handles.
func NewFactory(opts driver.Options, logger *zap.Logger) driver.Factory {
	return driver.FactoryFunc(func(_ context.Context, id identity.Identity) (driver.Handle, error) {
		return New(id, opts, logger), nil
	})
}

func (h *Handle) dial(ctx context.Context) (redis.Conn, error) {
	addr := h.id.Addr()
	host := h.id.Host
	if h.id.Scheme != identity.SchemeUnix {
		host = config.ResolveHostForDocker(h.id.Host)
		addr = net.JoinHostPort(host, strconv.Itoa(int(h.id.Port)))
	}

	dialOpts := []redis.DialOption{
		redis.DialConnectTimeout(h.opts.ConnectTimeout),
		redis.DialReadTimeout(h.opts.ReadTimeout),
		redis.DialWriteTimeout(h.opts.WriteTimeout),
	}
	if h.id.Credential != "" {
		dialOpts = append(dialOpts, redis.DialPassword(h.id.Credential))
	}
	if name := h.id.PersistentName(); name != "" {
		dialOpts = append(dialOpts, redis.DialClientName(name))
	}
	if h.id.Scheme == identity.SchemeTLS {
		dialOpts = append(dialOpts,
			redis.DialUseTLS(true),
			redis.DialTLSConfig(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}),
			redis.DialTLSSkipVerify(h.opts.TLSInsecureSkipVerify),
		)
	}

	return redis.DialContext(ctx, h.id.Network(), addr, dialOpts...)
}

// Connect dials, authenticates and verifies the connection with a PING.
func (h *Handle) Connect(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil {
		return true, nil
	}

	key := h.id.Fingerprint()
	if h.id.Persistent {
		if c, ok := persistent.Load(key); ok {
			if _, err := redis.DoContext(c, ctx, "PING"); err == nil {
				h.conn = c
				h.logger.Debug("reusing persistent socket", zap.String("name", h.id.PersistentName()))
				return true, nil
			}
			persistent.Delete(key)
			_ = c.Close()
		}
	}

	c, err := h.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("connect to %s: %w", h.id, err)
	}
	if _, err := redis.DoContext(c, ctx, "PING"); err != nil {
		_ = c.Close()
		return false, fmt.Errorf("connect to %s: %w", h.id, err)
	}

	if h.id.Persistent {
		persistent.Store(key, c)
	}
	h.conn = c
	h.logger.Debug("connected", zap.String("identity", h.id.String()))
	return true, nil
}

// Disconnect closes the connection.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil
	}
	if h.id.Persistent {
		persistent.Delete(h.id.Fingerprint())
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

// IsConnected reports local state only.
func (h *Handle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

func (h *Handle) do(ctx context.Context, cmd string, args ...any) (any, error) {
	if h.conn == nil {
		return nil, fmt.Errorf("%w: %s handle not connected", apperrors.ErrConnectionLost, driver.FamilyRedigo)
	}
	reply, err := redis.DoContext(h.conn, ctx, cmd, args...)
	if err != nil {
		if h.conn.Err() != nil {
			h.logger.Debug("connection unusable after error",
				zap.String("command", cmd),
				zap.String("error", logging.SanitizeError(err)),
			)
		}
		return nil, err
	}
	return reply, nil
}

// Ping returns true on PONG.
func (h *Handle) Ping(ctx context.Context) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := redis.String(h.do(ctx, "PING"))
	if err != nil {
		return false, err
	}
	return s == string(driver.StatusPONG), nil
}

// Select returns true on OK.
func (h *Handle) Select(ctx context.Context, db int) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := redis.String(h.do(ctx, "SELECT", db))
	if err != nil {
		return false, err
	}
	return s == string(driver.StatusOK), nil
}

// ClientList issues CLIENT LIST.
func (h *Handle) ClientList(ctx context.Context) ([]driver.Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	raw, err := redis.String(h.do(ctx, "CLIENT", "LIST"))
	if err != nil {
		return nil, err
	}
	return driver.ParseClientList(raw), nil
}

// ClientID issues CLIENT ID.
func (h *Handle) ClientID(ctx context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return redis.Int64(h.do(ctx, "CLIENT", "ID"))
}

// Persistent reports the identity's persistence flag.
func (h *Handle) Persistent() bool {
	return h.id.Persistent
}

// Identify returns driver.FamilyRedigo.
func (h *Handle) Identify() driver.Family {
	return driver.FamilyRedigo
}

// ClosePersistent closes every persistent connection this family holds.
func ClosePersistent() error {
	var errs []error
	for _, c := range persistent.Drain() {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

var _ driver.Handle = (*Handle)(nil)
