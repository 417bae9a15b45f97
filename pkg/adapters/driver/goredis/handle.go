// Package goredis is the go-redis driver family.
package goredis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/apperrors"
	"github.com/kvgate/kvgate/pkg/config"
	"github.com/kvgate/kvgate/pkg/identity"
	"github.com/kvgate/kvgate/pkg/logging"
)

// socket is one physical connection: a single-connection client plus the
// sticky Conn every command goes through.
type socket struct {
	client *redis.Client
	conn   *redis.Conn
}

func (s *socket) close() error {
	return errors.Join(s.conn.Close(), s.client.Close())
}

// persistent holds sockets that survive pool teardown, keyed by the tagged
// identity fingerprint.
var persistent = driver.NewSockets[*socket]()

// Handle implements driver.Handle on go-redis.
type Handle struct {
	mu     sync.Mutex
	id     identity.Identity
	opts   driver.Options
	logger *zap.Logger
	sock   *socket
}

// New returns an unconnected handle.
func New(id identity.Identity, opts driver.Options, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{
		id:     id,
		opts:   opts.WithDefaults(),
		logger: logger.With(zap.String("family", string(driver.FamilyGoRedis))),
	}
}

// NewFactory returns a factory producing go-redis handles.
func NewFactory(opts driver.Options, logger *zap.Logger) driver.Factory {
	return driver.FactoryFunc(func(_ context.Context, id identity.Identity) (driver.Handle, error) {
		return New(id, opts, logger), nil
	})
}

func (h *Handle) redisOptions() *redis.Options {
	addr := h.id.Addr()
	host := h.id.Host
	if h.id.Scheme != identity.SchemeUnix {
		host = config.ResolveHostForDocker(h.id.Host)
		addr = net.JoinHostPort(host, strconv.Itoa(int(h.id.Port)))
	}

	opt := &redis.Options{
		Network:      h.id.Network(),
		Addr:         addr,
		Password:     h.id.Credential,
		DB:           0,
		Protocol:     2,
		DialTimeout:  h.opts.ConnectTimeout,
		ReadTimeout:  h.opts.ReadTimeout,
		WriteTimeout: h.opts.WriteTimeout,
		PoolSize:     1,
		MaxRetries:   -1,
	}
	if h.id.Scheme == identity.SchemeTLS {
		opt.TLSConfig = &tls.Config{
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: h.opts.TLSInsecureSkipVerify, //nolint:gosec // opt-in for self-signed test servers
		}
	}
	return opt
}

// Connect dials, authenticates and verifies the connection with a PING.
// A persistent handle first looks for a live socket left by an earlier pool.
func (h *Handle) Connect(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sock != nil {
		return true, nil
	}

	key := h.id.Fingerprint()
	if h.id.Persistent {
		if s, ok := persistent.Load(key); ok {
			if err := s.conn.Ping(ctx).Err(); err == nil {
				h.sock = s
				h.logger.Debug("reusing persistent socket", zap.String("name", h.id.PersistentName()))
				return true, nil
			}
			persistent.Delete(key)
			_ = s.close()
		}
	}

	client := redis.NewClient(h.redisOptions())
	s := &socket{client: client, conn: client.Conn()}
	if err := s.conn.Ping(ctx).Err(); err != nil {
		_ = s.close()
		return false, fmt.Errorf("connect to %s: %w", h.id, err)
	}

	if h.id.Persistent {
		if name := h.id.PersistentName(); name != "" {
			if err := s.conn.ClientSetName(ctx, name).Err(); err != nil {
				h.logger.Debug("client setname failed", zap.String("error", logging.SanitizeError(err)))
			}
		}
		persistent.Store(key, s)
	}

	h.sock = s
	h.logger.Debug("connected", zap.String("identity", h.id.String()))
	return true, nil
}

// Disconnect closes the socket, persistent or not.
func (h *Handle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sock == nil {
		return nil
	}
	if h.id.Persistent {
		persistent.Delete(h.id.Fingerprint())
	}
	err := h.sock.close()
	h.sock = nil
	return err
}

// IsConnected reports whether Connect succeeded and Disconnect was not called.
func (h *Handle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sock != nil
}

func (h *Handle) conn() (*redis.Conn, error) {
	if h.sock == nil {
		return nil, fmt.Errorf("%w: %s handle not connected", apperrors.ErrConnectionLost, driver.FamilyGoRedis)
	}
	return h.sock.conn, nil
}

// Ping returns a Status token.
func (h *Handle) Ping(ctx context.Context) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.conn()
	if err != nil {
		return nil, err
	}
	res, err := c.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	return driver.Status(res), nil
}

// Select returns a Status token.
func (h *Handle) Select(ctx context.Context, db int) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.conn()
	if err != nil {
		return nil, err
	}
	res, err := c.Select(ctx, db).Result()
	if err != nil {
		return nil, err
	}
	return driver.Status(res), nil
}

// ClientList issues CLIENT LIST.
func (h *Handle) ClientList(ctx context.Context) ([]driver.Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.conn()
	if err != nil {
		return nil, err
	}
	raw, err := c.ClientList(ctx).Result()
	if err != nil {
		return nil, err
	}
	return driver.ParseClientList(raw), nil
}

// ClientID issues CLIENT ID.
func (h *Handle) ClientID(ctx context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.conn()
	if err != nil {
		return 0, err
	}
	return c.ClientID(ctx).Result()
}

// Persistent reports the identity's persistence flag.
func (h *Handle) Persistent() bool {
	return h.id.Persistent
}

// Identify returns driver.FamilyGoRedis.
func (h *Handle) Identify() driver.Family {
	return driver.FamilyGoRedis
}

// ClosePersistent closes every persistent socket this family holds. Intended
// for final process exit and test cleanup; pool teardown never calls it.
func ClosePersistent() error {
	var errs []error
	for _, s := range persistent.Drain() {
		errs = append(errs, s.close())
	}
	return errors.Join(errs...)
}

var _ driver.Handle = (*Handle)(nil)
